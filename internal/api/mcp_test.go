package api

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/payq/internal/knowledge"
)

func toolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = "ask_knowledge_base"
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected 1 content item, got %d", len(res.Content))
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return text.Text
}

func TestAskKnowledgeBaseTool(t *testing.T) {
	var gotQuestion, gotTenant string
	handler := mcpAskKnowledgeBase(MCPDeps{
		Processor: processorFunc(func(_ context.Context, question, tenantID string) knowledge.Response {
			gotQuestion, gotTenant = question, tenantID
			return knowledge.Response{Success: true, Answer: "Paris", TenantID: tenantID}
		}),
		DefaultTenant: "default_tenant",
	})

	res, err := handler(context.Background(), toolRequest(map[string]any{
		"question": "What is the capital of France?",
		"tenant":   "test_007",
	}))
	if err != nil {
		t.Fatalf("tool call: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(t, res))
	}
	if resultText(t, res) != "Paris" {
		t.Errorf("answer = %q", resultText(t, res))
	}
	if gotQuestion != "What is the capital of France?" || gotTenant != "test_007" {
		t.Errorf("processor got %q / %q", gotQuestion, gotTenant)
	}
}

func TestAskKnowledgeBaseDefaultTenant(t *testing.T) {
	handler := mcpAskKnowledgeBase(MCPDeps{
		Processor: processorFunc(func(_ context.Context, _, tenantID string) knowledge.Response {
			return knowledge.Response{Success: true, Answer: tenantID, TenantID: tenantID}
		}),
		DefaultTenant: "fallback",
	})

	res, err := handler(context.Background(), toolRequest(map[string]any{"question": "q"}))
	if err != nil {
		t.Fatalf("tool call: %v", err)
	}
	if resultText(t, res) != "fallback" {
		t.Errorf("tenant = %q, want fallback", resultText(t, res))
	}
}

func TestAskKnowledgeBaseMissingQuestion(t *testing.T) {
	handler := mcpAskKnowledgeBase(MCPDeps{
		Processor:     answerWith("x"),
		DefaultTenant: "t",
	})

	res, err := handler(context.Background(), toolRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("tool call: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for missing question")
	}
}

func TestAskKnowledgeBasePipelineFailure(t *testing.T) {
	handler := mcpAskKnowledgeBase(MCPDeps{
		Processor: processorFunc(func(context.Context, string, string) knowledge.Response {
			return knowledge.Response{Err: "loading knowledge base: artifact not found"}
		}),
		DefaultTenant: "t",
	})

	res, err := handler(context.Background(), toolRequest(map[string]any{"question": "q"}))
	if err != nil {
		t.Fatalf("tool call: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error when the pipeline fails")
	}
}
