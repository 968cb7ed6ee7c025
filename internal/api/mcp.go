package api

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/payq/internal/knowledge"
)

// MCPProcessor abstracts the knowledge pipeline for the MCP layer. MCP
// queries run locally over stdio and are exempt from payment validation.
type MCPProcessor interface {
	Process(ctx context.Context, question, tenantID string) knowledge.Response
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Processor MCPProcessor
	// DefaultTenant is used when the tool call names no tenant.
	DefaultTenant string
}

// NewMCPServer creates an MCP server exposing the knowledge base to local
// clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"payq",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("payq: query a tenant's knowledge base with retrieval and graph reasoning."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_knowledge_base",
			mcp.WithDescription("Answer a natural-language question against a tenant's knowledge base."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("tenant", mcp.Description("Tenant identifier of the knowledge base")),
		),
		mcpAskKnowledgeBase(deps),
	)

	return s
}

func mcpAskKnowledgeBase(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		tenant := req.GetString("tenant", deps.DefaultTenant)
		if tenant == "" {
			return mcpError("tenant is required"), nil
		}

		resp := deps.Processor.Process(ctx, question, tenant)
		if !resp.Success {
			return mcpError(fmt.Sprintf("query failed: %s", resp.Err)), nil
		}

		return mcpText(resp.Answer), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
