package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/payq/internal/knowledge"
	"github.com/kalambet/payq/internal/orchestrator"
	"github.com/kalambet/payq/internal/payment"
	"github.com/kalambet/payq/internal/workflow"
)

type validatorFunc func(ctx context.Context, txRef, payer string, useCredits bool) (bool, string)

func (f validatorFunc) Validate(ctx context.Context, txRef, payer string, useCredits bool) (bool, string) {
	return f(ctx, txRef, payer, useCredits)
}

type processorFunc func(ctx context.Context, question, tenantID string) knowledge.Response

func (f processorFunc) Process(ctx context.Context, question, tenantID string) knowledge.Response {
	return f(ctx, question, tenantID)
}

func acceptAll(context.Context, string, string, bool) (bool, string) {
	return true, "Payment validated"
}

func answerWith(answer string) processorFunc {
	return func(_ context.Context, _, tenantID string) knowledge.Response {
		return knowledge.Response{Success: true, Answer: answer, TenantID: tenantID}
	}
}

func testHandler(t *testing.T, v payment.Validator, p orchestrator.QueryProcessor, token string) http.Handler {
	t.Helper()
	store := workflow.NewStore()
	controller := orchestrator.NewController(store, v, p)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	controller.Run(ctx)

	facade := orchestrator.NewFacade(controller, store, orchestrator.FacadeConfig{Timeout: 5 * time.Second})
	return NewHandler(Deps{
		Facade: facade,
		Health: orchestrator.NewHealth("payq", "127.0.0.1:0"),
		Token:  token,
	})
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func queryBody() map[string]any {
	return map[string]any{
		"question":       "What is the capital of France?",
		"tenant_id":      "test_007",
		"payment_tx_ref": "0xabc",
		"payer_address":  "0x1111111111111111111111111111111111111111",
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := testHandler(t, validatorFunc(acceptAll), answerWith("x"), "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v", resp["status"])
	}
	if resp["service_name"] != "payq" {
		t.Errorf("service_name = %v", resp["service_name"])
	}
	if _, ok := resp["uptime_seconds"].(float64); !ok {
		t.Errorf("uptime_seconds missing or wrong type: %v", resp["uptime_seconds"])
	}
}

func TestSynchronousQuery(t *testing.T) {
	h := testHandler(t, validatorFunc(acceptAll), answerWith("The capital of France is Paris."), "")

	rec := postJSON(t, h, "/v1/query", queryBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if !strings.Contains(resp.Answer, "Paris") {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.TenantID != "test_007" {
		t.Errorf("tenant_id = %q", resp.TenantID)
	}
}

func TestSynchronousQueryPaymentRejected(t *testing.T) {
	rejecting := validatorFunc(func(context.Context, string, string, bool) (bool, string) {
		return false, "Sender mismatch: 0xaaa != 0xbbb"
	})
	h := testHandler(t, rejecting, answerWith("x"), "")

	rec := postJSON(t, h, "/v1/query", queryBody())
	var resp QueryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(resp.Error, "Sender mismatch") {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestQueryValidation(t *testing.T) {
	h := testHandler(t, validatorFunc(acceptAll), answerWith("x"), "")

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing question", map[string]any{"tenant_id": "t"}},
		{"missing tenant", map[string]any{"question": "q"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, h, "/v1/query", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSubmitAndPoll(t *testing.T) {
	h := testHandler(t, validatorFunc(acceptAll), answerWith("polled answer"), "")

	rec := postJSON(t, h, "/v1/queries", queryBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body.String())
	}
	var submitResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &submitResp); err != nil {
		t.Fatalf("decoding submit response: %v", err)
	}
	id := submitResp["query_id"]
	if id == "" {
		t.Fatal("expected a query_id")
	}
	if submitResp["status"] != "pending" {
		t.Errorf("status = %q", submitResp["status"])
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/queries/%s", id), nil)
		poll := httptest.NewRecorder()
		h.ServeHTTP(poll, req)
		if poll.Code != http.StatusOK {
			t.Fatalf("poll status = %d", poll.Code)
		}

		var status StatusResponse
		if err := json.Unmarshal(poll.Body.Bytes(), &status); err != nil {
			t.Fatalf("decoding poll response: %v", err)
		}
		switch status.Status {
		case "completed":
			if status.Result != "polled answer" {
				t.Errorf("result = %q", status.Result)
			}
			return
		case "failed":
			t.Fatalf("workflow failed: %q", status.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("workflow never completed")
}

func TestPollUnknownQueryID(t *testing.T) {
	h := testHandler(t, validatorFunc(acceptAll), answerWith("x"), "")

	req := httptest.NewRequest(http.MethodGet, "/v1/queries/never-submitted", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "not_found" {
		t.Errorf("status = %q, want not_found", resp.Status)
	}
	if resp.QueryID != "never-submitted" {
		t.Errorf("query_id = %q", resp.QueryID)
	}
}

func TestBearerAuthGuardsQueryEndpoints(t *testing.T) {
	h := testHandler(t, validatorFunc(acceptAll), answerWith("x"), "secret")

	rec := postJSON(t, h, "/v1/query", queryBody())
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	b, _ := json.Marshal(queryBody())
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(b))
	req.Header.Set("Authorization", "Bearer secret")
	authed := httptest.NewRecorder()
	h.ServeHTTP(authed, req)
	if authed.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", authed.Code)
	}

	// Health stays open.
	health := httptest.NewRecorder()
	h.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/health", nil))
	if health.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", health.Code)
	}
}
