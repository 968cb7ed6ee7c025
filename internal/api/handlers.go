// Package api exposes the query orchestration over HTTP and MCP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/payq/internal/orchestrator"
	"github.com/kalambet/payq/internal/workflow"
)

const maxRequestBodySize = 1 << 20 // 1MB

// QueryRequest is the JSON body for both the synchronous and the
// fire-and-forget query endpoints.
type QueryRequest struct {
	Question     string `json:"question"`
	TenantID     string `json:"tenant_id"`
	PaymentTxRef string `json:"payment_tx_ref"`
	PayerAddress string `json:"payer_address"`
	UseCredits   bool   `json:"use_credits"`
}

// QueryResponse is the synchronous query result.
type QueryResponse struct {
	Success          bool    `json:"success"`
	Answer           string  `json:"answer"`
	TenantID         string  `json:"tenant_id"`
	Timestamp        string  `json:"timestamp"`
	Error            string  `json:"error,omitempty"`
	ProcessingTimeMS float64 `json:"processing_time_ms,omitempty"`
}

// StatusResponse is the poll result for one query ID.
type StatusResponse struct {
	QueryID          string  `json:"query_id"`
	Status           string  `json:"status"`
	Progress         string  `json:"progress,omitempty"`
	Timestamp        string  `json:"timestamp"`
	Result           string  `json:"result,omitempty"`
	Error            string  `json:"error,omitempty"`
	ProcessingTimeMS float64 `json:"processing_time_ms,omitempty"`
}

// Deps holds the API layer's collaborators.
type Deps struct {
	Facade *orchestrator.Facade
	Health *orchestrator.Health
	// Token enables bearer authentication on the query endpoints when
	// non-empty. /health stays open.
	Token string
}

// NewHandler returns the HTTP handler for the query service.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/v1/query", handleQuery(deps))
		r.Post("/v1/queries", handleSubmit(deps))
		r.Get("/v1/queries/{id}", handleStatus(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Health.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":          snap.Status,
			"service_name":    snap.ServiceName,
			"service_address": snap.ServiceAddr,
			"timestamp":       snap.Timestamp.UTC().Format(time.RFC3339),
			"uptime_seconds":  snap.UptimeSeconds,
		})
	}
}

// handleQuery is the synchronous facade: submit, block until terminal or
// timeout, return the outcome in one response.
func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeQueryRequest(w, r)
		if !ok {
			return
		}

		res := deps.Facade.Ask(r.Context(), workflow.Request{
			Question:     req.Question,
			TenantID:     req.TenantID,
			PayerAddress: req.PayerAddress,
			PaymentTxRef: req.PaymentTxRef,
			UseCredits:   req.UseCredits,
		})

		resp := QueryResponse{
			Success:   res.Success,
			Answer:    res.Answer,
			TenantID:  res.TenantID,
			Timestamp: res.Timestamp.UTC().Format(time.RFC3339),
			Error:     res.Error,
		}
		if res.Success {
			resp.ProcessingTimeMS = float64(res.ProcessingTime.Milliseconds())
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// handleSubmit accepts a query without waiting for the outcome.
func handleSubmit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeQueryRequest(w, r)
		if !ok {
			return
		}

		id := deps.Facade.Submit(workflow.Request{
			Question:     req.Question,
			TenantID:     req.TenantID,
			PayerAddress: req.PayerAddress,
			PaymentTxRef: req.PaymentTxRef,
			UseCredits:   req.UseCredits,
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"query_id": id,
			"status":   string(workflow.StatusPending),
		})
	}
}

// handleStatus reports the current workflow state. An unknown ID is a
// regular response with status not_found, not an HTTP error.
func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		now := time.Now().UTC().Format(time.RFC3339)

		wf, err := deps.Facade.Status(id)
		if errors.Is(err, workflow.ErrNotFound) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(StatusResponse{
				QueryID:   id,
				Status:    "not_found",
				Timestamp: now,
			})
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read query status: %v", err)
			return
		}

		resp := StatusResponse{
			QueryID:   wf.ID,
			Status:    string(wf.Status),
			Progress:  wf.Progress,
			Timestamp: now,
			Error:     wf.Error,
		}
		if wf.Result != nil {
			resp.Result = wf.Result.Answer
			resp.ProcessingTimeMS = float64(wf.Result.ProcessingTime.Milliseconds())
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func decodeQueryRequest(w http.ResponseWriter, r *http.Request) (QueryRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return req, false
	}
	if req.Question == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
		return req, false
	}
	if req.TenantID == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "tenant_id is required")
		return req, false
	}
	return req, true
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
