// Package workflow defines the per-query orchestration state and the
// correlation store that tracks it. A Workflow is created when a query is
// submitted and advances through a forward-only status sequence until it
// reaches a terminal state.
package workflow

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested workflow does not exist.
var ErrNotFound = errors.New("not found")

// Status is the lifecycle stage of a query workflow.
type Status string

const (
	StatusPending          Status = "pending"
	StatusPaymentValidated Status = "payment_validated"
	StatusProcessing       Status = "processing"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Terminal reports whether the status is final. A terminal workflow's
// result and error are immutable.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses so that transitions can only move forward.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusPaymentValidated:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	}
	return -1
}

// Request is the immutable snapshot of a submitted query.
type Request struct {
	Question     string
	TenantID     string
	PayerAddress string
	PaymentTxRef string
	UseCredits   bool
}

// Result carries the final answer for a completed workflow.
type Result struct {
	Answer         string
	ProcessingTime time.Duration
}

// Workflow is the correlation-store entry for a single query. All fields
// except Status, Progress, Result, Error, and DoneAt are set at submission
// and never change.
type Workflow struct {
	ID        string
	Status    Status
	Progress  string
	Request   Request
	Result    *Result
	Error     string
	CreatedAt time.Time
	DoneAt    time.Time
}

// Elapsed returns processing time measured from submission.
func (w *Workflow) Elapsed(now time.Time) time.Duration {
	return now.Sub(w.CreatedAt)
}
