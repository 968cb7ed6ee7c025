package orchestrator

import (
	"context"
	"time"

	"github.com/kalambet/payq/internal/workflow"
)

const (
	defaultAskTimeout   = 60 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// FacadeConfig tunes the synchronous wait.
type FacadeConfig struct {
	// Timeout is the hard deadline for a synchronous query.
	Timeout time.Duration
	// PollInterval is the store read interval in poll mode.
	PollInterval time.Duration
	// UsePolling selects the poll-loop compatibility mode instead of the
	// per-query waiter.
	UsePolling bool
}

// Facade turns the asynchronous workflow into one blocking call.
type Facade struct {
	controller *Controller
	store      *workflow.Store
	cfg        FacadeConfig
}

// NewFacade creates a Facade over the given controller and store.
func NewFacade(controller *Controller, store *workflow.Store, cfg FacadeConfig) *Facade {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAskTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Facade{controller: controller, store: store, cfg: cfg}
}

// AskResult is the synchronous query outcome returned to the caller.
type AskResult struct {
	Success        bool
	Answer         string
	TenantID       string
	Timestamp      time.Time
	Error          string
	ProcessingTime time.Duration
}

// Ask submits the request and blocks until the workflow settles or the
// deadline expires. On timeout it reports failure to the caller but sends no
// cancellation downstream; the workflow may still settle later and the store
// absorbs that quietly.
func (f *Facade) Ask(ctx context.Context, req workflow.Request) AskResult {
	id := f.controller.Submit(req)

	waitCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var wf workflow.Workflow
	var err error
	if f.cfg.UsePolling {
		wf, err = f.store.Poll(waitCtx, id, f.cfg.PollInterval)
	} else {
		wf, err = f.store.Await(waitCtx, id)
	}

	now := time.Now()
	if err != nil && !wf.Status.Terminal() {
		return AskResult{
			TenantID:  req.TenantID,
			Timestamp: now,
			Error:     "timeout",
		}
	}

	switch wf.Status {
	case workflow.StatusCompleted:
		return AskResult{
			Success:        true,
			Answer:         wf.Result.Answer,
			TenantID:       req.TenantID,
			Timestamp:      now,
			ProcessingTime: wf.Result.ProcessingTime,
		}
	case workflow.StatusFailed:
		return AskResult{
			TenantID:  req.TenantID,
			Timestamp: now,
			Error:     wf.Error,
		}
	default:
		return AskResult{
			TenantID:  req.TenantID,
			Timestamp: now,
			Error:     "timeout",
		}
	}
}

// Submit exposes fire-and-forget submission for the asynchronous API.
func (f *Facade) Submit(req workflow.Request) string {
	return f.controller.Submit(req)
}

// Status reads the current workflow state for polling callers.
func (f *Facade) Status(id string) (workflow.Workflow, error) {
	return f.store.Get(id)
}
