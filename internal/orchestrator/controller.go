// Package orchestrator sequences the payment gate and the knowledge engine
// for each submitted query. The controller and its two workers are
// independent actors: each owns an inbox channel and processes one message
// at a time, correlated solely by query ID through the workflow store.
// Delivery is at-most-once; handlers are idempotent per query ID, so a lost
// message surfaces as a facade timeout rather than a silent hang.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/payq/internal/knowledge"
	"github.com/kalambet/payq/internal/payment"
	"github.com/kalambet/payq/internal/workflow"
)

const defaultInboxSize = 64

// QueryProcessor runs the retrieval and reasoning pipeline for one question.
type QueryProcessor interface {
	Process(ctx context.Context, question, tenantID string) knowledge.Response
}

// Controller owns the per-query state machine. It reacts to worker
// responses and advances the corresponding workflow in the store.
type Controller struct {
	store     *workflow.Store
	validator payment.Validator
	processor QueryProcessor
	logger    *slog.Logger

	inbox          chan queryMsg
	paymentInbox   chan PaymentValidationRequest
	knowledgeInbox chan KnowledgeQueryRequest
}

// NewController creates a Controller wired to the given store, payment
// validator, and knowledge processor. Run must be called before Submit.
func NewController(store *workflow.Store, validator payment.Validator, processor QueryProcessor) *Controller {
	return &Controller{
		store:          store,
		validator:      validator,
		processor:      processor,
		logger:         slog.Default(),
		inbox:          make(chan queryMsg, defaultInboxSize),
		paymentInbox:   make(chan PaymentValidationRequest, defaultInboxSize),
		knowledgeInbox: make(chan KnowledgeQueryRequest, defaultInboxSize),
	}
}

// Run starts the controller and worker actors. They stop when ctx is
// cancelled; in-flight messages are dropped at that point.
func (c *Controller) Run(ctx context.Context) {
	go c.controllerLoop(ctx)
	go c.paymentLoop(ctx)
	go c.knowledgeLoop(ctx)
}

// Submit registers a new workflow for the request and dispatches payment
// validation. It returns the generated query ID immediately; the caller
// observes the outcome through the store.
func (c *Controller) Submit(req workflow.Request) string {
	id := uuid.NewString()
	c.store.Put(workflow.Workflow{
		ID:       id,
		Status:   workflow.StatusPending,
		Progress: "Validating payment",
		Request:  req,
	})
	c.logger.Info("query submitted", "query_id", id, "tenant", req.TenantID)

	msg := PaymentValidationRequest{
		QueryID:      id,
		TxRef:        req.PaymentTxRef,
		PayerAddress: req.PayerAddress,
		UseCredits:   req.UseCredits,
	}
	select {
	case c.paymentInbox <- msg:
	default:
		// A full inbox is a dispatch failure, never a silent block.
		c.fail(id, "failed to dispatch payment validation request")
	}
	return id
}

func (c *Controller) controllerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.inbox:
			switch m := msg.(type) {
			case PaymentValidationResponse:
				c.handlePaymentResponse(m)
			case KnowledgeQueryResponse:
				c.handleKnowledgeResponse(m)
			default:
				c.logger.Warn("unexpected message in controller inbox", "query_id", msg.queryID())
			}
		}
	}
}

func (c *Controller) paymentLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.paymentInbox:
			ok, reason := c.validator.Validate(ctx, req.TxRef, req.PayerAddress, req.UseCredits)
			c.send(ctx, PaymentValidationResponse{QueryID: req.QueryID, OK: ok, Reason: reason})
		}
	}
}

func (c *Controller) knowledgeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.knowledgeInbox:
			resp := c.processor.Process(ctx, req.Question, req.TenantID)
			c.send(ctx, KnowledgeQueryResponse{
				QueryID: req.QueryID,
				Success: resp.Success,
				Answer:  resp.Answer,
				Err:     resp.Err,
			})
		}
	}
}

// send delivers a worker response to the controller inbox.
func (c *Controller) send(ctx context.Context, msg queryMsg) {
	select {
	case c.inbox <- msg:
	case <-ctx.Done():
	}
}

// handlePaymentResponse advances pending workflows. A rejection carries the
// gate's reason verbatim; an acceptance dispatches the knowledge request and
// marks the workflow processing.
func (c *Controller) handlePaymentResponse(m PaymentValidationResponse) {
	if !m.OK {
		c.store.UpdateStatus(m.QueryID, workflow.Update{
			Status: workflow.StatusFailed,
			Error:  m.Reason,
		})
		return
	}

	if !c.store.UpdateStatus(m.QueryID, workflow.Update{
		Status:   workflow.StatusPaymentValidated,
		Progress: "Payment validated",
	}) {
		// Unknown or already-settled query; nothing to dispatch.
		return
	}

	wf, err := c.store.Get(m.QueryID)
	if err != nil {
		c.logger.Warn("workflow evicted before knowledge dispatch", "query_id", m.QueryID)
		return
	}

	msg := KnowledgeQueryRequest{
		QueryID:  m.QueryID,
		Question: wf.Request.Question,
		TenantID: wf.Request.TenantID,
	}
	select {
	case c.knowledgeInbox <- msg:
		c.store.UpdateStatus(m.QueryID, workflow.Update{
			Status:   workflow.StatusProcessing,
			Progress: "Searching knowledge base",
		})
	default:
		c.fail(m.QueryID, "failed to dispatch knowledge query request")
	}
}

// handleKnowledgeResponse settles processing workflows. Processing time is
// measured from submission so the caller sees end-to-end latency.
func (c *Controller) handleKnowledgeResponse(m KnowledgeQueryResponse) {
	if !m.Success {
		c.fail(m.QueryID, m.Err)
		return
	}

	wf, err := c.store.Get(m.QueryID)
	if err != nil {
		c.logger.Warn("knowledge response for unknown query dropped", "query_id", m.QueryID)
		return
	}

	c.store.UpdateStatus(m.QueryID, workflow.Update{
		Status:   workflow.StatusCompleted,
		Progress: "Completed",
		Result: &workflow.Result{
			Answer:         m.Answer,
			ProcessingTime: wf.Elapsed(time.Now()),
		},
	})
}

func (c *Controller) fail(id, reason string) {
	c.store.UpdateStatus(id, workflow.Update{
		Status: workflow.StatusFailed,
		Error:  reason,
	})
}
