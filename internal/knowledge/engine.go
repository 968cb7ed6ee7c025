// Package knowledge implements the retrieval and reasoning pipeline: embed a
// question, search the tenant's fact store, derive graph queries from the
// retrieved facts, execute them against the fact graph, and synthesize a
// natural-language answer from the collected evidence.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/payq/internal/kb"
)

// FallbackAnswer is returned when retrieval finds no relevant facts. An empty
// retrieval is a valid outcome, not a failure.
const FallbackAnswer = "I couldn't find relevant information for your query in the knowledge base."

// Embedder generates an embedding vector for a question.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Synthesizer turns an evidence prompt into a natural-language answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, prompt string) (string, error)
}

// TenantLoader resolves a tenant ID to its loaded knowledge-base artifact.
type TenantLoader interface {
	Load(tenantID string) (*kb.Tenant, error)
}

// Config bounds the retrieval and graph-query passes. The cutoffs keep query
// fan-out small regardless of how many facts retrieval returns.
type Config struct {
	// Threshold is the minimum cosine similarity for a retrieved fact to be
	// kept. Callers may override per call within [0.2, 0.3].
	Threshold float32
	// TopK is the number of nearest-neighbor candidates fetched before
	// threshold filtering.
	TopK int
	// MaxEntities caps distinct subjects used for forward graph queries.
	MaxEntities int
	// MaxRelations caps distinct relations used for graph queries.
	MaxRelations int
	// MaxInverseEntities caps entities used for inverse graph queries.
	MaxInverseEntities int
}

// DefaultConfig returns the standard pipeline cutoffs.
func DefaultConfig() Config {
	return Config{
		Threshold:          0.25,
		TopK:               15,
		MaxEntities:        5,
		MaxRelations:       3,
		MaxInverseEntities: 2,
	}
}

// Response is the pipeline outcome for a single question.
type Response struct {
	Success        bool
	Answer         string
	TenantID       string
	ProcessingTime time.Duration
	Err            string
}

// Engine runs the full pipeline for one question at a time.
type Engine struct {
	embedder    Embedder
	synthesizer Synthesizer
	tenants     TenantLoader
	cfg         Config
	logger      *slog.Logger
}

// NewEngine creates an Engine. Zero-valued Config fields fall back to
// DefaultConfig.
func NewEngine(embedder Embedder, synthesizer Synthesizer, tenants TenantLoader, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MaxEntities <= 0 {
		cfg.MaxEntities = def.MaxEntities
	}
	if cfg.MaxRelations <= 0 {
		cfg.MaxRelations = def.MaxRelations
	}
	if cfg.MaxInverseEntities <= 0 {
		cfg.MaxInverseEntities = def.MaxInverseEntities
	}
	return &Engine{
		embedder:    embedder,
		synthesizer: synthesizer,
		tenants:     tenants,
		cfg:         cfg,
		logger:      slog.Default(),
	}
}

// FindRelevantFacts embeds the question and returns facts scoring at or above
// threshold, in descending-score order. A threshold <= 0 uses the configured
// default. An empty result is valid and signals no relevant knowledge.
func (e *Engine) FindRelevantFacts(ctx context.Context, tenant *kb.Tenant, question string, topK int, threshold float32) ([]kb.ScoredFact, error) {
	if threshold <= 0 {
		threshold = e.cfg.Threshold
	}
	if topK <= 0 {
		topK = e.cfg.TopK
	}

	vec, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	scored, err := tenant.Store.Search(vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching facts: %w", err)
	}

	// Results arrive sorted by descending score; threshold filtering keeps
	// that order.
	var relevant []kb.ScoredFact
	for _, s := range scored {
		if s.Score >= threshold {
			relevant = append(relevant, s)
		}
	}

	e.logger.Debug("relevant facts found", "question", question, "candidates", len(scored), "kept", len(relevant))
	return relevant, nil
}

// Process runs the complete pipeline for a question against one tenant's
// knowledge base. Empty retrieval yields a successful response with the
// fallback answer; only synthesis or infrastructure failures are reported as
// unsuccessful.
func (e *Engine) Process(ctx context.Context, question, tenantID string) Response {
	start := time.Now()
	fail := func(err error) Response {
		e.logger.Error("query pipeline failed", "tenant", tenantID, "error", err)
		return Response{TenantID: tenantID, ProcessingTime: time.Since(start), Err: err.Error()}
	}

	tenant, err := e.tenants.Load(tenantID)
	if err != nil {
		return fail(fmt.Errorf("loading tenant %q: %w", tenantID, err))
	}

	facts, err := e.FindRelevantFacts(ctx, tenant, question, e.cfg.TopK, e.cfg.Threshold)
	if err != nil {
		return fail(err)
	}
	if len(facts) == 0 {
		e.logger.Info("no relevant facts", "tenant", tenantID, "question", question)
		return Response{
			Success:        true,
			Answer:         FallbackAnswer,
			TenantID:       tenantID,
			ProcessingTime: time.Since(start),
		}
	}

	queries := generateGraphQueries(facts, question, e.cfg)
	results := e.executeGraphQueries(tenant.Graph, queries)

	prompt := buildPrompt(question, facts, results)
	answer, err := e.synthesizer.Synthesize(ctx, prompt)
	if err != nil {
		return fail(fmt.Errorf("synthesizing answer: %w", err))
	}

	e.logger.Info("query answered",
		"tenant", tenantID,
		"facts", len(facts),
		"graph_results", len(results),
		"elapsed", time.Since(start))

	return Response{
		Success:        true,
		Answer:         answer,
		TenantID:       tenantID,
		ProcessingTime: time.Since(start),
	}
}
