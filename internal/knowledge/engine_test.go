package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/payq/internal/kb"
)

type mockEmbedder struct {
	embedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embedFunc(ctx, text)
}

type mockSynthesizer struct {
	synthesizeFunc func(ctx context.Context, prompt string) (string, error)
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, prompt string) (string, error) {
	return m.synthesizeFunc(ctx, prompt)
}

type mockTenants struct {
	loadFunc func(tenantID string) (*kb.Tenant, error)
}

func (m *mockTenants) Load(tenantID string) (*kb.Tenant, error) {
	return m.loadFunc(tenantID)
}

// testTenant builds an in-memory tenant whose facts use axis-aligned
// embeddings so similarity scores in tests are exact.
func testTenant(t *testing.T, records []kb.FactRecord) *kb.Tenant {
	t.Helper()
	store, err := kb.CreateInMemory()
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if len(records) > 0 {
		if err := store.InsertFacts(records); err != nil {
			t.Fatalf("inserting facts: %v", err)
		}
	}
	triples := make([]kb.Triple, len(records))
	for i, r := range records {
		triples[i] = r.Triple
	}
	return &kb.Tenant{ID: "acme", Store: store, Graph: kb.NewGraph(triples)}
}

func capitalFacts() []kb.FactRecord {
	return []kb.FactRecord{
		{ID: "1", Text: "paris is capital of france", Embedding: []float32{1, 0, 0},
			Triple: kb.Triple{Subject: "paris", Relation: "is-capital-of", Object: "france"}},
		{ID: "2", Text: "berlin is capital of germany", Embedding: []float32{0.7, 0.7, 0},
			Triple: kb.Triple{Subject: "berlin", Relation: "is-capital-of", Object: "germany"}},
		{ID: "3", Text: "tokyo is capital of japan", Embedding: []float32{0, 0, 1},
			Triple: kb.Triple{Subject: "tokyo", Relation: "is-capital-of", Object: "japan"}},
	}
}

func newTestEngine(t *testing.T, tenant *kb.Tenant, synth Synthesizer) *Engine {
	t.Helper()
	embedder := &mockEmbedder{
		embedFunc: func(context.Context, string) ([]float32, error) {
			return []float32{1, 0, 0}, nil
		},
	}
	tenants := &mockTenants{
		loadFunc: func(string) (*kb.Tenant, error) { return tenant, nil },
	}
	if synth == nil {
		synth = &mockSynthesizer{
			synthesizeFunc: func(_ context.Context, _ string) (string, error) {
				return "synthesized answer", nil
			},
		}
	}
	return NewEngine(embedder, synth, tenants, Config{})
}

func TestFindRelevantFactsThreshold(t *testing.T) {
	tenant := testTenant(t, capitalFacts())
	e := newTestEngine(t, tenant, nil)

	// Query vector {1,0,0}: fact 1 scores 1.0, fact 2 ~0.7, fact 3 scores 0.
	facts, err := e.FindRelevantFacts(context.Background(), tenant, "what is the capital of france", 10, 0.25)
	if err != nil {
		t.Fatalf("finding facts: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts above threshold, got %d", len(facts))
	}
	if facts[0].ID != "1" || facts[1].ID != "2" {
		t.Errorf("unexpected order: %s, %s", facts[0].ID, facts[1].ID)
	}
	for _, f := range facts {
		if f.Score < 0.25 {
			t.Errorf("fact %s below threshold: %f", f.ID, f.Score)
		}
	}
}

func TestFindRelevantFactsCallerOverride(t *testing.T) {
	tenant := testTenant(t, capitalFacts())
	e := newTestEngine(t, tenant, nil)

	// A higher threshold drops the second fact.
	facts, err := e.FindRelevantFacts(context.Background(), tenant, "capital of france", 10, 0.9)
	if err != nil {
		t.Fatalf("finding facts: %v", err)
	}
	if len(facts) != 1 || facts[0].ID != "1" {
		t.Errorf("expected only fact 1, got %+v", facts)
	}
}

func TestProcessSuccess(t *testing.T) {
	tenant := testTenant(t, capitalFacts())
	var gotPrompt string
	synth := &mockSynthesizer{
		synthesizeFunc: func(_ context.Context, prompt string) (string, error) {
			gotPrompt = prompt
			return "Paris is the capital of France.", nil
		},
	}
	e := newTestEngine(t, tenant, synth)

	resp := e.Process(context.Background(), "What is the capital of France?", "acme")
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Err)
	}
	if resp.Answer != "Paris is the capital of France." {
		t.Errorf("unexpected answer: %q", resp.Answer)
	}
	if resp.TenantID != "acme" {
		t.Errorf("unexpected tenant: %q", resp.TenantID)
	}
	if !strings.Contains(gotPrompt, "What is the capital of France?") {
		t.Errorf("prompt missing question: %q", gotPrompt)
	}
	if !strings.Contains(gotPrompt, "paris is capital of france") {
		t.Errorf("prompt missing retrieved fact: %q", gotPrompt)
	}
	if !strings.Contains(gotPrompt, "is-capital-of: france") {
		t.Errorf("prompt missing graph deduction: %q", gotPrompt)
	}
}

func TestProcessEmptyRetrievalFallsBack(t *testing.T) {
	tenant := testTenant(t, nil)
	synthCalled := false
	synth := &mockSynthesizer{
		synthesizeFunc: func(context.Context, string) (string, error) {
			synthCalled = true
			return "", nil
		},
	}
	e := newTestEngine(t, tenant, synth)

	resp := e.Process(context.Background(), "anything", "acme")
	if !resp.Success {
		t.Fatalf("empty retrieval must not fail, got error %q", resp.Err)
	}
	if resp.Answer != FallbackAnswer {
		t.Errorf("expected fallback answer, got %q", resp.Answer)
	}
	if synthCalled {
		t.Error("synthesis must be skipped when retrieval is empty")
	}
}

func TestProcessSynthesisFailure(t *testing.T) {
	tenant := testTenant(t, capitalFacts())
	synth := &mockSynthesizer{
		synthesizeFunc: func(context.Context, string) (string, error) {
			return "", errors.New("model unavailable")
		},
	}
	e := newTestEngine(t, tenant, synth)

	resp := e.Process(context.Background(), "capital of france", "acme")
	if resp.Success {
		t.Fatal("expected failure when synthesis fails")
	}
	if !strings.Contains(resp.Err, "model unavailable") {
		t.Errorf("error should preserve the cause, got %q", resp.Err)
	}
}

func TestProcessUnknownTenant(t *testing.T) {
	e := NewEngine(
		&mockEmbedder{embedFunc: func(context.Context, string) ([]float32, error) { return []float32{1}, nil }},
		&mockSynthesizer{synthesizeFunc: func(context.Context, string) (string, error) { return "", nil }},
		&mockTenants{loadFunc: func(string) (*kb.Tenant, error) { return nil, errors.New("artifact not found") }},
		Config{},
	)

	resp := e.Process(context.Background(), "anything", "ghost")
	if resp.Success {
		t.Fatal("expected failure for unknown tenant")
	}
	if !strings.Contains(resp.Err, "ghost") {
		t.Errorf("error should name the tenant, got %q", resp.Err)
	}
}

func TestProcessEmbeddingFailure(t *testing.T) {
	tenant := testTenant(t, capitalFacts())
	e := NewEngine(
		&mockEmbedder{embedFunc: func(context.Context, string) ([]float32, error) {
			return nil, errors.New("engine down")
		}},
		&mockSynthesizer{synthesizeFunc: func(context.Context, string) (string, error) { return "", nil }},
		&mockTenants{loadFunc: func(string) (*kb.Tenant, error) { return tenant, nil }},
		Config{},
	)

	resp := e.Process(context.Background(), "anything", "acme")
	if resp.Success {
		t.Fatal("expected failure when embedding fails")
	}
}
