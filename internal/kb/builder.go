package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ContentEmbedder generates embeddings for fact text.
type ContentEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Builder packs structured triples into a tenant artifact: each triple is
// rendered to a natural-language fact line, embedded, and written to the
// facts table; the raw triples are written to the edges table for the
// symbolic graph. Triple extraction from raw text happens upstream and is
// not part of this tool.
type Builder struct {
	embedder ContentEmbedder
	logger   *slog.Logger
}

// NewBuilder creates a Builder using the given embedder.
func NewBuilder(embedder ContentEmbedder) *Builder {
	return &Builder{embedder: embedder, logger: slog.Default()}
}

// triplesFile is the on-disk input format for `payq kb build`.
type triplesFile struct {
	Triples []Triple `json:"triples"`
}

// ReadTriples parses a triples JSON file. Both the wrapped object form
// {"triples": [...]} and a bare array are accepted.
func ReadTriples(path string) ([]Triple, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading triples file: %w", err)
	}

	var wrapped triplesFile
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Triples) > 0 {
		return wrapped.Triples, nil
	}

	var bare []Triple
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("parsing triples file: %w", err)
	}
	return bare, nil
}

// FactText renders a triple as the natural-language line that gets
// embedded. Hyphenated identifiers read as words.
func FactText(t Triple) string {
	dehyphen := func(s string) string { return strings.ReplaceAll(s, "-", " ") }
	return fmt.Sprintf("%s %s %s", dehyphen(t.Subject), dehyphen(t.Relation), dehyphen(t.Object))
}

// Build writes the artifact for one tenant at path from the given triples.
// Embeddings are generated with bounded concurrency.
func (b *Builder) Build(ctx context.Context, path string, triples []Triple) error {
	if len(triples) == 0 {
		return fmt.Errorf("no triples to build from")
	}

	records := make([]FactRecord, len(triples))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, t := range triples {
		g.Go(func() error {
			text := FactText(t)
			vec, err := b.embedder.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding fact %d: %w", i, err)
			}
			records[i] = FactRecord{
				ID:        uuid.NewString(),
				Text:      text,
				Embedding: vec,
				Triple:    t,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	store, err := Create(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.InsertFacts(records); err != nil {
		return fmt.Errorf("writing facts: %w", err)
	}
	if err := store.InsertEdges(triples); err != nil {
		return fmt.Errorf("writing edges: %w", err)
	}

	b.logger.Info("knowledge base artifact built", "path", path, "facts", len(records))
	return nil
}
