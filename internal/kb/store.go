// Package kb loads and queries per-tenant knowledge-base artifacts: an
// embedding-indexed fact store and a symbolic subject-relation-object edge
// graph. Artifacts are produced offline by `payq kb build` and are treated
// as read-only for the lifetime of a query.
package kb

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Triple is a single subject-relation-object statement.
type Triple struct {
	Subject  string `json:"subject"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

// FactRecord is one ingested fact: its natural-language rendering, its
// embedding, and the structured triple it was derived from. Immutable after
// artifact load.
type FactRecord struct {
	ID        string
	Text      string
	Embedding []float32
	Triple    Triple
}

// ScoredFact is a FactRecord with a cosine similarity score attached.
type ScoredFact struct {
	FactRecord
	Score float32
}

// Store provides brute-force cosine similarity search over the facts table
// of a knowledge-base artifact.
type Store struct {
	db *sql.DB
}

// ArtifactPath returns the canonical artifact filename for a tenant.
func ArtifactPath(dataDir, tenantID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("kb_%s.db", tenantID))
}

// Open opens an existing artifact for querying. The artifact must have been
// created by a Builder; Open fails if the file does not exist.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("knowledge base artifact %s: %w", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging artifact: %w", err)
	}
	db.SetMaxOpenConns(1)

	return &Store{db: db}, nil
}

// Create creates a new, empty artifact at path, replacing any existing file.
// Used by the Builder only.
func Create(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale artifact: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("creating artifact: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// CreateInMemory creates an empty in-memory artifact. Used by tests.
func CreateInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("creating in-memory artifact: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id        TEXT PRIMARY KEY,
			text      TEXT NOT NULL,
			embedding BLOB NOT NULL,
			subject   TEXT NOT NULL,
			relation  TEXT NOT NULL,
			object    TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS edges (
			relation TEXT NOT NULL,
			subject  TEXT NOT NULL,
			object   TEXT NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("creating artifact schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertFacts writes fact records in a single transaction.
func (s *Store) InsertFacts(records []FactRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO facts (id, text, embedding, subject, relation, object)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob := encodeFloat32s(r.Embedding)
		if _, err := stmt.Exec(r.ID, r.Text, blob, r.Triple.Subject, r.Triple.Relation, r.Triple.Object); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting fact %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// InsertEdges writes graph edges in a single transaction.
func (s *Store) InsertEdges(edges []Triple) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO edges (relation, subject, object) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.Exec(e.Relation, e.Subject, e.Object); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting edge (%s %s %s): %w", e.Relation, e.Subject, e.Object, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Search.
// Full records are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search over all facts,
// returning the top-K most similar records sorted by descending score.
func (s *Store) Search(vector []float32, topK int) ([]ScoredFact, error) {
	if topK <= 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.Query(`SELECT id, embedding FROM facts`)
	if err != nil {
		return nil, fmt.Errorf("querying facts: %w", err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the winners.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]any, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, text, embedding, subject, relation, object
		FROM facts WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.Query(fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K facts: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredFact
	for fullRows.Next() {
		var r FactRecord
		var blob []byte
		if err := fullRows.Scan(&r.ID, &r.Text, &blob, &r.Triple.Subject, &r.Triple.Relation, &r.Triple.Object); err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
		}
		r.Embedding = embedding
		results = append(results, ScoredFact{FactRecord: r, Score: scores[r.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating facts: %w", err)
	}

	// Sort by score descending (IN query doesn't preserve order).
	sortByScore(results)

	return results, nil
}

// Edges returns every graph edge in the artifact, ordered by rowid so the
// load order is stable across runs.
func (s *Store) Edges() ([]Triple, error) {
	rows, err := s.db.Query(`SELECT relation, subject, object FROM edges ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var edges []Triple
	for rows.Next() {
		var e Triple
		if err := rows.Scan(&e.Relation, &e.Subject, &e.Object); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Count returns the number of fact records in the artifact.
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM facts`).Scan(&count)
	return count, err
}

// sortByScore sorts ScoredFacts by Score descending. Used for small slices (topK).
func sortByScore(results []ScoredFact) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity between query (with precomputed norm)
// and candidate. Mismatched dimensions score zero.
func cosine(query, candidate []float32, queryNorm float32) float32 {
	if len(query) != len(candidate) {
		return 0
	}
	var dot, candSum float64
	for i := range query {
		dot += float64(query[i]) * float64(candidate[i])
		candSum += float64(candidate[i]) * float64(candidate[i])
	}
	candNorm := math.Sqrt(candSum)
	if candNorm == 0 || queryNorm == 0 {
		return 0
	}
	return float32(dot / (float64(queryNorm) * candNorm))
}

// idScoreHeap is a min-heap over idScore, keeping the lowest score at the
// root so it can be displaced by better candidates during the scan.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
