package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Update describes a status transition applied through Store.UpdateStatus.
// Result and Error are mutually exclusive; Progress is optional.
type Update struct {
	Status   Status
	Progress string
	Result   *Result
	Error    string
}

// Store is a concurrency-safe correlation store mapping query IDs to
// in-flight workflows. Updates use compare-and-update semantics per key:
// an update for an unknown or already-terminal ID, or one that would move
// status backwards, is a logged no-op. This makes duplicate and late
// responses from downstream actors idempotent.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger

	now func() time.Time // injectable for tests
}

type entry struct {
	wf   Workflow
	done chan struct{} // closed on terminal transition
}

// NewStore creates an empty correlation store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// Put registers a new workflow. An existing entry with the same ID is
// never overwritten; Put reports whether the workflow was stored.
func (s *Store) Put(wf Workflow) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[wf.ID]; exists {
		s.logger.Warn("duplicate workflow submission ignored", "query_id", wf.ID)
		return false
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = s.now()
	}
	if wf.Status == "" {
		wf.Status = StatusPending
	}
	s.entries[wf.ID] = &entry{wf: wf, done: make(chan struct{})}
	return true
}

// Get returns a copy of the workflow for the given ID, or ErrNotFound.
func (s *Store) Get(id string) (Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	return e.wf, nil
}

// UpdateStatus applies a forward status transition to the workflow with the
// given ID. It returns false (without error) when the ID is unknown, the
// workflow is already terminal, or the transition would move backwards.
// All of these are logged and otherwise ignored so that late or duplicate
// downstream responses cannot corrupt settled state.
func (s *Store) UpdateStatus(id string, u Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		s.logger.Warn("status update for unknown query dropped", "query_id", id, "status", u.Status)
		return false
	}
	if e.wf.Status.Terminal() {
		s.logger.Warn("status update for terminal query dropped",
			"query_id", id, "current", e.wf.Status, "update", u.Status)
		return false
	}
	if u.Status.rank() <= e.wf.Status.rank() && u.Status != e.wf.Status {
		s.logger.Warn("backwards status transition dropped",
			"query_id", id, "current", e.wf.Status, "update", u.Status)
		return false
	}

	e.wf.Status = u.Status
	if u.Progress != "" {
		e.wf.Progress = u.Progress
	}
	if u.Status.Terminal() {
		e.wf.DoneAt = s.now()
		if u.Status == StatusCompleted {
			e.wf.Result = u.Result
		} else {
			e.wf.Error = u.Error
		}
		close(e.done)
	}
	return true
}

// Await blocks until the workflow reaches a terminal state or ctx expires.
// It returns the workflow as observed at that moment; on ctx expiry the
// returned workflow may still be in flight. Unknown IDs fail immediately
// with ErrNotFound.
func (s *Store) Await(ctx context.Context, id string) (Workflow, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return Workflow{}, ErrNotFound
	}

	select {
	case <-e.done:
		return s.Get(id)
	case <-ctx.Done():
		wf, err := s.Get(id)
		if err != nil {
			return Workflow{}, ctx.Err()
		}
		return wf, ctx.Err()
	}
}

// Poll waits for a terminal state by repeatedly reading the store at the
// given interval. It is the compatibility fallback for Await and has the
// same contract.
func (s *Store) Poll(ctx context.Context, id string, interval time.Duration) (Workflow, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		wf, err := s.Get(id)
		if err != nil {
			return Workflow{}, err
		}
		if wf.Status.Terminal() {
			return wf, nil
		}

		select {
		case <-ctx.Done():
			return wf, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Evict removes entries whose retention window has elapsed: terminal
// entries older than retainTerminal since completion, and non-terminal
// orphans older than retainOrphaned since submission. It returns the number
// of entries removed. Downstream responses arriving for an evicted ID take
// the unknown-ID no-op path in UpdateStatus.
func (s *Store) Evict(retainTerminal, retainOrphaned time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.entries {
		switch {
		case e.wf.Status.Terminal():
			if now.Sub(e.wf.DoneAt) >= retainTerminal {
				delete(s.entries, id)
				removed++
			}
		default:
			if now.Sub(e.wf.CreatedAt) >= retainOrphaned {
				// The caller gave up long ago; close the waiter so any
				// straggling Await returns instead of leaking.
				close(e.done)
				delete(s.entries, id)
				removed++
				s.logger.Warn("orphaned workflow evicted", "query_id", id, "status", e.wf.Status)
			}
		}
	}
	return removed
}

// RunJanitor evicts expired entries at the given interval until ctx is
// cancelled.
func (s *Store) RunJanitor(ctx context.Context, interval, retainTerminal, retainOrphaned time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Evict(retainTerminal, retainOrphaned); n > 0 {
				s.logger.Debug("workflow entries evicted", "count", n)
			}
		}
	}
}

// List returns a copy of every tracked workflow, in no particular order.
func (s *Store) List() []Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Workflow, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.wf)
	}
	return out
}

// Len reports the number of tracked workflows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
