package kb

import (
	"fmt"
	"log/slog"
	"sync"
)

// Tenant bundles the loaded, read-only artifacts for one tenant: the
// embedding-indexed fact store and the symbolic edge graph.
type Tenant struct {
	ID    string
	Store *Store
	Graph *Graph
}

// Registry loads tenant knowledge bases on first use and caches them.
// Loaded tenants are immutable; concurrent queries for different tenants
// hold independent artifact handles.
type Registry struct {
	dataDir string

	mu      sync.Mutex
	tenants map[string]*Tenant
	logger  *slog.Logger
}

// NewRegistry creates a Registry that resolves artifacts under dataDir.
func NewRegistry(dataDir string) *Registry {
	return &Registry{
		dataDir: dataDir,
		tenants: make(map[string]*Tenant),
		logger:  slog.Default(),
	}
}

// Load returns the knowledge base for the given tenant, opening and caching
// it on first access. A missing artifact is an error; the caller decides
// whether that fails the query.
func (r *Registry) Load(tenantID string) (*Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tenants[tenantID]; ok {
		return t, nil
	}

	path := ArtifactPath(r.dataDir, tenantID)
	store, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading knowledge base for tenant %s: %w", tenantID, err)
	}

	edges, err := store.Edges()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading edges for tenant %s: %w", tenantID, err)
	}

	t := &Tenant{ID: tenantID, Store: store, Graph: NewGraph(edges)}
	r.tenants[tenantID] = t

	count, _ := store.Count()
	r.logger.Info("knowledge base loaded",
		"tenant", tenantID, "facts", count, "edges", t.Graph.Len())
	return t, nil
}

// Close releases every cached artifact handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, t := range r.tenants {
		if err := t.Store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing artifact for tenant %s: %w", id, err)
		}
		delete(r.tenants, id)
	}
	return firstErr
}
