package kb

import (
	"sort"

	"github.com/google/mangle/ast"
	"github.com/google/mangle/factstore"
)

// Graph is a read-only symbolic store of relation(subject, object) edges
// backed by a Mangle fact store. Each relation becomes a binary predicate;
// Forward and Inverse perform indexed lookups with one argument bound.
// A Graph is immutable once built and safe for concurrent readers.
type Graph struct {
	store factstore.SimpleInMemoryStore
	preds map[string]ast.PredicateSym
}

// NewGraph builds a Graph from the given edges.
func NewGraph(edges []Triple) *Graph {
	g := &Graph{
		store: factstore.NewSimpleInMemoryStore(),
		preds: make(map[string]ast.PredicateSym),
	}
	for _, e := range edges {
		sym, ok := g.preds[e.Relation]
		if !ok {
			sym = ast.PredicateSym{Symbol: e.Relation, Arity: 2}
			g.preds[e.Relation] = sym
		}
		g.store.Add(ast.Atom{
			Predicate: sym,
			Args:      []ast.BaseTerm{ast.String(e.Subject), ast.String(e.Object)},
		})
	}
	return g
}

// Forward returns every object o such that relation(subject, o) holds,
// sorted for deterministic output. An unknown relation yields nil.
func (g *Graph) Forward(relation, subject string) []string {
	return g.lookup(relation, 0, subject, 1)
}

// Inverse returns every subject s such that relation(s, object) holds,
// sorted for deterministic output.
func (g *Graph) Inverse(relation, object string) []string {
	return g.lookup(relation, 1, object, 0)
}

// lookup scans the facts of a relation predicate, matching the constant at
// boundIdx and collecting the argument at freeIdx.
func (g *Graph) lookup(relation string, boundIdx int, bound string, freeIdx int) []string {
	sym, ok := g.preds[relation]
	if !ok {
		return nil
	}

	var out []string
	_ = g.store.GetFacts(ast.NewQuery(sym), func(fact ast.Atom) error {
		if len(fact.Args) != 2 {
			return nil
		}
		b, ok := fact.Args[boundIdx].(ast.Constant)
		if !ok || b.Symbol != bound {
			return nil
		}
		if f, ok := fact.Args[freeIdx].(ast.Constant); ok {
			out = append(out, f.Symbol)
		}
		return nil
	})
	sort.Strings(out)
	return out
}

// Relations returns the distinct relation names present in the graph,
// sorted.
func (g *Graph) Relations() []string {
	names := make([]string, 0, len(g.preds))
	for name := range g.preds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports the number of edges held by the graph.
func (g *Graph) Len() int {
	return g.store.EstimateFactCount()
}
