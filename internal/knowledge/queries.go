package knowledge

import (
	"strings"

	"github.com/kalambet/payq/internal/kb"
)

// graphQuery is one lookup to run against the fact graph. Forward queries
// bind the subject; inverse queries bind the object.
type graphQuery struct {
	Relation string
	Entity   string
	Inverse  bool
}

// GraphResult is one structured deduction from the fact graph.
type GraphResult struct {
	Entity   string
	Relation string
	Value    string
}

// generateGraphQueries derives lookups from the retrieved facts: the cross
// product of distinct subjects and relations as forward queries, plus inverse
// queries over a smaller cutoff when the question asks who/what/which.
// Entities and relations keep first-seen order over the score-sorted facts so
// the generated set is reproducible for a given retrieval.
func generateGraphQueries(facts []kb.ScoredFact, question string, cfg Config) []graphQuery {
	var entities, relations []string
	seenEntity := make(map[string]bool)
	seenRelation := make(map[string]bool)
	for _, f := range facts {
		if !seenEntity[f.Triple.Subject] {
			seenEntity[f.Triple.Subject] = true
			entities = append(entities, f.Triple.Subject)
		}
		if !seenRelation[f.Triple.Relation] {
			seenRelation[f.Triple.Relation] = true
			relations = append(relations, f.Triple.Relation)
		}
	}
	if len(entities) > cfg.MaxEntities {
		entities = entities[:cfg.MaxEntities]
	}
	if len(relations) > cfg.MaxRelations {
		relations = relations[:cfg.MaxRelations]
	}

	var queries []graphQuery
	for _, entity := range entities {
		for _, relation := range relations {
			queries = append(queries, graphQuery{Relation: relation, Entity: entity})
		}
	}

	if hasInterrogativeCue(question) {
		inverseEntities := entities
		if len(inverseEntities) > cfg.MaxInverseEntities {
			inverseEntities = inverseEntities[:cfg.MaxInverseEntities]
		}
		for _, relation := range relations {
			for _, entity := range inverseEntities {
				queries = append(queries, graphQuery{Relation: relation, Entity: entity, Inverse: true})
			}
		}
	}

	return queries
}

// hasInterrogativeCue reports whether the question contains a word that
// suggests asking for the subject of a relation rather than its object.
func hasInterrogativeCue(question string) bool {
	for _, word := range strings.Fields(strings.ToLower(question)) {
		switch strings.Trim(word, ".,?!:;\"'") {
		case "who", "what", "which":
			return true
		}
	}
	return false
}

// executeGraphQueries runs each query against the graph and aggregates the
// non-empty results. A query with no matching edge is skipped silently; a
// single bad query never aborts the pass.
func (e *Engine) executeGraphQueries(graph *kb.Graph, queries []graphQuery) []GraphResult {
	var results []GraphResult
	for _, q := range queries {
		var values []string
		if q.Inverse {
			values = graph.Inverse(q.Relation, q.Entity)
		} else {
			values = graph.Forward(q.Relation, q.Entity)
		}
		if len(values) == 0 {
			e.logger.Debug("graph query had no matches", "relation", q.Relation, "entity", q.Entity, "inverse", q.Inverse)
			continue
		}
		results = append(results, GraphResult{
			Entity:   q.Entity,
			Relation: q.Relation,
			Value:    strings.Join(values, ", "),
		})
	}
	return results
}
