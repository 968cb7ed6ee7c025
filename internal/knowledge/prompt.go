package knowledge

import (
	"fmt"
	"strings"

	"github.com/kalambet/payq/internal/kb"
)

const (
	maxPromptFacts      = 5
	maxDeductions       = 10
	maxFactsPerEntity   = 5
	noDeductionsMessage = "No specific information found in the knowledge graph."
)

// buildPrompt assembles the synthesis prompt from the question, the
// top-ranked retrieved facts, and the structured graph deductions grouped
// per entity.
func buildPrompt(question string, facts []kb.ScoredFact, results []GraphResult) string {
	var sb strings.Builder
	sb.WriteString("You are an intelligent assistant providing natural answers based on facts.\n\n")
	fmt.Fprintf(&sb, "Question: %s\n", question)

	if len(facts) > 0 {
		sb.WriteString("\n[Retrieved Context]\n")
		for i, f := range facts {
			if i >= maxPromptFacts {
				break
			}
			fmt.Fprintf(&sb, "(Score: %.2f) %s\n", f.Score, f.Text)
		}
	}

	fmt.Fprintf(&sb, "\nFacts: %s\n", formatDeductions(results))
	sb.WriteString("\nProvide a natural, conversational answer incorporating these facts.\n\nAnswer:")
	return sb.String()
}

// formatDeductions groups graph results by entity and renders each group as
// "Entity: relation: value, ...". Group order follows first appearance in
// results so the rendering is deterministic.
func formatDeductions(results []GraphResult) string {
	if len(results) == 0 {
		return noDeductionsMessage
	}

	var order []string
	groups := make(map[string][]string)
	for _, r := range results {
		if _, ok := groups[r.Entity]; !ok {
			order = append(order, r.Entity)
		}
		groups[r.Entity] = append(groups[r.Entity], fmt.Sprintf("%s: %s", r.Relation, r.Value))
	}

	var deductions []string
	for _, entity := range order {
		if len(deductions) >= maxDeductions {
			break
		}
		entries := groups[entity]
		if len(entries) > maxFactsPerEntity {
			entries = entries[:maxFactsPerEntity]
		}
		deductions = append(deductions, fmt.Sprintf("%s: %s", readableEntity(entity), strings.Join(entries, ", ")))
	}

	return strings.Join(deductions, " | ")
}

// readableEntity turns a hyphenated identifier into title-cased words.
func readableEntity(entity string) string {
	words := strings.Split(entity, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
