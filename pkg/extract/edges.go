package extract

import (
	"strings"

	"github.com/lbliii/sunwell-sub000/pkg/topology"
)

// Item is a candidate for concept-edge detection: any indexed piece of
// content with an identity.
type Item struct {
	ID      string
	Content string
}

// DefaultEdgeCandidates bounds pairwise comparison during edge
// detection so ingestion stays linear in practice.
const DefaultEdgeCandidates = 20

var edgeStop = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "to": {}, "of": {}, "and": {}, "in": {}, "that": {}, "it": {},
	"for": {}, "on": {}, "with": {}, "as": {}, "at": {}, "by": {}, "this": {},
	"i": {}, "we": {}, "you": {},
}

var negationMarkers = map[string]struct{}{
	"not": {}, "never": {}, "don't": {}, "doesn't": {}, "won't": {},
	"can't": {}, "however": {}, "instead": {}, "wrong": {}, "failed": {},
}

// ConceptEdges compares items pairwise and proposes typed edges from
// keyword overlap. The candidate set is truncated to maxCandidates
// (most recent last) to cap the quadratic comparison.
func ConceptEdges(items []Item, maxCandidates int) []topology.ConceptEdge {
	if maxCandidates <= 0 {
		maxCandidates = DefaultEdgeCandidates
	}
	if len(items) > maxCandidates {
		items = items[len(items)-maxCandidates:]
	}

	words := make([]map[string]struct{}, len(items))
	for i, it := range items {
		words[i] = contentWords(it.Content)
	}

	var edges []topology.ConceptEdge
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			overlap := 0
			for w := range words[i] {
				if _, ok := words[j][w]; ok {
					overlap++
				}
			}
			if overlap < 3 {
				continue
			}

			smaller := min(len(words[i]), len(words[j]))
			if smaller == 0 {
				continue
			}
			ratio := float64(overlap) / float64(smaller)
			if ratio < 0.3 {
				continue
			}

			rel := topology.RelationRelated
			if hasNegation(items[j].Content) != hasNegation(items[i].Content) {
				rel = topology.RelationContradicts
			} else if ratio >= 0.6 {
				rel = topology.RelationElaborates
			}

			edges = append(edges, topology.ConceptEdge{
				SourceID:   items[j].ID,
				TargetID:   items[i].ID,
				Relation:   rel,
				Confidence: ratio,
			})
		}
	}
	return edges
}

func contentWords(content string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(content)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if len(w) < 3 {
			continue
		}
		if _, stop := edgeStop[w]; !stop {
			out[w] = struct{}{}
		}
	}
	return out
}

func hasNegation(content string) bool {
	for _, w := range strings.Fields(strings.ToLower(content)) {
		if _, ok := negationMarkers[strings.Trim(w, ".,;:!?")]; ok {
			return true
		}
	}
	return false
}
