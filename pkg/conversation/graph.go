package conversation

import (
	"strings"

	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

// Relation is a typed link between two learnings.
type Relation string

const (
	RelationDerivesFrom Relation = "derives_from"
	RelationSupports    Relation = "supports"
	RelationContradicts Relation = "contradicts"
	RelationElaborates  Relation = "elaborates"
	RelationRelated     Relation = "related"
)

// LearningEdge records that the source learning references the target.
type LearningEdge struct {
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	Relation Relation `json:"relation"`
	Weight   float64  `json:"weight"`
}

// LearningGraph tracks relationships between learnings. Learnings with
// many inbound references are knowledge hubs and rank higher in
// retrieval.
type LearningGraph struct {
	outgoing map[string][]LearningEdge
	incoming map[string][]LearningEdge
}

func NewLearningGraph() *LearningGraph {
	return &LearningGraph{
		outgoing: make(map[string][]LearningEdge),
		incoming: make(map[string][]LearningEdge),
	}
}

// AddEdge inserts an edge, ignoring exact (source, target, relation)
// duplicates.
func (g *LearningGraph) AddEdge(e LearningEdge) {
	for _, ex := range g.outgoing[e.SourceID] {
		if ex.TargetID == e.TargetID && ex.Relation == e.Relation {
			return
		}
	}
	g.outgoing[e.SourceID] = append(g.outgoing[e.SourceID], e)
	g.incoming[e.TargetID] = append(g.incoming[e.TargetID], e)
}

// RemoveLearning drops a learning and every edge touching it.
func (g *LearningGraph) RemoveLearning(id string) {
	for _, e := range g.outgoing[id] {
		g.incoming[e.TargetID] = dropEdges(g.incoming[e.TargetID], func(x LearningEdge) bool {
			return x.SourceID == id
		})
	}
	delete(g.outgoing, id)

	for _, e := range g.incoming[id] {
		g.outgoing[e.SourceID] = dropEdges(g.outgoing[e.SourceID], func(x LearningEdge) bool {
			return x.TargetID == id
		})
	}
	delete(g.incoming, id)
}

func dropEdges(edges []LearningEdge, match func(LearningEdge) bool) []LearningEdge {
	out := edges[:0]
	for _, e := range edges {
		if !match(e) {
			out = append(out, e)
		}
	}
	return out
}

// InboundCount returns the number of distinct learnings referencing
// this one. This is the hub-score metric.
func (g *LearningGraph) InboundCount(id string) int {
	seen := make(map[string]struct{})
	for _, e := range g.incoming[id] {
		seen[e.SourceID] = struct{}{}
	}
	return len(seen)
}

// Related returns IDs connected to this learning in either direction.
func (g *LearningGraph) Related(id string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, e := range g.outgoing[id] {
		out[e.TargetID] = struct{}{}
	}
	for _, e := range g.incoming[id] {
		out[e.SourceID] = struct{}{}
	}
	return out
}

// Edges returns every edge in the graph, for persistence.
func (g *LearningGraph) Edges() []LearningEdge {
	var all []LearningEdge
	for _, list := range g.outgoing {
		all = append(all, list...)
	}
	return all
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"be": {}, "to": {}, "of": {}, "and": {}, "in": {}, "that": {}, "it": {},
	"for": {}, "on": {}, "with": {}, "as": {}, "at": {}, "by": {}, "this": {}, "i": {},
}

var contradictionMarkers = map[string]struct{}{
	"but": {}, "however": {}, "instead": {}, "not": {}, "don't": {},
	"doesn't": {}, "failed": {}, "wrong": {},
}

// DetectRelations compares a new learning against existing ones and
// proposes edges: shared source turns mean derivation, heavy keyword
// overlap means support (same category) or relatedness, and negation
// markers near a dead end mean contradiction.
func DetectRelations(newL turn.Learning, existing []turn.Learning) []LearningEdge {
	const similarityThreshold = 0.5

	var edges []LearningEdge
	newID := newL.ID()
	newWords := meaningfulWords(newL.Fact)
	newSources := make(map[string]struct{}, len(newL.SourceTurns))
	for _, s := range newL.SourceTurns {
		newSources[s] = struct{}{}
	}

	for _, ex := range existing {
		exID := ex.ID()
		if exID == newID {
			continue
		}

		if ex.SupersededBy == newID {
			edges = append(edges, LearningEdge{newID, exID, RelationElaborates, 1.0})
			continue
		}

		if sharesSource(newSources, ex.SourceTurns) {
			edges = append(edges, LearningEdge{newID, exID, RelationDerivesFrom, 0.8})
			continue
		}

		exWords := meaningfulWords(ex.Fact)
		overlap := 0
		for w := range newWords {
			if _, ok := exWords[w]; ok {
				overlap++
			}
		}

		var ratio float64
		if len(newWords) > 0 && len(exWords) > 0 {
			ratio = float64(overlap) / float64(min(len(newWords), len(exWords)))
		}

		if overlap >= 3 && ratio >= similarityThreshold {
			if newL.Category == ex.Category {
				edges = append(edges, LearningEdge{newID, exID, RelationSupports, ratio})
			} else {
				edges = append(edges, LearningEdge{newID, exID, RelationRelated, ratio * 0.8})
			}
		}

		deadEndInvolved := ex.Category == turn.CategoryDeadEnd || newL.Category == turn.CategoryDeadEnd
		if deadEndInvolved && ratio >= 0.4 && hasMarker(newL.Fact) {
			edges = append(edges, LearningEdge{newID, exID, RelationContradicts, 0.7})
		}
	}
	return edges
}

func meaningfulWords(fact string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(fact)) {
		if _, stop := stopWords[w]; !stop {
			out[w] = struct{}{}
		}
	}
	return out
}

func sharesSource(sources map[string]struct{}, other []string) bool {
	for _, s := range other {
		if _, ok := sources[s]; ok {
			return true
		}
	}
	return false
}

func hasMarker(fact string) bool {
	for _, w := range strings.Fields(strings.ToLower(fact)) {
		if _, ok := contradictionMarkers[w]; ok {
			return true
		}
	}
	return false
}
