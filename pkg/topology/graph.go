package topology

// Relation types the edges of the concept graph.
type Relation string

const (
	RelationElaborates  Relation = "elaborates"
	RelationContradicts Relation = "contradicts"
	RelationSupersedes  Relation = "supersedes"
	RelationReferences  Relation = "references"
	RelationRelated     Relation = "related"
)

// ConceptEdge is a typed, weighted link between two nodes.
type ConceptEdge struct {
	SourceID   string   `json:"source_id"`
	TargetID   string   `json:"target_id"`
	Relation   Relation `json:"relation"`
	Confidence float64  `json:"confidence"`
}

// ConceptGraph holds directed semantic relations between nodes.
type ConceptGraph struct {
	outgoing map[string][]ConceptEdge
	incoming map[string][]ConceptEdge
}

func NewConceptGraph() *ConceptGraph {
	return &ConceptGraph{
		outgoing: make(map[string][]ConceptEdge),
		incoming: make(map[string][]ConceptEdge),
	}
}

// AddEdge inserts an edge, skipping exact duplicates.
func (g *ConceptGraph) AddEdge(e ConceptEdge) {
	for _, ex := range g.outgoing[e.SourceID] {
		if ex.TargetID == e.TargetID && ex.Relation == e.Relation {
			return
		}
	}
	g.outgoing[e.SourceID] = append(g.outgoing[e.SourceID], e)
	g.incoming[e.TargetID] = append(g.incoming[e.TargetID], e)
}

// Outgoing returns edges from a node, optionally filtered by relation.
func (g *ConceptGraph) Outgoing(id string, rel Relation) []ConceptEdge {
	return filterEdges(g.outgoing[id], rel)
}

// Incoming returns edges into a node, optionally filtered by relation.
func (g *ConceptGraph) Incoming(id string, rel Relation) []ConceptEdge {
	return filterEdges(g.incoming[id], rel)
}

func filterEdges(edges []ConceptEdge, rel Relation) []ConceptEdge {
	if rel == "" {
		return append([]ConceptEdge(nil), edges...)
	}
	var out []ConceptEdge
	for _, e := range edges {
		if e.Relation == rel {
			out = append(out, e)
		}
	}
	return out
}

// IncomingCount returns how many edges point at a node. Weakly
// connected nodes are compaction candidates.
func (g *ConceptGraph) IncomingCount(id string) int {
	return len(g.incoming[id])
}

// Neighborhood returns node IDs within depth hops in either direction.
func (g *ConceptGraph) Neighborhood(id string, depth int) map[string]struct{} {
	out := make(map[string]struct{})
	frontier := []string{id}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, cur := range frontier {
			for _, e := range g.outgoing[cur] {
				if _, ok := out[e.TargetID]; !ok && e.TargetID != id {
					out[e.TargetID] = struct{}{}
					next = append(next, e.TargetID)
				}
			}
			for _, e := range g.incoming[cur] {
				if _, ok := out[e.SourceID]; !ok && e.SourceID != id {
					out[e.SourceID] = struct{}{}
					next = append(next, e.SourceID)
				}
			}
		}
		frontier = next
	}
	return out
}

// RemoveNode drops every edge touching a node.
func (g *ConceptGraph) RemoveNode(id string) {
	for _, e := range g.outgoing[id] {
		g.incoming[e.TargetID] = dropWhere(g.incoming[e.TargetID], func(x ConceptEdge) bool {
			return x.SourceID == id
		})
	}
	delete(g.outgoing, id)
	for _, e := range g.incoming[id] {
		g.outgoing[e.SourceID] = dropWhere(g.outgoing[e.SourceID], func(x ConceptEdge) bool {
			return x.TargetID == id
		})
	}
	delete(g.incoming, id)
}

// Prune removes edges below the confidence floor and returns how many
// were removed.
func (g *ConceptGraph) Prune(minConfidence float64) int {
	removed := 0
	for id, edges := range g.outgoing {
		kept := edges[:0]
		for _, e := range edges {
			if e.Confidence >= minConfidence {
				kept = append(kept, e)
			} else {
				removed++
				g.incoming[e.TargetID] = dropWhere(g.incoming[e.TargetID], func(x ConceptEdge) bool {
					return x == e
				})
			}
		}
		if len(kept) == 0 {
			delete(g.outgoing, id)
		} else {
			g.outgoing[id] = kept
		}
	}
	return removed
}

// Edges returns every edge, for persistence and merging.
func (g *ConceptGraph) Edges() []ConceptEdge {
	var all []ConceptEdge
	for _, list := range g.outgoing {
		all = append(all, list...)
	}
	return all
}

func dropWhere(edges []ConceptEdge, match func(ConceptEdge) bool) []ConceptEdge {
	out := edges[:0]
	for _, e := range edges {
		if !match(e) {
			out = append(out, e)
		}
	}
	return out
}
