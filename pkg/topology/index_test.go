package topology

import (
	"context"
	"testing"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/embeddings"
)

func TestAddNodeDedup(t *testing.T) {
	idx, err := NewIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	id1, added := idx.AddNode(NewNode("the cache holds 512 entries"))
	if !added {
		t.Fatal("first insert should add")
	}
	id2, added := idx.AddNode(NewNode("the cache holds 512 entries"))
	if added || id1 != id2 {
		t.Error("identical content should dedup to the existing node")
	}
	if idx.Stats().Nodes != 1 {
		t.Errorf("expected 1 node, got %d", idx.Stats().Nodes)
	}
}

func TestRemoveNodeCascades(t *testing.T) {
	idx, _ := NewIndex(t.TempDir())

	a, _ := idx.AddNode(MemoryNode{
		Content: "node a", Confidence: 0.9,
		Facets: Facets{Diataxis: DiataxisReference},
	})
	b, _ := idx.AddNode(MemoryNode{Content: "node b", Confidence: 0.9})
	idx.AddEdge(ConceptEdge{SourceID: a, TargetID: b, Relation: RelationReferences, Confidence: 0.9})

	if !idx.RemoveNode(a) {
		t.Fatal("remove should succeed")
	}
	if _, ok := idx.Node(a); ok {
		t.Error("node should be gone")
	}
	if idx.Graph().IncomingCount(b) != 0 {
		t.Error("edges referencing the removed node should be gone")
	}
	if got := idx.QueryFacets(FacetQuery{Diataxis: DiataxisReference}, 10); len(got) != 0 {
		t.Error("facet index should drop the removed node")
	}

	// Content slot is freed: re-adding creates a new node.
	if _, added := idx.AddNode(MemoryNode{Content: "node a"}); !added {
		t.Error("content of removed node should be addable again")
	}
}

func TestQueryKeyword(t *testing.T) {
	idx, _ := NewIndex(t.TempDir())
	idx.AddNode(MemoryNode{Content: "connection pooling reduces database latency"})
	idx.AddNode(MemoryNode{Content: "css grid layout for the dashboard"})

	got := idx.Query(context.Background(), "database connection latency", 5)
	if len(got) == 0 {
		t.Fatal("expected a keyword hit")
	}
	if got[0].Node.Content != "connection pooling reduces database latency" {
		t.Errorf("wrong top hit: %s", got[0].Node.Content)
	}
}

func TestQueryBlendedWithEmbedder(t *testing.T) {
	idx, _ := NewIndex(t.TempDir(), WithEmbedder(embeddings.Hash{}))
	ctx := context.Background()

	vec, _ := embeddings.Hash{}.EmbedOne(ctx, "retry with exponential backoff on timeout")
	idx.AddNode(MemoryNode{Content: "retry with exponential backoff on timeout", Embedding: vec})
	idx.AddNode(MemoryNode{Content: "unrelated note about logo colors"})

	got := idx.Query(ctx, "timeout retry backoff", 5)
	if len(got) == 0 || got[0].Node.Embedding == nil {
		t.Error("embedded node should rank first for a semantic query")
	}
}

func TestFacetQueryScoring(t *testing.T) {
	idx, _ := NewIndex(t.TempDir())
	full, _ := idx.AddNode(MemoryNode{
		Content: "full match",
		Facets:  Facets{Diataxis: DiataxisHowTo, Persona: "operator"},
	})
	idx.AddNode(MemoryNode{
		Content: "partial match",
		Facets:  Facets{Diataxis: DiataxisHowTo},
	})

	got := idx.QueryFacets(FacetQuery{Diataxis: DiataxisHowTo, Persona: "operator"}, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if got[0].Node.ID != full || got[0].Score != 1.0 {
		t.Error("node matching all constraints should rank first with score 1")
	}
	if got[1].Score != 0.5 {
		t.Errorf("partial match should score 0.5, got %v", got[1].Score)
	}
}

func TestShrink(t *testing.T) {
	idx, _ := NewIndex(t.TempDir())
	old := time.Now().Add(-90 * 24 * time.Hour)

	// Old, weak, disconnected: removable.
	victim, _ := idx.AddNode(MemoryNode{Content: "stale note", Confidence: 0.2, CreatedAt: old})
	// Old and weak but well connected: protected.
	hub, _ := idx.AddNode(MemoryNode{Content: "hub note", Confidence: 0.2, CreatedAt: old})
	// Recent and weak: protected.
	fresh, _ := idx.AddNode(MemoryNode{Content: "fresh note", Confidence: 0.2, CreatedAt: time.Now()})

	for _, src := range []string{"s1", "s2", "s3"} {
		n, _ := idx.AddNode(MemoryNode{Content: "supporter " + src, Confidence: 0.9, CreatedAt: time.Now()})
		idx.AddEdge(ConceptEdge{SourceID: n, TargetID: hub, Relation: RelationReferences, Confidence: 0.9})
	}
	// A weak edge that should be pruned.
	idx.AddEdge(ConceptEdge{SourceID: fresh, TargetID: hub, Relation: RelationRelated, Confidence: 0.1})

	nodesRemoved, edgesPruned := idx.Shrink(time.Now().Add(-30*24*time.Hour), ShrinkOptions{})
	if nodesRemoved != 1 {
		t.Errorf("expected 1 node removed, got %d", nodesRemoved)
	}
	if _, ok := idx.Node(victim); ok {
		t.Error("stale weak node should be removed")
	}
	if _, ok := idx.Node(hub); !ok {
		t.Error("well-connected node must survive")
	}
	if _, ok := idx.Node(fresh); !ok {
		t.Error("recent node must survive")
	}
	if edgesPruned != 1 {
		t.Errorf("expected 1 weak edge pruned, got %d", edgesPruned)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx, _ := NewIndex(dir)
	a, _ := idx.AddNode(MemoryNode{Content: "persisted node", Confidence: 0.9, Facets: Facets{Tags: []string{"infra"}}})
	b, _ := idx.AddNode(MemoryNode{Content: "second node", Confidence: 0.9})
	idx.AddEdge(ConceptEdge{SourceID: a, TargetID: b, Relation: RelationReferences, Confidence: 0.8})
	if err := idx.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := NewIndex(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Stats() != idx.Stats() {
		t.Errorf("stats changed across reload: %+v vs %+v", got.Stats(), idx.Stats())
	}
	if hits := got.QueryFacets(FacetQuery{Tags: []string{"infra"}}, 5); len(hits) != 1 {
		t.Error("facet index should rebuild on load")
	}
	// Dedup survives reload.
	if _, added := got.AddNode(MemoryNode{Content: "persisted node"}); added {
		t.Error("reloaded index should still dedup by content")
	}
}
