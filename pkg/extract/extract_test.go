package extract

import (
	"testing"

	"github.com/lbliii/sunwell-sub000/pkg/topology"
	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

func TestLearningsFacts(t *testing.T) {
	got := Learnings("The request timeout is 30 seconds for all endpoints.", 0.5)
	if len(got) == 0 {
		t.Fatal("expected a fact extraction")
	}
	if got[0].Category != turn.CategoryFact {
		t.Errorf("expected fact, got %s", got[0].Category)
	}
	if got[0].Confidence < 0.6 {
		t.Errorf("numeric fact should score high, got %v", got[0].Confidence)
	}
}

func TestLearningsDeadEnd(t *testing.T) {
	got := Learnings("We tried caching the session tokens but it failed under load.", 0.5)
	found := false
	for _, e := range got {
		if e.Category == turn.CategoryDeadEnd {
			found = true
		}
	}
	if !found {
		t.Errorf("expected dead-end extraction, got %+v", got)
	}
}

func TestLearningsConstraint(t *testing.T) {
	got := Learnings("The service cannot exceed 100 concurrent connections.", 0.5)
	found := false
	for _, e := range got {
		if e.Category == turn.CategoryConstraint {
			found = true
		}
	}
	if !found {
		t.Errorf("expected constraint extraction, got %+v", got)
	}
}

func TestLearningsNothingInPlainChat(t *testing.T) {
	if got := Learnings("hello there, how are you today", 0.5); len(got) != 0 {
		t.Errorf("small talk should extract nothing, got %+v", got)
	}
}

func TestFromTurnOnlyAssistant(t *testing.T) {
	userTurn := turn.New(turn.RoleUser, "the timeout is 30 seconds")
	if got := FromTurn(userTurn, 0.5); got != nil {
		t.Error("user turns should not be mined for learnings")
	}

	asst := turn.New(turn.RoleAssistant, "The timeout is 30 seconds per request.")
	got := FromTurn(asst, 0.5)
	if len(got) == 0 {
		t.Fatal("assistant turn should yield learnings")
	}
	if got[0].SourceTurns[0] != asst.ID() {
		t.Error("learning should cite its source turn")
	}
}

func TestConceptEdges(t *testing.T) {
	items := []Item{
		{ID: "n1", Content: "the connection pool caps database sessions at fifty"},
		{ID: "n2", Content: "database connection pool sessions are recycled hourly"},
		{ID: "n3", Content: "the deployment pipeline runs integration suites nightly"},
	}

	edges := ConceptEdges(items, 0)
	if len(edges) == 0 {
		t.Fatal("overlapping items should produce an edge")
	}
	for _, e := range edges {
		if e.SourceID == "n3" || e.TargetID == "n3" {
			t.Errorf("disjoint item should stay unlinked: %+v", e)
		}
		if e.Confidence <= 0 || e.Confidence > 1 {
			t.Errorf("edge confidence out of range: %v", e.Confidence)
		}
	}
}

func TestConceptEdgesContradiction(t *testing.T) {
	items := []Item{
		{ID: "a", Content: "the cache layer improves lookup latency substantially"},
		{ID: "b", Content: "the cache layer never improves lookup latency here"},
	}
	edges := ConceptEdges(items, 0)
	if len(edges) != 1 || edges[0].Relation != topology.RelationContradicts {
		t.Errorf("negated restatement should contradict, got %+v", edges)
	}
}

func TestConceptEdgesBounded(t *testing.T) {
	var items []Item
	for i := 0; i < 100; i++ {
		items = append(items, Item{ID: string(rune('a' + i%26)), Content: "identical content words everywhere always"})
	}
	// Cap of 5 means at most C(5,2)=10 comparisons worth of edges.
	edges := ConceptEdges(items, 5)
	if len(edges) > 10 {
		t.Errorf("candidate cap not applied, got %d edges", len(edges))
	}
}
