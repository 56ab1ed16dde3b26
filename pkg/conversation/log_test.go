package conversation

import (
	"path/filepath"
	"testing"

	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

func TestAddTurnIdempotent(t *testing.T) {
	l := NewLog()
	id1 := l.AddUserMessage("hello")
	id2 := l.AddTurn(turn.New(turn.RoleUser, "hello"))

	if id1 != id2 {
		t.Errorf("identical content should dedup to one ID: %s vs %s", id1, id2)
	}
	if got := l.Stats().Turns; got != 1 {
		t.Errorf("expected 1 turn after duplicate add, got %d", got)
	}
}

func TestLinearConversation(t *testing.T) {
	l := NewLog()
	l.AddUserMessage("what is the plan")
	l.AddAssistantMessage("first we refactor the parser", "test-model")
	l.AddUserMessage("sounds good")

	recent := l.RecentTurns(10)
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent turns, got %d", len(recent))
	}
	if recent[0].Content != "what is the plan" || recent[2].Content != "sounds good" {
		t.Error("recent turns out of order")
	}

	if got := l.RecentTurns(2); len(got) != 2 || got[0].Content != "first we refactor the parser" {
		t.Error("RecentTurns(2) should return the last two turns in order")
	}
}

func TestBranchAndCheckout(t *testing.T) {
	l := NewLog()
	l.AddUserMessage("base")
	if _, err := l.Branch("main", ""); err != nil {
		t.Fatalf("branch failed: %v", err)
	}

	l.AddUserMessage("attempt A")
	attemptA := l.ActiveHead()
	l.MarkDeadEnd("")

	if err := l.Checkout("main"); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	l.AddUserMessage("attempt B")

	// History survives: the abandoned turn is still addressable.
	if _, ok := l.Turn(attemptA); !ok {
		t.Error("dead-ended turn should remain in the log")
	}
	if err := l.Checkout("no-such-ref"); err == nil {
		t.Error("checkout of unknown ref should fail")
	}
	if l.Stats().DeadEnds != 1 {
		t.Errorf("expected 1 dead end, got %d", l.Stats().DeadEnds)
	}
}

func TestBranchEmptyLog(t *testing.T) {
	if _, err := NewLog().Branch("x", ""); err == nil {
		t.Error("branching an empty log should fail")
	}
}

func TestMarkCompressedKeepsTurn(t *testing.T) {
	l := NewLog()
	id := l.AddUserMessage("old content")
	l.MarkCompressed(id)

	got, ok := l.Turn(id)
	if !ok || got.Content != "old content" {
		t.Fatal("compressed turn must stay retrievable with original content")
	}
	if !l.IsCompressed(id) {
		t.Error("turn should report compressed")
	}
}

func TestActiveLearnings(t *testing.T) {
	l := NewLog()
	onPath := l.AddUserMessage("the API rate limit is 100 rps")
	l.AddAssistantMessage("noted", "m")

	// Learning with no sources: always active.
	global := turn.NewLearning("team prefers tabs", turn.CategoryPreference, 0.8)
	l.AddLearning(global)

	// Learning sourced from the active path.
	live := turn.NewLearning("rate limit is 100 rps", turn.CategoryConstraint, 0.9, onPath)
	l.AddLearning(live)

	// Learning sourced from a dead-ended turn.
	deadTurn := l.AddUserMessage("try the caching approach")
	dead := turn.NewLearning("caching approach failed", turn.CategoryDeadEnd, 0.7, deadTurn)
	l.AddLearning(dead)
	l.MarkDeadEnd(deadTurn)

	// Superseded learning: never active.
	old := turn.NewLearning("rate limit is 50 rps", turn.CategoryConstraint, 0.5, onPath)
	old.SupersededBy = live.ID()
	l.AddLearning(old)

	active := l.ActiveLearnings()
	ids := make(map[string]bool)
	for _, le := range active {
		ids[le.ID()] = true
	}
	if !ids[global.ID()] {
		t.Error("unsourced learning should be active")
	}
	if !ids[live.ID()] {
		t.Error("learning sourced on active path should be active")
	}
	if ids[dead.ID()] {
		t.Error("learning sourced from dead end should be inactive")
	}
	if ids[old.ID()] {
		t.Error("superseded learning should be inactive")
	}
}

func TestDetectRelations(t *testing.T) {
	shared := "turnid123"
	base := turn.NewLearning("the scheduler uses round robin dispatch", turn.CategoryFact, 0.8, shared)

	derived := turn.NewLearning("dispatch order matters for fairness", turn.CategoryFact, 0.7, shared)
	edges := DetectRelations(derived, []turn.Learning{base})
	if len(edges) != 1 || edges[0].Relation != RelationDerivesFrom {
		t.Errorf("shared source turns should yield derives_from, got %+v", edges)
	}

	support := turn.NewLearning("the scheduler uses round robin rotation", turn.CategoryFact, 0.8)
	edges = DetectRelations(support, []turn.Learning{base})
	if len(edges) != 1 || edges[0].Relation != RelationSupports {
		t.Errorf("heavy same-category overlap should yield supports, got %+v", edges)
	}
}

func TestLearningGraphHubScore(t *testing.T) {
	g := NewLearningGraph()
	g.AddEdge(LearningEdge{"a", "hub", RelationSupports, 1})
	g.AddEdge(LearningEdge{"b", "hub", RelationRelated, 0.5})
	g.AddEdge(LearningEdge{"a", "hub", RelationSupports, 1}) // duplicate

	if got := g.InboundCount("hub"); got != 2 {
		t.Errorf("expected 2 distinct inbound sources, got %d", got)
	}

	g.RemoveLearning("a")
	if got := g.InboundCount("hub"); got != 1 {
		t.Errorf("expected 1 inbound source after removal, got %d", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	l := NewLog()
	l.AddUserMessage("persist me")
	l.AddAssistantMessage("persisted", "m")
	l.Branch("save-point", "")
	l.AddLearning(turn.NewLearning("persistence works", turn.CategoryFact, 0.9))
	id := l.AddUserMessage("compress me")
	l.MarkCompressed(id)

	path := filepath.Join(t.TempDir(), "dag.json")
	if err := l.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := LoadLog(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Stats() != l.Stats() {
		t.Errorf("stats changed across round trip: %+v vs %+v", got.Stats(), l.Stats())
	}
	if got.ActiveHead() != l.ActiveHead() {
		t.Error("active head lost")
	}
	if !got.IsCompressed(id) {
		t.Error("compressed set lost")
	}
}

func TestLoadMissingFile(t *testing.T) {
	l, err := LoadLog(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should load as empty log: %v", err)
	}
	if l.Stats().Turns != 0 {
		t.Error("expected empty log")
	}
}
