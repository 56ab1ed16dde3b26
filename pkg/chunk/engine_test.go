package chunk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/embeddings"
	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

func makeTurns(n int, start time.Time) []turn.Turn {
	turns := make([]turn.Turn, n)
	for i := range turns {
		t := turn.New(turn.RoleUser, fmt.Sprintf("turn number %d about memory tiers and compression", i))
		t.Timestamp = start.Add(time.Duration(i) * time.Minute)
		turns[i] = t
	}
	return turns
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(t.TempDir(), Config{}, opts...)
	if err != nil {
		t.Fatalf("engine init failed: %v", err)
	}
	return e
}

func TestHotChunkCreation(t *testing.T) {
	e := newTestEngine(t)
	ids, err := e.AddTurns(context.Background(), makeTurns(10, time.Now()))
	if err != nil {
		t.Fatalf("add turns: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 chunk from 10 turns, got %d", len(ids))
	}

	c, ok := e.Get(ids[0])
	if !ok || c.Tier != TierHot {
		t.Fatal("new chunk should be hot")
	}
	if len(c.Turns) != 10 {
		t.Errorf("hot chunk should carry raw turns, got %d", len(c.Turns))
	}
	if c.Summary == "" {
		t.Error("heuristic summary should be non-empty")
	}
	if e.PendingTurns() != 0 {
		t.Error("buffer should be drained")
	}
}

func TestHotTierBounded(t *testing.T) {
	e := newTestEngine(t)
	e.AddTurns(context.Background(), makeTurns(50, time.Now()))

	hot := e.tierChunks(TierHot)
	if len(hot) > e.cfg.HotChunks {
		t.Errorf("hot tier holds %d chunks, cap is %d", len(hot), e.cfg.HotChunks)
	}
}

func TestDemoteToWarmKeepsPayloadOnDisk(t *testing.T) {
	e := newTestEngine(t)
	ids, _ := e.AddTurns(context.Background(), makeTurns(10, time.Now()))
	id := ids[0]

	e.DemoteToWarm(id)
	c, _ := e.Get(id)
	if c.Tier != TierWarm || c.Turns != nil {
		t.Fatal("warm chunk should drop in-memory turns")
	}

	expanded, ok := e.Expand(id)
	if !ok || len(expanded.Turns) != 10 {
		t.Errorf("warm chunk should expand from disk, got %d turns", len(expanded.Turns))
	}
}

func TestDemoteToColdPreservesIdentity(t *testing.T) {
	e := newTestEngine(t, WithEmbedder(embeddings.Hash{}))
	ids, _ := e.AddTurns(context.Background(), makeTurns(10, time.Now()))
	id := ids[0]
	before, _ := e.Get(id)
	summary := before.Summary

	e.DemoteToWarm(id)
	e.DemoteToCold(id)

	after, ok := e.Get(id)
	if !ok {
		t.Fatal("chunk must stay addressable after cold demotion")
	}
	if after.ID != id || after.Summary != summary {
		t.Error("cold demotion must preserve id and summary")
	}
	if after.Turns != nil || after.Embedding != nil {
		t.Error("cold chunk must not carry turns or embedding")
	}

	// Cold chunks never re-expand.
	expanded, _ := e.Expand(id)
	if expanded.Turns != nil {
		t.Error("cold chunk should not expand")
	}
}

func TestContextWindowBudget(t *testing.T) {
	e := newTestEngine(t, WithEmbedder(embeddings.Hash{}))
	e.AddTurns(context.Background(), makeTurns(40, time.Now().Add(-time.Hour)))

	const budget = 150
	window := e.ContextWindow(context.Background(), budget, "memory tiers")

	total := 0
	for _, item := range window {
		total += item.Tokens
	}
	if total > budget {
		t.Errorf("window used %d tokens, budget %d", total, budget)
	}

	// Chronological ordering.
	for i := 1; i < len(window); i++ {
		if window[i].TurnRangeStart() < window[i-1].TurnRangeStart() {
			t.Error("window not in chronological order")
			break
		}
	}
}

func TestContextWindowSkipsOversizedWhole(t *testing.T) {
	e := newTestEngine(t)
	e.AddTurns(context.Background(), makeTurns(10, time.Now()))

	// Budget below any single chunk: nothing fits, nothing truncated.
	window := e.ContextWindow(context.Background(), 3, "")
	if len(window) != 0 {
		t.Errorf("oversized items must be excluded whole, got %d items", len(window))
	}
}

func TestApplyColdPolicyAgeThenRange(t *testing.T) {
	e := newTestEngine(t)
	base := time.Now().Add(-72 * time.Hour)

	// Three warm chunks: one stale, two fresh.
	e.AddTurns(context.Background(), makeTurns(10, base))
	e.AddTurns(context.Background(), makeTurns(10, time.Now().Add(-time.Hour)))
	e.AddTurns(context.Background(), makeTurns(10, time.Now()))
	for _, c := range e.tierChunks(TierHot) {
		e.DemoteToWarm(c.ID)
	}

	// Age policy first: only the stale chunk demotes.
	demoted := e.ApplyColdPolicy(48*time.Hour, 10)
	if len(demoted) != 1 {
		t.Fatalf("expected 1 age-based demotion, got %d", len(demoted))
	}
	aged, _ := e.Get(demoted[0])
	if aged.TurnRange.Start != 0 {
		t.Error("the stale chunk should be the first turn range")
	}

	// Count ceiling second: oldest remaining turn range demotes first.
	demoted = e.ApplyColdPolicy(0, 1)
	if len(demoted) != 1 {
		t.Fatalf("expected 1 count-based demotion, got %d", len(demoted))
	}
	next, _ := e.Get(demoted[0])
	if next.TurnRange.Start != 10 {
		t.Errorf("count ceiling should demote oldest range first, got start %d", next.TurnRange.Start)
	}
}

func TestConsolidation(t *testing.T) {
	e := newTestEngine(t)
	e.AddTurns(context.Background(), makeTurns(50, time.Now()))

	var consolidated *Chunk
	for _, c := range e.All() {
		if len(c.ChildIDs) > 0 {
			consolidated = c
			break
		}
	}
	if consolidated == nil {
		t.Fatal("50 turns should produce at least one consolidated chunk")
	}
	if consolidated.Summary == "" {
		t.Error("consolidated chunk should have a combined summary")
	}
	for _, childID := range consolidated.ChildIDs {
		child, ok := e.Get(childID)
		if !ok || child.ParentID != consolidated.ID {
			t.Error("children should point back at the consolidated chunk")
		}
	}
}

func TestReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEngine(dir, Config{})
	if err != nil {
		t.Fatal(err)
	}
	ids, _ := e.AddTurns(context.Background(), makeTurns(30, time.Now()))
	e.DemoteToCold(ids[0])

	reloaded, err := NewEngine(dir, Config{})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got, want := len(reloaded.All()), len(e.All()); got != want {
		t.Errorf("reloaded %d chunks, want %d", got, want)
	}
	if reloaded.TurnCount() != 30 {
		t.Errorf("turn count should restore from ranges, got %d", reloaded.TurnCount())
	}
	cold, ok := reloaded.Get(ids[0])
	if !ok || cold.Tier != TierCold {
		t.Error("cold chunk should reload from compressed record")
	}
}

func TestRelevantChunksWithoutEmbedder(t *testing.T) {
	e := newTestEngine(t)
	e.AddTurns(context.Background(), makeTurns(30, time.Now()))

	got := e.RelevantChunks(context.Background(), "anything", 2)
	if len(got) != 2 {
		t.Errorf("fallback should return most recent chunks, got %d", len(got))
	}
}
