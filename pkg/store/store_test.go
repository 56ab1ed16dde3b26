package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func testTurn(i int, age time.Duration) turn.Turn {
	t := turn.New(turn.RoleUser, fmt.Sprintf("turn number %d with some distinct content", i))
	t.Timestamp = time.Now().Add(-age).Add(time.Duration(i) * time.Second)
	return t
}

func TestAutoCleanupCompressesOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotMaxTurns = 10
	s := newTestStore(t, cfg)

	ctx := context.Background()
	ids := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		id, err := s.AddTurn(ctx, testTurn(i, time.Hour))
		if err != nil {
			t.Fatalf("AddTurn %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	stats := s.Stats()
	if stats.Conversation.Turns != 12 {
		t.Fatalf("log turns = %d, want 12", stats.Conversation.Turns)
	}
	if stats.Conversation.Compressed != 2 {
		t.Fatalf("compressed = %d, want 2", stats.Conversation.Compressed)
	}
	if stats.HotTurns != 10 {
		t.Fatalf("hot turns = %d, want 10", stats.HotTurns)
	}

	// Demotion must never lose a turn: every ID still resolves to its
	// original content.
	for i, id := range ids {
		got, ok := s.Log().Turn(id)
		if !ok {
			t.Fatalf("turn %d disappeared after demotion", i)
		}
		if !strings.Contains(got.Content, fmt.Sprintf("number %d ", i)) {
			t.Fatalf("turn %d content changed: %q", i, got.Content)
		}
	}
}

func TestHotTierNeverExceedsCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotMaxTurns = 5
	s := newTestStore(t, cfg)

	ctx := context.Background()
	for i := 0; i < 23; i++ {
		if _, err := s.AddTurn(ctx, testTurn(i, time.Hour)); err != nil {
			t.Fatalf("AddTurn %d: %v", i, err)
		}
		if hot := s.Stats().HotTurns; hot > 5 {
			t.Fatalf("after add %d: hot turns = %d, want <= 5", i, hot)
		}
	}
}

func TestRetrieveFromWarm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotMaxTurns = 3
	s := newTestStore(t, cfg)

	ctx := context.Background()
	first := testTurn(0, time.Hour)
	if _, err := s.AddTurn(ctx, first); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < 6; i++ {
		if _, err := s.AddTurn(ctx, testTurn(i, time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	got, ok := s.RetrieveFromWarm(first.ID())
	if !ok {
		t.Fatal("demoted turn not found in warm storage")
	}
	if got.Content != first.Content {
		t.Fatalf("warm content = %q, want %q", got.Content, first.Content)
	}

	matches := s.SearchWarm("number 0", 10)
	if len(matches) != 1 {
		t.Fatalf("SearchWarm returned %d results, want 1", len(matches))
	}
}

func TestSearchWarmSkipsCorruptLines(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotMaxTurns = 2
	s := newTestStore(t, cfg)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.AddTurn(ctx, testTurn(i, time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	shards, err := filepath.Glob(filepath.Join(s.BasePath(), "warm", "*.jsonl"))
	if err != nil || len(shards) == 0 {
		t.Fatalf("no warm shards written: %v", err)
	}
	f, err := os.OpenFile(shards[0], os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{not json at all\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if got := s.SearchWarm("distinct content", 10); len(got) != 3 {
		t.Fatalf("SearchWarm = %d results, want 3 (corrupt line skipped)", len(got))
	}
}

func TestMoveToCold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotMaxTurns = 2
	s := newTestStore(t, cfg)

	ctx := context.Background()
	// Old enough that their warm shard dates fall past the cutoff.
	for i := 0; i < 6; i++ {
		if _, err := s.AddTurn(ctx, testTurn(i, 20*24*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	moved, err := s.MoveToCold(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("MoveToCold: %v", err)
	}
	if moved == 0 {
		t.Fatal("no shards moved to cold")
	}

	cold, _ := filepath.Glob(filepath.Join(s.BasePath(), "cold", "*.jsonl.zst"))
	if len(cold) != moved {
		t.Fatalf("cold shards = %d, want %d", len(cold), moved)
	}
	warm, _ := filepath.Glob(filepath.Join(s.BasePath(), "warm", "*.jsonl"))
	if len(warm) != 0 {
		t.Fatalf("warm shards remaining = %d, want 0", len(warm))
	}
}

func TestSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s.NewSession("proj", "alpha")
	if _, err := s.AddUser(ctx, "remember the auth design"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddAssistant(ctx, "The auth design uses short-lived tokens."); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSession(""); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	// Reopen from scratch and load the session back.
	s2, err := Open(dir, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := s2.LoadSession("proj", "alpha"); err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if got := s2.Log().Stats().Turns; got != 2 {
		t.Fatalf("loaded turns = %d, want 2", got)
	}

	// The legacy flat layout is dual-written.
	if _, err := os.Stat(filepath.Join(dir, "sessions", "alpha_dag.json")); err != nil {
		t.Fatalf("legacy session document missing: %v", err)
	}
}

func TestLoadSessionNotFound(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	err := s.LoadSession("proj", "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestCreateOrLoad(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	created, err := s.CreateOrLoad("proj", "beta")
	if err != nil || !created {
		t.Fatalf("first CreateOrLoad: created=%v err=%v, want true nil", created, err)
	}
	if err := s.SaveSession(""); err != nil {
		t.Fatal(err)
	}

	created, err = s.CreateOrLoad("proj", "beta")
	if err != nil || created {
		t.Fatalf("second CreateOrLoad: created=%v err=%v, want false nil", created, err)
	}
}

func TestListSessions(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	s.NewSession("proj", "one")
	if err := s.SaveSession(""); err != nil {
		t.Fatal(err)
	}
	s.NewSession("proj", "two")
	if err := s.SaveSession(""); err != nil {
		t.Fatal(err)
	}

	sessions := s.ListSessions()
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	for _, info := range sessions {
		if info.Project != "proj" {
			t.Fatalf("session project = %q, want proj", info.Project)
		}
	}
}

func TestAssembleMessagesBudget(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		if _, err := s.AddTurn(ctx, testTurn(i, time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	messages, stats := s.AssembleMessages(ctx, "distinct content", "You are a helpful assistant.", 200)
	if len(messages) == 0 {
		t.Fatal("no messages assembled")
	}
	if messages[0].Role != "system" {
		t.Fatalf("first message role = %q, want system", messages[0].Role)
	}
	if stats.HotTurns == 0 {
		t.Fatal("expected hot turns in the assembled window")
	}

	total := 0
	for _, m := range messages[1:] {
		total += turn.EstimateTokens(m.Content)
	}
	if total > 200 {
		t.Fatalf("assembled context = %d tokens, want <= 200", total)
	}
}

func TestAssembleMessagesZeroBudget(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	ctx := context.Background()
	if _, err := s.AddTurn(ctx, testTurn(0, time.Hour)); err != nil {
		t.Fatal(err)
	}

	messages, stats := s.AssembleMessages(ctx, "anything", "system prompt words here", 2)
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want only the system prompt", len(messages))
	}
	if stats.HotTurns != 0 || stats.WarmSummaries != 0 || stats.ColdSummaries != 0 {
		t.Fatalf("stats = %+v, want all zero", stats)
	}
}

func TestLearningExtractionOnAssistantTurns(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	if _, err := s.AddAssistant(ctx, "The registry write timeout is 30 seconds per mutation."); err != nil {
		t.Fatal(err)
	}
	if got := s.Log().Stats().Learnings; got == 0 {
		t.Fatal("expected a learning extracted from the assistant turn")
	}
}

const sampleDoc = `# Memory Design

Overview of the tiered layout.

## How to configure

To configure the engine, set the thresholds in the config file.

` + "```go" + `
cfg := Config{HotMaxTurns: 100}
` + "```" + `

## Why tiers

Because old context compresses well, tiers trade fidelity for space.
`

func TestIngestDocument(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	n, err := s.IngestDocument(ctx, "docs/design.md", sampleDoc)
	if err != nil {
		t.Fatalf("IngestDocument: %v", err)
	}
	if n < 3 {
		t.Fatalf("nodes created = %d, want >= 3", n)
	}

	// Section-scoped retrieval sees the ingested segments.
	nodes := s.Index().QuerySection("How to configure", "docs/design.md")
	if len(nodes) == 0 {
		t.Fatal("no nodes under the ingested section")
	}

	// Re-ingesting the same document is a no-op thanks to content
	// dedup in the index.
	n2, err := s.IngestDocument(ctx, "docs/design.md", sampleDoc)
	if err != nil {
		t.Fatal(err)
	}
	if n2 != 0 {
		t.Fatalf("re-ingest created %d nodes, want 0", n2)
	}
}

func TestIngestCodebase(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "readme.md"), []byte(sampleDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0xff, 0xfe, 0x00, 0x01}, 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := s.IngestCodebase(ctx, root, "*.md", "*.bin")
	if err != nil {
		t.Fatalf("IngestCodebase: %v", err)
	}
	if n < 3 {
		t.Fatalf("nodes created = %d, want >= 3", n)
	}
}

func TestStructuralSplit(t *testing.T) {
	segments := splitStructural(sampleDoc)

	var code, prose int
	for _, seg := range segments {
		if seg.code {
			code++
		} else {
			prose++
		}
	}
	if code != 1 {
		t.Fatalf("code segments = %d, want 1", code)
	}
	if prose < 3 {
		t.Fatalf("prose segments = %d, want >= 3", prose)
	}

	// The how-to section carries its heading path.
	found := false
	for _, seg := range segments {
		for _, sec := range seg.section {
			if sec == "How to configure" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("heading path not tracked through sections")
	}
}

func TestEpisodes(t *testing.T) {
	s := newTestStore(t, DefaultConfig())

	if _, err := s.AddEpisode("tried the cache approach", OutcomeFailed, []string{"cache invalidation is hard"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEpisode("switched to tiered storage", OutcomeSucceeded, nil, []string{"gpt-4o"}); err != nil {
		t.Fatal(err)
	}

	eps := s.Episodes(10)
	if len(eps) != 2 {
		t.Fatalf("episodes = %d, want 2", len(eps))
	}
	if eps[0].Outcome != OutcomeSucceeded {
		t.Fatalf("newest episode outcome = %q, want succeeded", eps[0].Outcome)
	}

	if got := s.DeadEndEpisodes(); len(got) != 1 || got[0].Summary != "tried the cache approach" {
		t.Fatalf("DeadEndEpisodes = %+v", got)
	}
	if got := s.SuccessfulPatterns(); len(got) != 1 {
		t.Fatalf("SuccessfulPatterns = %d, want 1", len(got))
	}
}

func TestEpisodesSkipCorruptLines(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	if _, err := s.AddEpisode("good record", OutcomeSucceeded, nil, nil); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(s.episodePath(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("garbage line\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if _, err := s.AddEpisode("another good record", OutcomePartial, nil, nil); err != nil {
		t.Fatal(err)
	}

	if got := s.Episodes(0); len(got) != 2 {
		t.Fatalf("episodes = %d, want 2 (corrupt line skipped)", len(got))
	}
}

func TestCleanupDeadEnds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotMaxTurns = 2
	s := newTestStore(t, cfg)
	ctx := context.Background()

	victim := testTurn(0, time.Hour)
	if _, err := s.AddTurn(ctx, victim); err != nil {
		t.Fatal(err)
	}
	for i := 1; i < 5; i++ {
		if _, err := s.AddTurn(ctx, testTurn(i, time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	s.Log().MarkDeadEnd(victim.ID())

	removed, err := s.CleanupDeadEnds()
	if err != nil {
		t.Fatalf("CleanupDeadEnds: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := s.RetrieveFromWarm(victim.ID()); ok {
		t.Fatal("dead-end turn still retrievable from warm")
	}
}

func TestAddTurnAsync(t *testing.T) {
	s := newTestStore(t, DefaultConfig())
	ctx := context.Background()

	tn := testTurn(0, time.Hour)
	id := s.AddTurnAsync(ctx, tn)
	if id != tn.ID() {
		t.Fatalf("async id = %q, want %q", id, tn.ID())
	}

	// The cascade runs on a goroutine behind the store lock; poll
	// until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := s.Log().Turn(id); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("async turn never appeared in the log")
}
