// Package store is the per-simulacrum facade: one conversation log,
// one tier engine and one topology index behind a single lock. It owns
// the on-disk layout for a store directory and degrades gracefully
// when the summarizer or embedder is missing or failing.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/chunk"
	"github.com/lbliii/sunwell-sub000/pkg/conversation"
	"github.com/lbliii/sunwell-sub000/pkg/embeddings"
	"github.com/lbliii/sunwell-sub000/pkg/extract"
	"github.com/lbliii/sunwell-sub000/pkg/metrics"
	"github.com/lbliii/sunwell-sub000/pkg/summarize"
	"github.com/lbliii/sunwell-sub000/pkg/tokens"
	"github.com/lbliii/sunwell-sub000/pkg/topology"
	"github.com/lbliii/sunwell-sub000/pkg/trace"
	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

var (
	// ErrSessionNotFound is returned when loading a session that was
	// never saved. Callers decide whether to create a fresh one.
	ErrSessionNotFound = errors.New("session not found")
)

// Config controls tiering and cleanup behavior.
type Config struct {
	// HotMaxTurns caps the number of uncompressed turns kept in the
	// conversation log before overflow is demoted to warm shards.
	HotMaxTurns int

	// WarmMaxAge is how long a warm record may sit before it becomes a
	// candidate for cold compression.
	WarmMaxAge time.Duration

	// MaxWarmChunks bounds the warm tier of the chunk engine.
	MaxWarmChunks int

	// ColdCompression compresses cold shards with zstd.
	ColdCompression bool

	// AutoCleanup runs warm demotion after every add.
	AutoCleanup bool

	// TopologyInterval is how many turns pass between concept-edge
	// extraction sweeps. Zero disables the sweep.
	TopologyInterval int

	// MinLearningConfidence filters heuristic learning extraction.
	MinLearningConfidence float64

	// Chunk configures the tier engine thresholds.
	Chunk chunk.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HotMaxTurns:           100,
		WarmMaxAge:            7 * 24 * time.Hour,
		MaxWarmChunks:         50,
		ColdCompression:       true,
		AutoCleanup:           true,
		TopologyInterval:      10,
		MinLearningConfidence: 0.6,
	}
}

func (c *Config) applyDefaults() {
	if c.HotMaxTurns == 0 {
		c.HotMaxTurns = 100
	}
	if c.WarmMaxAge == 0 {
		c.WarmMaxAge = 7 * 24 * time.Hour
	}
	if c.MaxWarmChunks == 0 {
		c.MaxWarmChunks = 50
	}
	if c.TopologyInterval == 0 {
		c.TopologyInterval = 10
	}
	if c.MinLearningConfidence == 0 {
		c.MinLearningConfidence = 0.6
	}
}

// Store binds a conversation log, tier engine and topology index to
// one directory. All mutation goes through a single mutex: at most one
// tiering operation proceeds at a time within a store, while stores
// with disjoint directories are fully independent.
type Store struct {
	basePath string
	cfg      Config

	mu      sync.Mutex
	log     *conversation.Log
	engine  *chunk.Engine
	index   *topology.Index
	project string
	session string

	counter    tokens.Counter
	summarizer summarize.Summarizer
	extractor  *extract.LLMExtractor
	tracer     trace.Exporter
	embedder   embeddings.Client
	logger     *slog.Logger
	collector  metrics.Collector

	sinceTopology int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSummarizer overrides the heuristic summarizer.
func WithSummarizer(sm summarize.Summarizer) Option {
	return func(s *Store) { s.summarizer = sm }
}

// WithExtractor replaces pattern-based learning extraction with a
// model-backed extractor. The pattern extractor remains the fallback
// when the model fails.
func WithExtractor(e *extract.LLMExtractor) Option {
	return func(s *Store) { s.extractor = e }
}

// WithEmbedder sets the embedding client used for semantic retrieval.
func WithEmbedder(c embeddings.Client) Option {
	return func(s *Store) { s.embedder = c }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(s *Store) { s.collector = m }
}

// WithTracer enables operation tracing. Export failures are logged
// and never fail the traced operation.
func WithTracer(t trace.Exporter) Option {
	return func(s *Store) { s.tracer = t }
}

// Open creates or reopens the store rooted at basePath. Collaborators
// are resolved once here and never re-resolved per call.
func Open(basePath string, cfg Config, opts ...Option) (*Store, error) {
	cfg.applyDefaults()

	s := &Store{
		basePath:   basePath,
		cfg:        cfg,
		log:        conversation.NewLog(),
		counter:    tokens.New(),
		summarizer: summarize.Heuristic{},
		collector:  metrics.NewNoopCollector(),
		session:    time.Now().Format("20060102_150405"),
		project:    "default",
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{"hot", "warm", "cold", "sessions", "projects", "episodes"} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create store dirs: %w", err)
		}
	}

	engineOpts := []chunk.Option{chunk.WithSummarizer(s.summarizer)}
	if s.embedder != nil {
		engineOpts = append(engineOpts, chunk.WithEmbedder(s.embedder))
	}
	if s.logger != nil {
		engineOpts = append(engineOpts, chunk.WithLogger(s.logger))
	}
	engine, err := chunk.NewEngine(filepath.Join(basePath, "chunks"), cfg.Chunk, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("open chunk engine: %w", err)
	}
	s.engine = engine

	indexOpts := []topology.IndexOption{}
	if s.embedder != nil {
		indexOpts = append(indexOpts, topology.WithEmbedder(s.embedder))
	}
	if s.logger != nil {
		indexOpts = append(indexOpts, topology.WithLogger(s.logger))
	}
	index, err := topology.NewIndex(filepath.Join(basePath, "unified"), indexOpts...)
	if err != nil {
		return nil, fmt.Errorf("open topology index: %w", err)
	}
	s.index = index

	return s, nil
}

// BasePath returns the store's root directory.
func (s *Store) BasePath() string { return s.basePath }

// Log exposes the conversation log. Callers must not mutate it while
// async adds are in flight.
func (s *Store) Log() *conversation.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// Index exposes the topology index.
func (s *Store) Index() *topology.Index { return s.index }

// Engine exposes the tier engine.
func (s *Store) Engine() *chunk.Engine { return s.engine }

// AddTurn appends a turn, feeds the tier engine and runs the cleanup
// cascade. Returns the content-addressed turn ID.
func (s *Store) AddTurn(ctx context.Context, t turn.Turn) (string, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.addTurnLocked(ctx, t)
	status := "success"
	if err != nil {
		status = "error"
	}
	s.collector.RecordOperation(ctx, "add_turn", status, time.Since(start).Milliseconds())
	return id, err
}

// AddTurnAsync computes and returns the turn ID synchronously, then
// runs the tiering cascade on a goroutine holding the same lock, so
// mutation ordering is identical to the sync path.
func (s *Store) AddTurnAsync(ctx context.Context, t turn.Turn) string {
	id := t.ID()
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, err := s.addTurnLocked(ctx, t); err != nil {
			s.debug("async add failed", "turn", id, "error", err)
		}
	}()
	return id
}

// AddUser appends a user message chained to the active head.
func (s *Store) AddUser(ctx context.Context, content string) (string, error) {
	s.mu.Lock()
	parents := []string{}
	if head := s.log.ActiveHead(); head != "" {
		parents = append(parents, head)
	}
	s.mu.Unlock()
	return s.AddTurn(ctx, turn.New(turn.RoleUser, content, parents...))
}

// AddAssistant appends an assistant message chained to the active head.
func (s *Store) AddAssistant(ctx context.Context, content string) (string, error) {
	s.mu.Lock()
	parents := []string{}
	if head := s.log.ActiveHead(); head != "" {
		parents = append(parents, head)
	}
	s.mu.Unlock()
	return s.AddTurn(ctx, turn.New(turn.RoleAssistant, content, parents...))
}

func (s *Store) addTurnLocked(ctx context.Context, t turn.Turn) (string, error) {
	if t.TokenCount == 0 {
		t.TokenCount = s.counter.Count(t.Content)
	}
	id := s.log.AddTurn(t)

	// Assistant turns are mined for learnings before tiering so the
	// source turn is always present in the log.
	learnings := extract.FromTurn(t, s.cfg.MinLearningConfidence)
	if s.extractor != nil {
		learnings = s.extractor.FromTurnLLM(ctx, t, s.cfg.MinLearningConfidence)
	}
	for _, le := range learnings {
		s.log.AddLearning(le)
	}

	if _, err := s.engine.AddTurns(ctx, []turn.Turn{t}); err != nil {
		return id, fmt.Errorf("tier turn %s: %w", id, err)
	}

	s.sinceTopology++
	if s.cfg.TopologyInterval > 0 && s.sinceTopology >= s.cfg.TopologyInterval {
		s.sinceTopology = 0
		s.extractTopologyLocked()
	}

	if s.cfg.AutoCleanup {
		if err := s.demoteToWarmLocked(); err != nil {
			return id, err
		}
		s.engine.ApplyColdPolicy(s.cfg.WarmMaxAge, s.cfg.MaxWarmChunks)
	}
	return id, nil
}

// extractTopologyLocked runs bounded pairwise concept-edge extraction
// over the most recent chunk summaries and registers the results.
func (s *Store) extractTopologyLocked() {
	var items []extract.Item
	for _, c := range s.engine.All() {
		if c.Summary == "" {
			continue
		}
		node := topology.NewNode(c.Summary)
		node.ChunkID = c.ID
		id, _ := s.index.AddNode(node)
		items = append(items, extract.Item{ID: id, Content: c.Summary})
	}
	for _, e := range extract.ConceptEdges(items, extract.DefaultEdgeCandidates) {
		s.index.AddEdge(e)
	}
	if err := s.index.Save(); err != nil {
		s.debug("topology save failed", "error", err)
	}
}

// Flush persists the session, chunk state and topology index.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if err := s.saveSessionLocked(s.session); err != nil {
		return err
	}
	if err := s.index.Save(); err != nil {
		return fmt.Errorf("save topology index: %w", err)
	}
	return nil
}

// Stats summarizes the store's storage state.
type Stats struct {
	Session      string              `json:"session"`
	Project      string              `json:"project"`
	HotTurns     int                 `json:"hot_turns"`
	WarmFiles    int                 `json:"warm_files"`
	WarmBytes    int64               `json:"warm_bytes"`
	ColdFiles    int                 `json:"cold_files"`
	ColdBytes    int64               `json:"cold_bytes"`
	Conversation conversation.Stats  `json:"conversation"`
	Chunks       chunk.Stats         `json:"chunks"`
	Topology     topology.IndexStats `json:"topology"`
}

// Stats reports hot turn counts, shard sizes and collaborator stats.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Session:      s.session,
		Project:      s.project,
		Conversation: s.log.Stats(),
		Chunks:       s.engine.Stats(),
		Topology:     s.index.Stats(),
	}
	st.HotTurns = st.Conversation.Turns - st.Conversation.Compressed
	st.WarmFiles, st.WarmBytes = dirUsage(filepath.Join(s.basePath, "warm"))
	st.ColdFiles, st.ColdBytes = dirUsage(filepath.Join(s.basePath, "cold"))

	s.collector.SetStorageCount(context.Background(), "hot_turns", int64(st.HotTurns))
	s.collector.SetStorageCount(context.Background(), "topology_nodes", int64(st.Topology.Nodes))
	return st
}

func dirUsage(dir string) (files int, size int64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files++
		if info, err := e.Info(); err == nil {
			size += info.Size()
		}
	}
	return files, size
}

func (s *Store) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Store) exportTrace(ctx context.Context, rec *trace.Record) {
	if s.tracer == nil {
		return
	}
	if err := s.tracer.Export(ctx, rec); err != nil {
		s.debug("trace export failed", "operation", rec.Operation, "error", err)
	}
}
