package chunk

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/embeddings"
	"github.com/lbliii/sunwell-sub000/pkg/summarize"
	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

// Config controls tier thresholds. Zero values take defaults.
type Config struct {
	// HotChunkTurns is the buffer size that triggers hot chunk
	// creation.
	HotChunkTurns int
	// WarmConsolidateTurns and ColdConsolidateTurns are turn counts at
	// which finished chunks consolidate into coarser ones.
	WarmConsolidateTurns int
	ColdConsolidateTurns int
	// HotChunks is how many full-fidelity chunks stay hot before the
	// oldest demotes to warm.
	HotChunks int
	// SemanticLimit caps warm-tier matches in a context window.
	SemanticLimit int
	// HalfLifeDays drives recency decay during warm ranking.
	HalfLifeDays int
}

func (c *Config) applyDefaults() {
	if c.HotChunkTurns <= 0 {
		c.HotChunkTurns = 10
	}
	if c.WarmConsolidateTurns <= 0 {
		c.WarmConsolidateTurns = 25
	}
	if c.ColdConsolidateTurns <= 0 {
		c.ColdConsolidateTurns = 100
	}
	if c.HotChunks <= 0 {
		c.HotChunks = 2
	}
	if c.SemanticLimit <= 0 {
		c.SemanticLimit = 5
	}
	if c.HalfLifeDays <= 0 {
		c.HalfLifeDays = 7
	}
}

// Engine owns every chunk of one store across all three tiers.
// It is not internally synchronized; the owning Store serializes
// access.
type Engine struct {
	basePath string
	cfg      Config

	summarizer summarize.Summarizer
	embedder   embeddings.Client
	logger     *slog.Logger
	now        func() time.Time

	chunks    map[string]*Chunk
	turnCount int
	pending   []turn.Turn

	codec *coldCodec
}

// Option configures an Engine.
type Option func(*Engine)

// WithSummarizer replaces the default heuristic summarizer.
func WithSummarizer(s summarize.Summarizer) Option {
	return func(e *Engine) {
		if s != nil {
			e.summarizer = s
		}
	}
}

// WithEmbedder installs an embedding client. Without one, semantic
// ranking falls back to recency.
func WithEmbedder(c embeddings.Client) Option {
	return func(e *Engine) { e.embedder = c }
}

// WithLogger installs a logger. Nil stays silent.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine opens (or creates) the chunk store rooted at basePath and
// loads existing chunk records from every tier.
func NewEngine(basePath string, cfg Config, opts ...Option) (*Engine, error) {
	cfg.applyDefaults()

	codec, err := newColdCodec()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		basePath:   basePath,
		cfg:        cfg,
		summarizer: summarize.Heuristic{},
		now:        time.Now,
		chunks:     make(map[string]*Chunk),
		codec:      codec,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.ensureDirs(); err != nil {
		return nil, err
	}
	e.loadExisting()
	return e, nil
}

// AddTurns buffers turns and runs the compression cascade at each
// threshold crossing. Returns IDs of chunks created along the way.
func (e *Engine) AddTurns(ctx context.Context, turns []turn.Turn) ([]string, error) {
	var created []string
	for _, t := range turns {
		e.turnCount++
		e.pending = append(e.pending, t)

		if e.turnCount%e.cfg.HotChunkTurns != 0 {
			continue
		}

		id, err := e.createHotChunk(ctx)
		if err != nil {
			return created, err
		}
		created = append(created, id)
		e.demoteExcessHot()

		if e.turnCount%e.cfg.WarmConsolidateTurns == 0 {
			if cid := e.consolidate(ctx, TierWarm); cid != "" {
				created = append(created, cid)
			}
		}
		if e.turnCount%e.cfg.ColdConsolidateTurns == 0 {
			if cid := e.consolidate(ctx, TierCold); cid != "" {
				created = append(created, cid)
			}
		}
	}
	return created, nil
}

// PendingTurns returns how many turns are buffered below the first
// threshold.
func (e *Engine) PendingTurns() int { return len(e.pending) }

// TurnCount returns the total turns ever ingested.
func (e *Engine) TurnCount() int { return e.turnCount }

func (e *Engine) createHotChunk(ctx context.Context) (string, error) {
	turns := e.pending
	e.pending = nil

	start := e.turnCount - len(turns)
	end := e.turnCount

	// Collaborator failures degrade, never abort ingestion.
	summary, err := e.summarizer.Summarize(ctx, turns)
	if err != nil {
		e.debug("summarizer failed, using heuristic", "error", err)
		summary, _ = summarize.Heuristic{}.Summarize(ctx, turns)
	}

	var embedding []float32
	if e.embedder != nil {
		text := summary
		if text == "" && len(turns) > 0 {
			text = turns[0].Content
		}
		if vec, err := e.embedder.EmbedOne(ctx, text); err != nil {
			e.debug("embed failed, chunk stays keyword-only", "error", err)
		} else {
			embedding = vec
		}
	}

	tokenCount := 0
	for _, t := range turns {
		tokenCount += t.Tokens()
	}

	now := e.now()
	c := &Chunk{
		ID:         newChunkID(TierHot, start, end, now),
		Tier:       TierHot,
		TurnRange:  TurnRange{Start: start, End: end},
		Turns:      turns,
		Summary:    summary,
		TokenCount: tokenCount,
		Embedding:  embedding,
	}
	if len(turns) > 0 {
		c.TimestampStart = turns[0].Timestamp
		c.TimestampEnd = turns[len(turns)-1].Timestamp
	}

	e.chunks[c.ID] = c
	if err := e.saveChunk(c); err != nil {
		e.errorLog("save hot chunk", "id", c.ID, "error", err)
	}
	return c.ID, nil
}

func (e *Engine) demoteExcessHot() {
	hot := e.tierChunks(TierHot)
	sort.Slice(hot, func(i, j int) bool { return hot[i].TurnRange.Start < hot[j].TurnRange.Start })
	for len(hot) > e.cfg.HotChunks {
		e.DemoteToWarm(hot[0].ID)
		hot = hot[1:]
	}
}

// DemoteToWarm moves a hot chunk to the warm tier. The raw turns stay
// in the warm disk record for expansion; the in-memory copy drops
// them.
func (e *Engine) DemoteToWarm(id string) {
	c, ok := e.chunks[id]
	if !ok || c.Tier != TierHot {
		return
	}

	onDisk := *c
	onDisk.Tier = TierWarm
	if err := e.writeRecord(&onDisk); err != nil {
		e.errorLog("save warm chunk", "id", id, "error", err)
		return
	}
	e.removeRecord(TierHot, id)

	c.Tier = TierWarm
	c.Turns = nil
}

// DemoteToCold strips a chunk to identity plus summary and moves its
// record to the cold directory. The ID never changes.
func (e *Engine) DemoteToCold(id string) {
	c, ok := e.chunks[id]
	if !ok || c.Tier == TierCold {
		return
	}
	prev := c.Tier

	c.Tier = TierCold
	c.Turns = nil
	c.Embedding = nil
	if err := e.saveChunk(c); err != nil {
		e.errorLog("save cold chunk", "id", id, "error", err)
	}
	e.removeRecord(prev, id)
}

// ApplyColdPolicy demotes warm chunks to cold. Age-based eviction runs
// first: anything whose newest turn predates maxAge goes. If the warm
// tier still exceeds maxWarm, the chunks with the oldest turn ranges
// demote until the ceiling holds. Returns demoted chunk IDs.
func (e *Engine) ApplyColdPolicy(maxAge time.Duration, maxWarm int) []string {
	warm := e.tierChunks(TierWarm)
	sort.Slice(warm, func(i, j int) bool { return warm[i].TurnRange.Start < warm[j].TurnRange.Start })

	var demoted []string
	if maxAge > 0 {
		cutoff := e.now().Add(-maxAge)
		kept := warm[:0]
		for _, c := range warm {
			if !c.TimestampEnd.IsZero() && c.TimestampEnd.Before(cutoff) {
				e.DemoteToCold(c.ID)
				demoted = append(demoted, c.ID)
			} else {
				kept = append(kept, c)
			}
		}
		warm = kept
	}

	if maxWarm > 0 {
		for len(warm) > maxWarm {
			e.DemoteToCold(warm[0].ID)
			demoted = append(demoted, warm[0].ID)
			warm = warm[1:]
		}
	}
	return demoted
}

// consolidate rolls the most recent parent-less chunks of the finer
// tier into one coarser chunk. Returns "" when not enough inputs have
// accumulated.
func (e *Engine) consolidate(ctx context.Context, target Tier) string {
	// Inputs are selected by granularity, not storage location: a
	// 10-turn leaf chunk stays a consolidation input even after it has
	// been demoted to warm storage.
	var needed int
	var eligible func(*Chunk) bool
	switch target {
	case TierWarm:
		needed = e.cfg.WarmConsolidateTurns / e.cfg.HotChunkTurns
		eligible = func(c *Chunk) bool { return len(c.ChildIDs) == 0 && c.Tier != TierCold }
	case TierCold:
		needed = e.cfg.ColdConsolidateTurns / e.cfg.WarmConsolidateTurns
		eligible = func(c *Chunk) bool { return len(c.ChildIDs) > 0 && c.Tier == TierWarm }
	default:
		return ""
	}

	var inputs []*Chunk
	for _, c := range e.chunks {
		if c.ParentID == "" && eligible(c) {
			inputs = append(inputs, c)
		}
	}
	if needed <= 0 || len(inputs) < needed {
		return ""
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].TurnRange.Start < inputs[j].TurnRange.Start })
	recent := inputs[len(inputs)-needed:]

	summaries := make([]turn.Turn, 0, needed)
	tokenCount := 0
	childIDs := make([]string, 0, needed)
	var keyFacts []string
	for _, c := range recent {
		if c.Summary != "" {
			summaries = append(summaries, turn.Turn{Content: c.Summary, Role: turn.RoleSystem, Timestamp: c.TimestampEnd})
		}
		tokenCount += c.TokenCount
		childIDs = append(childIDs, c.ID)
		keyFacts = append(keyFacts, c.KeyFacts...)
	}

	combined, err := e.summarizer.Summarize(ctx, summaries)
	if err != nil {
		combined, _ = summarize.Heuristic{}.Summarize(ctx, summaries)
	}

	start := recent[0].TurnRange.Start
	end := recent[len(recent)-1].TurnRange.End
	now := e.now()

	var embedding []float32
	if target == TierWarm && e.embedder != nil && combined != "" {
		if vec, err := e.embedder.EmbedOne(ctx, combined); err == nil {
			embedding = vec
		}
	}

	c := &Chunk{
		ID:             newChunkID(target, start, end, now),
		Tier:           target,
		TurnRange:      TurnRange{Start: start, End: end},
		Summary:        combined,
		TokenCount:     tokenCount,
		Embedding:      embedding,
		TimestampStart: recent[0].TimestampStart,
		TimestampEnd:   recent[len(recent)-1].TimestampEnd,
		KeyFacts:       keyFacts,
		ChildIDs:       childIDs,
	}

	e.chunks[c.ID] = c
	if err := e.saveChunk(c); err != nil {
		e.errorLog("save consolidated chunk", "id", c.ID, "error", err)
	}
	for _, child := range recent {
		child.ParentID = c.ID
		if err := e.saveChunk(child); err != nil {
			e.errorLog("update child chunk", "id", child.ID, "error", err)
		}
	}
	return c.ID
}

// Get returns a chunk by ID across all tiers.
func (e *Engine) Get(id string) (*Chunk, bool) {
	c, ok := e.chunks[id]
	return c, ok
}

// All returns every chunk, ordered by turn range.
func (e *Engine) All() []*Chunk {
	out := make([]*Chunk, 0, len(e.chunks))
	for _, c := range e.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TurnRange.Start < out[j].TurnRange.Start })
	return out
}

func (e *Engine) tierChunks(tier Tier) []*Chunk {
	var out []*Chunk
	for _, c := range e.chunks {
		if c.Tier == tier {
			out = append(out, c)
		}
	}
	return out
}

// Stats summarizes tier occupancy.
type Stats struct {
	TotalChunks int `json:"total_chunks"`
	HotChunks   int `json:"hot_chunks"`
	WarmChunks  int `json:"warm_chunks"`
	ColdChunks  int `json:"cold_chunks"`
	TotalTurns  int `json:"total_turns"`
	HotTokens   int `json:"hot_tokens"`
	TotalTokens int `json:"total_tokens"`
}

func (e *Engine) Stats() Stats {
	s := Stats{TotalChunks: len(e.chunks), TotalTurns: e.turnCount}
	for _, c := range e.chunks {
		s.TotalTokens += c.TokenCount
		switch c.Tier {
		case TierHot:
			s.HotChunks++
			s.HotTokens += c.TokenCount
		case TierWarm:
			s.WarmChunks++
		case TierCold:
			s.ColdChunks++
		}
	}
	return s
}

func (e *Engine) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

func (e *Engine) errorLog(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Error(msg, args...)
	}
}
