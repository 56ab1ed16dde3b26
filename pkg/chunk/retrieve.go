package chunk

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/embeddings"
)

// WindowItem is one entry of an assembled context window. Exactly one
// of Chunk or Summary is set: hot and expanded warm chunks carry full
// content, cold entries carry only their summary.
type WindowItem struct {
	Tier    Tier
	Chunk   *Chunk
	Summary *Summary
	Tokens  int
}

// TurnRangeStart orders window items chronologically.
func (w WindowItem) TurnRangeStart() int {
	if w.Chunk != nil {
		return w.Chunk.TurnRange.Start
	}
	return w.Summary.TurnRange.Start
}

// ContextWindow assembles a token-budgeted window. Hot chunks are
// packed newest-first; an item that alone exceeds the remaining budget
// is skipped whole, never truncated. Remaining budget goes to warm
// chunks ranked by semantic similarity times recency decay, then to
// cold summaries. The result is sorted chronologically.
func (e *Engine) ContextWindow(ctx context.Context, maxTokens int, query string) []WindowItem {
	var window []WindowItem
	seen := make(map[string]struct{})
	budget := maxTokens

	hot := e.tierChunks(TierHot)
	sort.Slice(hot, func(i, j int) bool { return hot[i].TurnRange.Start > hot[j].TurnRange.Start })
	for _, c := range hot {
		if c.TokenCount > budget {
			continue
		}
		window = append(window, WindowItem{Tier: TierHot, Chunk: c, Tokens: c.TokenCount})
		seen[c.ID] = struct{}{}
		budget -= c.TokenCount
	}

	if query != "" && budget > 0 {
		for _, c := range e.rankWarm(ctx, query, e.cfg.SemanticLimit) {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			expanded, _ := e.Expand(c.ID)
			if expanded.TokenCount > budget {
				continue
			}
			window = append(window, WindowItem{Tier: TierWarm, Chunk: expanded, Tokens: expanded.TokenCount})
			seen[c.ID] = struct{}{}
			budget -= expanded.TokenCount
		}
	}

	cold := e.tierChunks(TierCold)
	sort.Slice(cold, func(i, j int) bool { return cold[i].TurnRange.Start < cold[j].TurnRange.Start })
	for _, c := range cold {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		if c.Summary == "" {
			continue
		}
		s := c.Summarize()
		if s.TokenCount > budget {
			continue
		}
		window = append(window, WindowItem{Tier: TierCold, Summary: &s, Tokens: s.TokenCount})
		seen[c.ID] = struct{}{}
		budget -= s.TokenCount
	}

	sort.SliceStable(window, func(i, j int) bool {
		return window[i].TurnRangeStart() < window[j].TurnRangeStart()
	})
	return window
}

// RelevantChunks ranks warm chunks against a query. Without an
// embedder it degrades to the most recent chunks.
func (e *Engine) RelevantChunks(ctx context.Context, query string, limit int) []*Chunk {
	if limit <= 0 {
		limit = e.cfg.SemanticLimit
	}
	ranked := e.rankWarm(ctx, query, limit)
	if ranked != nil {
		return ranked
	}

	all := e.All()
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// rankWarm scores warm chunks by cosine similarity scaled by recency
// decay, ties broken by more recent end timestamp. Returns nil when no
// embedder is configured or the query cannot be embedded.
func (e *Engine) rankWarm(ctx context.Context, query string, limit int) []*Chunk {
	if e.embedder == nil {
		return nil
	}
	qvec, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		e.debug("query embed failed, skipping semantic ranking", "error", err)
		return nil
	}

	type scored struct {
		c     *Chunk
		score float64
	}
	now := e.now()
	var candidates []scored
	for _, c := range e.tierChunks(TierWarm) {
		if len(c.Embedding) == 0 {
			continue
		}
		sim := embeddings.Cosine(qvec, c.Embedding)
		candidates = append(candidates, scored{c, sim * recencyDecay(now.Sub(c.TimestampEnd), e.cfg.HalfLifeDays)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].c.TimestampEnd.After(candidates[j].c.TimestampEnd)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*Chunk, len(candidates))
	for i, s := range candidates {
		out[i] = s.c
	}
	return out
}

// recencyDecay halves a score every halfLifeDays of age.
func recencyDecay(age time.Duration, halfLifeDays int) float64 {
	if age < 0 || halfLifeDays <= 0 {
		return 1.0
	}
	return math.Pow(0.5, age.Hours()/24.0/float64(halfLifeDays))
}
