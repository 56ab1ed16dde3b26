package store

import (
	"context"
	"fmt"

	"github.com/lbliii/sunwell-sub000/pkg/chunk"
	"github.com/lbliii/sunwell-sub000/pkg/trace"
	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

// RetrievalStats reports how much of an assembled context came from
// each tier, so callers can observe how much compression was applied.
type RetrievalStats struct {
	HotTurns      int `json:"hot_turns"`
	WarmSummaries int `json:"warm_summaries"`
	ColdSummaries int `json:"cold_summaries"`
}

// AssembleMessages builds a prompt message list within a token budget.
// The system prompt comes first, followed by tiered context oldest to
// newest: cold and warm summaries rendered as system context lines,
// hot chunks as their original turns.
func (s *Store) AssembleMessages(ctx context.Context, query, systemPrompt string, budget int) ([]turn.Message, RetrievalStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := trace.NewRecord("assemble")
	var stats RetrievalStats
	defer func() {
		rec.Counters["hot_turns"] = int64(stats.HotTurns)
		rec.Counters["warm_summaries"] = int64(stats.WarmSummaries)
		rec.Counters["cold_summaries"] = int64(stats.ColdSummaries)
		s.exportTrace(ctx, rec.Finish(nil))
	}()

	var messages []turn.Message
	if systemPrompt != "" {
		budget -= s.counter.Count(systemPrompt)
		messages = append(messages, turn.Message{Role: "system", Content: systemPrompt})
	}

	if budget <= 0 {
		return messages, stats
	}

	for _, item := range s.engine.ContextWindow(ctx, budget, query) {
		switch {
		case item.Summary != nil:
			stats.ColdSummaries++
			messages = append(messages, turn.Message{
				Role:    "system",
				Content: fmt.Sprintf("[Earlier context: %s]", item.Summary.Summary),
			})
		case item.Tier == chunk.TierWarm:
			// Warm chunks re-expand from disk; one whose payload could
			// not be reloaded still contributes its summary.
			stats.WarmSummaries++
			if len(item.Chunk.Turns) > 0 {
				for _, t := range item.Chunk.Turns {
					messages = append(messages, t.ToMessage())
				}
				continue
			}
			messages = append(messages, turn.Message{
				Role:    "system",
				Content: fmt.Sprintf("[Context: %s]", item.Chunk.Summary),
			})
		default:
			for _, t := range item.Chunk.Turns {
				messages = append(messages, t.ToMessage())
				stats.HotTurns++
			}
		}
	}
	return messages, stats
}

// Context renders the budgeted context window as a single string for
// callers that splice it into a flat prompt.
func (s *Store) Context(ctx context.Context, query string, budget int) string {
	messages, _ := s.AssembleMessages(ctx, query, "", budget)
	var out string
	for i, m := range messages {
		if i > 0 {
			out += "\n\n"
		}
		out += m.Role + ": " + m.Content
	}
	return out
}
