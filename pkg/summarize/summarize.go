// Package summarize compresses runs of conversation turns into short
// summaries for tier demotion.
package summarize

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lbliii/sunwell-sub000/pkg/llm"
	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

// Summarizer reduces a slice of turns to a compact textual summary.
type Summarizer interface {
	Summarize(ctx context.Context, turns []turn.Turn) (string, error)
}

// Heuristic is the default extractive summarizer. It needs no model:
// it keeps the opening user request, the most keyword-dense middle
// turns, and the final exchange.
type Heuristic struct {
	// MaxSentences bounds the middle extract. Zero means 3.
	MaxSentences int
}

var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]{3,}`)

// Summarize never returns an error; the error is in the signature so
// both implementations satisfy Summarizer.
func (h Heuristic) Summarize(_ context.Context, turns []turn.Turn) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}
	maxMid := h.MaxSentences
	if maxMid <= 0 {
		maxMid = 3
	}

	var parts []string
	if first := firstOfRole(turns, turn.RoleUser); first != "" {
		parts = append(parts, "Request: "+truncate(first, 200))
	}

	if mid := denseExtract(turns, maxMid); mid != "" {
		parts = append(parts, mid)
	}

	last := turns[len(turns)-1]
	parts = append(parts, fmt.Sprintf("Ended with %s: %s", last.Role, truncate(last.Content, 200)))

	return strings.Join(parts, " | "), nil
}

func firstOfRole(turns []turn.Turn, role turn.Role) string {
	for _, t := range turns {
		if t.Role == role {
			return t.Content
		}
	}
	return ""
}

// denseExtract picks the sentences that carry the most repeated
// keywords across the run, preserving original order.
func denseExtract(turns []turn.Turn, limit int) string {
	freq := map[string]int{}
	var sentences []string
	for _, t := range turns {
		for _, s := range splitSentences(t.Content) {
			sentences = append(sentences, s)
			for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
				freq[w]++
			}
		}
	}
	if len(sentences) == 0 {
		return ""
	}

	type scored struct {
		idx   int
		score int
	}
	ranked := make([]scored, 0, len(sentences))
	for i, s := range sentences {
		sc := 0
		for _, w := range wordRe.FindAllString(strings.ToLower(s), -1) {
			if freq[w] > 1 {
				sc += freq[w]
			}
		}
		ranked = append(ranked, scored{i, sc})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if limit > len(ranked) {
		limit = len(ranked)
	}
	keep := ranked[:limit]
	sort.Slice(keep, func(i, j int) bool { return keep[i].idx < keep[j].idx })

	out := make([]string, 0, len(keep))
	for _, k := range keep {
		out = append(out, truncate(sentences[k.idx], 160))
	}
	return strings.Join(out, " ")
}

var sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]?`)

func splitSentences(text string) []string {
	var out []string
	for _, m := range sentenceRe.FindAllString(text, -1) {
		if s := strings.TrimSpace(m); len(s) > 10 {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// LLM summarizes through a completion client. Falls back to the
// heuristic when the model call fails, so demotion never blocks.
type LLM struct {
	Client   llm.LLMClient
	Fallback Heuristic
}

const summaryPrompt = `Summarize this conversation excerpt in 2-3 sentences.
Preserve concrete decisions, constraints, and any facts stated as true.

%s

Summary:`

func (l LLM) Summarize(ctx context.Context, turns []turn.Turn) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}
	if l.Client == nil {
		return l.Fallback.Summarize(ctx, turns)
	}

	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, truncate(t.Content, 400))
	}
	out, err := l.Client.Complete(ctx, fmt.Sprintf(summaryPrompt, b.String()))
	if err != nil || strings.TrimSpace(out) == "" {
		return l.Fallback.Summarize(ctx, turns)
	}
	return strings.TrimSpace(out), nil
}
