package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/lbliii/sunwell-sub000/pkg/llm"
	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

var validCategories = map[turn.Category]bool{
	turn.CategoryFact:       true,
	turn.CategoryPreference: true,
	turn.CategoryConstraint: true,
	turn.CategoryPattern:    true,
	turn.CategoryDeadEnd:    true,
}

const learningPrompt = `You are a conversational memory assistant.

Extract durable learnings from this message: facts worth remembering
after the conversation itself is forgotten. For each learning, provide:
- fact: One self-contained sentence
- category: One of [fact, preference, constraint, pattern, dead_end]
- confidence: Float in [0,1]

Skip pleasantries, questions, and anything only meaningful in context.

Message:
---
%s
---

Return ONLY valid JSON array:
[{"fact": "...", "category": "...", "confidence": 0.0}, ...]`

type llmLearning struct {
	Fact       string  `json:"fact"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// LLMExtractor extracts learnings from text using a completion model,
// falling back to the pattern-based extractor when the model fails or
// returns nothing usable.
type LLMExtractor struct {
	Client llm.LLMClient
}

// NewLLMExtractor creates an extractor backed by the given client.
func NewLLMExtractor(client llm.LLMClient) *LLMExtractor {
	return &LLMExtractor{Client: client}
}

// Extract returns learnings found in text at or above minConfidence.
func (e *LLMExtractor) Extract(ctx context.Context, text string, minConfidence float64) ([]Extracted, error) {
	if text == "" {
		return nil, nil
	}

	prompt := fmt.Sprintf(learningPrompt, text)

	var raw []llmLearning
	if err := e.Client.CompleteWithSchema(ctx, prompt, &raw); err != nil {
		return nil, fmt.Errorf("extract learnings: %w", err)
	}

	out := make([]Extracted, 0, len(raw))
	for _, r := range raw {
		fact := strings.TrimSpace(r.Fact)
		if fact == "" {
			continue
		}
		cat := turn.Category(strings.ToLower(strings.TrimSpace(r.Category)))
		if !validCategories[cat] {
			cat = turn.CategoryFact
		}
		conf := r.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		if conf < minConfidence {
			continue
		}
		out = append(out, Extracted{Text: fact, Category: cat, Confidence: conf})
	}
	return dedupe(out), nil
}

// FromTurnLLM extracts learnings from an assistant turn via the model,
// degrading to the pattern extractor on any error.
func (e *LLMExtractor) FromTurnLLM(ctx context.Context, t turn.Turn, minConfidence float64) []turn.Learning {
	if t.Role != turn.RoleAssistant {
		return nil
	}
	found, err := e.Extract(ctx, t.Content, minConfidence)
	if err != nil || len(found) == 0 {
		return FromTurn(t, minConfidence)
	}
	out := make([]turn.Learning, 0, len(found))
	for _, f := range found {
		out = append(out, turn.NewLearning(f.Text, f.Category, f.Confidence, t.ID()))
	}
	return out
}
