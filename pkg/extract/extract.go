// Package extract pulls structured learnings and concept relations out
// of raw conversation text with regex heuristics. No model calls: this
// is the always-available floor that LLM-quality extraction can sit on
// top of.
package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

// Extracted is one candidate learning found in text.
type Extracted struct {
	Text       string
	Category   turn.Category
	Confidence float64
}

type patternBank struct {
	category turn.Category
	patterns []*regexp.Regexp
}

var banks = []patternBank{
	{turn.CategoryFact, compileAll(
		`(?:the |it )(?:is|has|takes|uses|requires) (\d+[^.,]*)`,
		`(?:must|should|need to) (?:be |use |have )([^.]+)`,
		`(?:always|never) ([^.]+)`,
		`(?:default|defaults to) ([^.]+)`,
		`timeout (?:is|of) (\d+[^.,]*)`,
		`limit (?:is|of) (\d+[^.,]*)`,
	)},
	{turn.CategoryConstraint, compileAll(
		`(?:cannot|can't|won't|doesn't) ([^.]+)`,
		`(?:blocked by|prevented by|limited by) ([^.]+)`,
		`(?:requires?|needs?) ([^.]+?) (?:to|before|first)`,
		`(?:only works|only valid) (?:with|when|if) ([^.]+)`,
	)},
	{turn.CategoryDeadEnd, compileAll(
		`(?:tried|attempted) ([^.]+?) (?:but|however|didn't|failed)`,
		`(?:doesn't|won't|can't) work (?:because|due to|since) ([^.]+)`,
		`(?:this approach|that method|this solution) (?:won't|doesn't|failed)`,
	)},
	{turn.CategoryPattern, compileAll(
		`(?:whenever|every time|each time) ([^.]+)`,
		`(?:consistently|repeatedly) ([^.]+)`,
		`(?:seems to|appears to|tends to) ([^.]+)`,
	)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

var digitRe = regexp.MustCompile(`\d`)

// Learnings scans text for extractable insights, returning candidates
// at or above minConfidence sorted by confidence. Near-duplicate
// extractions (one containing the other) are collapsed.
func Learnings(text string, minConfidence float64) []Extracted {
	if minConfidence <= 0 {
		minConfidence = 0.5
	}
	lower := strings.ToLower(text)

	var found []Extracted
	for _, bank := range banks {
		for _, re := range bank.patterns {
			for _, m := range re.FindAllStringSubmatch(lower, -1) {
				candidate := m[0]
				if len(m) > 1 && m[1] != "" {
					candidate = m[1]
				}
				candidate = strings.TrimSpace(candidate)
				if len(candidate) < 5 || len(candidate) > 200 {
					continue
				}
				conf := score(candidate, re.String(), bank.category, lower)
				if conf >= minConfidence {
					found = append(found, Extracted{Text: candidate, Category: bank.category, Confidence: conf})
				}
			}
		}
	}

	found = dedupe(found)
	sort.SliceStable(found, func(i, j int) bool { return found[i].Confidence > found[j].Confidence })
	return found
}

// FromTurn extracts learnings from a single turn. Only assistant turns
// carry findings worth extracting.
func FromTurn(t turn.Turn, minConfidence float64) []turn.Learning {
	if t.Role != turn.RoleAssistant {
		return nil
	}
	var out []turn.Learning
	for _, e := range Learnings(t.Content, minConfidence) {
		out = append(out, turn.NewLearning(e.Text, e.Category, e.Confidence, t.ID()))
	}
	return out
}

func score(candidate, pattern string, category turn.Category, context string) float64 {
	conf := 0.5

	for _, marker := range []string{`\d+`, "timeout", "limit", "requires"} {
		if strings.Contains(pattern, marker) {
			conf += 0.2
			break
		}
	}

	switch category {
	case turn.CategoryDeadEnd:
		if containsAny(context, "failed", "error", "didn't work") {
			conf += 0.15
		}
	case turn.CategoryFact:
		if containsAny(context, "is", "has", "takes") {
			conf += 0.1
		}
	case turn.CategoryConstraint:
		if containsAny(context, "must", "cannot", "blocked") {
			conf += 0.15
		}
	}

	if len(candidate) < 10 {
		conf -= 0.2
	}
	if digitRe.MatchString(candidate) {
		conf += 0.1
	}

	return min(1.0, max(0.0, conf))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func dedupe(in []Extracted) []Extracted {
	var out []Extracted
	var seen []string
	for _, e := range in {
		norm := strings.ToLower(strings.TrimSpace(e.Text))
		dup := false
		for _, s := range seen {
			if strings.Contains(s, norm) || strings.Contains(norm, s) {
				dup = true
				break
			}
		}
		if !dup {
			seen = append(seen, norm)
			out = append(out, e)
		}
	}
	return out
}
