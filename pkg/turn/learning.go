package turn

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Category classifies a learning.
type Category string

const (
	CategoryFact       Category = "fact"
	CategoryPreference Category = "preference"
	CategoryConstraint Category = "constraint"
	CategoryPattern    Category = "pattern"
	CategoryDeadEnd    Category = "dead_end"
)

// Learning is an extracted insight. Learnings outlive the turns they came
// from: the source turns may be compressed away while the learning persists.
type Learning struct {
	Fact       string   `json:"fact"`
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`

	// SourceTurns are the turn IDs this learning was derived from.
	SourceTurns []string `json:"source_turns,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// SupersededBy points at a newer learning that replaces this one.
	SupersededBy string `json:"superseded_by,omitempty"`

	UseCount int        `json:"use_count,omitempty"`
	LastUsed *time.Time `json:"last_used,omitempty"`
}

// NewLearning creates a learning with the current timestamp.
func NewLearning(fact string, category Category, confidence float64, sourceTurns ...string) Learning {
	return Learning{
		Fact:        fact,
		Category:    category,
		Confidence:  confidence,
		SourceTurns: sourceTurns,
		Timestamp:   time.Now(),
	}
}

// ID is content-addressed over category and fact only, so the same fact in
// the same category is always the same learning regardless of metadata.
func (l Learning) ID() string {
	h := sha256.New()
	h.Write([]byte(string(l.Category)))
	h.Write([]byte{':'})
	h.Write([]byte(l.Fact))
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// WithUsage returns a copy with usage stats updated. Success nudges
// confidence up, failure pushes it down harder; bounds [0.1, 1.0].
func (l Learning) WithUsage(success bool) Learning {
	if success {
		l.Confidence = min(1.0, l.Confidence+0.05)
	} else {
		l.Confidence = max(0.1, l.Confidence-0.1)
	}
	now := time.Now()
	l.UseCount++
	l.LastUsed = &now
	return l
}
