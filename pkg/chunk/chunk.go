// Package chunk implements the tiered compression engine. Recent turns
// live in hot chunks at full fidelity, age into warm chunks carrying a
// summary and embedding, and finally settle in the cold tier as
// summary-only records. Identity is preserved across every demotion.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

// Tier is a storage level in decreasing fidelity order.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
	TierCold Tier = "cold"
)

// TurnRange marks the half-open [Start, End) interval of global turn
// ordinals a chunk covers.
type TurnRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Chunk aggregates a run of turns. Raw turns are present only in the
// hot tier; warm chunks keep them on disk for expansion; cold chunks
// keep only the summary.
type Chunk struct {
	ID         string      `json:"id"`
	Tier       Tier        `json:"tier"`
	TurnRange  TurnRange   `json:"turn_range"`
	Turns      []turn.Turn `json:"turns,omitempty"`
	Summary    string      `json:"summary,omitempty"`
	TokenCount int         `json:"token_count"`
	Embedding  []float32   `json:"embedding,omitempty"`

	TimestampStart time.Time `json:"timestamp_start"`
	TimestampEnd   time.Time `json:"timestamp_end"`

	KeyFacts []string `json:"key_facts,omitempty"`

	// Consolidation hierarchy. A chunk with a parent has been rolled
	// into a coarser chunk and no longer counts as consolidation input.
	ParentID string   `json:"parent_id,omitempty"`
	ChildIDs []string `json:"child_ids,omitempty"`
}

// Summary is the cold-tier view of a chunk: identity and text, nothing
// else.
type Summary struct {
	ChunkID    string    `json:"chunk_id"`
	TurnRange  TurnRange `json:"turn_range"`
	Summary    string    `json:"summary"`
	TokenCount int       `json:"token_count"`
}

// Summarize reduces a chunk to its cold-tier view.
func (c *Chunk) Summarize() Summary {
	return Summary{
		ChunkID:    c.ID,
		TurnRange:  c.TurnRange,
		Summary:    c.Summary,
		TokenCount: summaryTokens(c.Summary),
	}
}

func summaryTokens(s string) int {
	return turn.EstimateTokens(s)
}

// newChunkID derives a chunk ID from its tier and range plus creation
// time, so re-chunking the same range after a crash cannot collide.
func newChunkID(tier Tier, start, end int, now time.Time) string {
	content := fmt.Sprintf("%s:%d:%d:%d", tier, start, end, now.UnixNano())
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s_%s", tier, hex.EncodeToString(sum[:])[:12])
}
