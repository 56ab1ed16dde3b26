// Package topology indexes memory nodes along four axes: where
// content came from (spatial), how the source document was organized
// (structural), what kind of content it is (facets), and how pieces
// relate semantically (concept graph).
package topology

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SpatialContext records where a node's content originated.
type SpatialContext struct {
	FilePath    string   `json:"file_path,omitempty"`
	SectionPath []string `json:"section_path,omitempty"`
	LineStart   int      `json:"line_start,omitempty"`
	LineEnd     int      `json:"line_end,omitempty"`
}

// Diataxis classifies content by documentation mode.
type Diataxis string

const (
	DiataxisTutorial    Diataxis = "tutorial"
	DiataxisHowTo       Diataxis = "howto"
	DiataxisReference   Diataxis = "reference"
	DiataxisExplanation Diataxis = "explanation"
)

// Facets are the categorical tag dimensions of a node.
type Facets struct {
	Diataxis   Diataxis `json:"diataxis,omitempty"`
	Persona    string   `json:"persona,omitempty"`
	Confidence string   `json:"confidence,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

func (f Facets) empty() bool {
	return f.Diataxis == "" && f.Persona == "" && f.Confidence == "" && len(f.Tags) == 0
}

// MemoryNode is one indexed unit of content.
type MemoryNode struct {
	ID      string `json:"id"`
	Content string `json:"content"`

	// ChunkID back-references the conversation chunk this node was
	// extracted from, when there is one.
	ChunkID string `json:"chunk_id,omitempty"`

	Spatial    *SpatialContext `json:"spatial,omitempty"`
	Facets     Facets          `json:"facets,omitempty"`
	Embedding  []float32       `json:"embedding,omitempty"`
	Confidence float64         `json:"confidence"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewNode builds a node with a content-derived ID.
func NewNode(content string) MemoryNode {
	return MemoryNode{
		ID:         NodeID(content),
		Content:    content,
		Confidence: 0.8,
		CreatedAt:  time.Now(),
	}
}

// NodeID derives the canonical node ID for a piece of content.
func NodeID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "node_" + hex.EncodeToString(sum[:])[:16]
}
