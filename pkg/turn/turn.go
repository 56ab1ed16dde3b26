// Package turn defines the atomic, content-addressed units of conversation
// memory: turns and the learnings extracted from them.
package turn

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single conversational unit. Turns are immutable after creation
// and identified by a content hash, so the same content always yields the
// same ID and duplicates collapse for free.
type Turn struct {
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// ParentIDs links to preceding turns. Multiple parents model branch
	// merges; empty means a conversation root.
	ParentIDs []string `json:"parent_ids,omitempty"`

	// TokenCount is an estimate; zero means "estimate on demand".
	TokenCount int `json:"token_count,omitempty"`

	Tags       []string `json:"tags,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Model      string   `json:"model,omitempty"`
	Source     string   `json:"source,omitempty"`
}

// New creates a turn with the current timestamp and an estimated token count.
func New(role Role, content string, parentIDs ...string) Turn {
	return Turn{
		Content:    content,
		Role:       role,
		Timestamp:  time.Now(),
		ParentIDs:  parentIDs,
		TokenCount: EstimateTokens(content),
	}
}

// ID returns the content-addressed identifier. It hashes role, content and
// parent IDs; metadata fields never affect identity.
func (t Turn) ID() string {
	h := sha256.New()
	h.Write([]byte(string(t.Role)))
	h.Write([]byte{':'})
	h.Write([]byte(t.Content))
	h.Write([]byte{':'})
	h.Write([]byte(strings.Join(t.ParentIDs, ",")))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Tokens returns the stored token count, estimating when unset.
func (t Turn) Tokens() int {
	if t.TokenCount > 0 {
		return t.TokenCount
	}
	return EstimateTokens(t.Content)
}

// Message is the role/content pair callers hand to an LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToMessage converts the turn to LLM message format.
func (t Turn) ToMessage() Message {
	return Message{Role: string(t.Role), Content: t.Content}
}

// EstimateTokens is the heuristic token estimate used when no tokenizer is
// available: word count scaled by 1.3, minimum 1 for non-empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	n := int(math.Round(float64(words) * 1.3))
	if n < 1 {
		n = 1
	}
	return n
}
