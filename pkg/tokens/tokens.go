// Package tokens counts tokens for context-budget accounting.
//
// The counter prefers a real BPE tokenizer when its encoding data is
// available and falls back to a word-count heuristic otherwise, so the
// engine keeps working offline.
package tokens

import (
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Counter estimates the token cost of text.
type Counter interface {
	Count(text string) int
}

// New returns the best available Counter. The tokenizer is resolved
// once here, never per call.
func New() Counter {
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return heuristicCounter{}
	}
	return &bpeCounter{enc: enc}
}

type bpeCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

func (c *bpeCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

type heuristicCounter struct{}

// Count approximates tokens as words*1.3, matching the estimate stored
// on turns that never pass through a real tokenizer.
func (heuristicCounter) Count(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return max(1, int(math.Round(float64(words)*1.3)))
}
