// Package llm provides completion clients for learning extraction and
// chunk summarization.
package llm

import "context"

// LLMClient is a text completion provider.
type LLMClient interface {
	// Complete returns the raw completion for a prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteWithSchema unmarshals the completion into schema, which
	// must be a pointer. Implementations tolerate common model
	// sloppiness like markdown code fences around the JSON.
	CompleteWithSchema(ctx context.Context, prompt string, schema any) error
}
