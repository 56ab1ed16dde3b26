package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"

	maxRetries        = 3
	initialRetryDelay = time.Second
	backoffFactor     = 2.0
)

// OpenAILLM talks to the OpenAI Chat Completions API with retry and
// exponential backoff on rate limits and server errors.
type OpenAILLM struct {
	APIKey  string
	Model   string
	BaseURL string

	HTTPClient *http.Client
}

// NewOpenAILLM creates a client with the default model.
func NewOpenAILLM(apiKey string) *OpenAILLM {
	return &OpenAILLM{
		APIKey:     apiKey,
		Model:      defaultOpenAIModel,
		BaseURL:    defaultOpenAIBaseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the prompt, retrying transient failures with jittered
// backoff. Context cancellation wins over the retry loop.
func (o *OpenAILLM) Complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	delay := initialRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			jitter := delay/2 + time.Duration(rand.Int63n(int64(delay)))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay = time.Duration(float64(delay) * backoffFactor)
		}

		result, err := o.request(ctx, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var re *retryableError
		if !errors.As(err, &re) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

// CompleteWithSchema completes and unmarshals the response. Code
// fences are stripped and stray string arrays flattened before
// decoding, since models routinely violate "return ONLY JSON".
func (o *OpenAILLM) CompleteWithSchema(ctx context.Context, prompt string, schema any) error {
	response, err := o.Complete(ctx, prompt)
	if err != nil {
		return err
	}

	cleaned := stripCodeFence(response)
	normalized, err := flattenStringArrays([]byte(cleaned))
	if err != nil {
		return fmt.Errorf("normalize response: %w", err)
	}
	if err := json.Unmarshal(normalized, schema); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\n?(.*?)\\s*```$")

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return s
}

func (o *OpenAILLM) request(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    o.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &retryableError{err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)}
		}
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	var api chatResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if api.Error != nil {
		return "", fmt.Errorf("openai api error: %s", api.Error.Message)
	}
	if len(api.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return api.Choices[0].Message.Content, nil
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }
