package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAILLM) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewOpenAILLM("test-key")
	client.BaseURL = srv.URL
	return srv, client
}

func chatReply(content string) []byte {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	data, _ := json.Marshal(resp)
	return data
}

func TestOpenAIComplete(t *testing.T) {
	_, client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		w.Write(chatReply("forty-two"))
	})

	got, err := client.Complete(context.Background(), "meaning of life?")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "forty-two" {
		t.Errorf("got %q", got)
	}
}

func TestOpenAIRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	_, client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(chatReply("ok"))
	})

	got, err := client.Complete(context.Background(), "p")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "ok" || calls.Load() != 2 {
		t.Errorf("got %q after %d calls", got, calls.Load())
	}
}

func TestOpenAINoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	_, client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	if _, err := client.Complete(context.Background(), "p"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("client error retried %d times", calls.Load())
	}
}

func TestOpenAIContextCancelStopsRetry(t *testing.T) {
	_, client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := client.Complete(ctx, "p"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCompleteWithSchemaStripsCodeFence(t *testing.T) {
	_, client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply("```json\n[{\"name\": \"cache\"}]\n```"))
	})

	var got []struct {
		Name string `json:"name"`
	}
	if err := client.CompleteWithSchema(context.Background(), "p", &got); err != nil {
		t.Fatalf("CompleteWithSchema: %v", err)
	}
	if len(got) != 1 || got[0].Name != "cache" {
		t.Errorf("got %+v", got)
	}
}

func TestCompleteWithSchemaFlattensArrays(t *testing.T) {
	_, client := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatReply(`[{"subject": ["a", "b"], "relation": "USES"}]`))
	})

	var got []struct {
		Subject  string `json:"subject"`
		Relation string `json:"relation"`
	}
	if err := client.CompleteWithSchema(context.Background(), "p", &got); err != nil {
		t.Fatalf("CompleteWithSchema: %v", err)
	}
	if got[0].Subject != "a, b" {
		t.Errorf("subject = %q, want flattened", got[0].Subject)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\": 1}\n```": `{"a": 1}`,
		"```\n[]\n```":             `[]`,
		`{"plain": true}`:          `{"plain": true}`,
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFlattenPreservesTopLevelArray(t *testing.T) {
	out, err := flattenStringArrays([]byte(`["a", "b"]`))
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	var got []string
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("top-level array mangled: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %v", got)
	}
}

func TestOllamaCompleteWithSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Format != "json" {
			t.Errorf("format = %q, want json", req.Format)
		}
		json.NewEncoder(w).Encode(ollamaResponse{Response: `{"count": 3}`, Done: true})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "mistral")
	var got struct {
		Count int `json:"count"`
	}
	if err := client.CompleteWithSchema(context.Background(), "p", &got); err != nil {
		t.Fatalf("CompleteWithSchema: %v", err)
	}
	if got.Count != 3 {
		t.Errorf("count = %d", got.Count)
	}
}
