package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

func sampleTurns() []turn.Turn {
	return []turn.Turn{
		turn.New(turn.RoleUser, "Help me fix the database connection pool, it keeps exhausting connections under load."),
		turn.New(turn.RoleAssistant, "The connection pool is exhausting because connections are never returned. Check the defer placement."),
		turn.New(turn.RoleUser, "Moving the defer fixed the pool exhaustion. Thanks."),
	}
}

func TestHeuristicSummarize(t *testing.T) {
	sum, err := Heuristic{}.Summarize(context.Background(), sampleTurns())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum == "" {
		t.Fatal("expected non-empty summary")
	}
	if !strings.HasPrefix(sum, "Request:") {
		t.Errorf("summary should open with the user request, got: %s", sum)
	}
	if !strings.Contains(sum, "Ended with") {
		t.Errorf("summary should note the final exchange, got: %s", sum)
	}
}

func TestHeuristicEmpty(t *testing.T) {
	sum, err := Heuristic{}.Summarize(context.Background(), nil)
	if err != nil || sum != "" {
		t.Errorf("empty input should yield empty summary, got %q err %v", sum, err)
	}
}

type fakeLLM struct {
	out string
	err error
}

func (f fakeLLM) Complete(_ context.Context, _ string) (string, error) { return f.out, f.err }
func (f fakeLLM) CompleteWithSchema(_ context.Context, _ string, _ any) error {
	return errors.New("not implemented")
}

func TestLLMSummarize(t *testing.T) {
	l := LLM{Client: fakeLLM{out: "  A tidy summary.  "}}
	sum, err := l.Summarize(context.Background(), sampleTurns())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sum != "A tidy summary." {
		t.Errorf("expected trimmed model output, got %q", sum)
	}
}

func TestLLMSummarizeFallsBack(t *testing.T) {
	l := LLM{Client: fakeLLM{err: errors.New("model down")}}
	sum, err := l.Summarize(context.Background(), sampleTurns())
	if err != nil {
		t.Fatalf("fallback should not surface model error: %v", err)
	}
	if !strings.HasPrefix(sum, "Request:") {
		t.Errorf("expected heuristic fallback output, got %q", sum)
	}
}
