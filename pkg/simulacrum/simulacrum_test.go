package simulacrum

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lbliii/sunwell-sub000/pkg/embeddings"
	"github.com/lbliii/sunwell-sub000/pkg/store"
	"github.com/lbliii/sunwell-sub000/pkg/summarize"
)

func TestNewOfflineDefaults(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	require.NoError(t, err)

	// No provider configured: deterministic offline fallbacks.
	_, ok := s.Summarizer().(summarize.Heuristic)
	require.True(t, ok, "expected heuristic summarizer, got %T", s.Summarizer())

	vec, err := s.Embeddings().EmbedOne(context.Background(), "hello world")
	require.NoError(t, err)
	require.NotEmpty(t, vec)
}

func TestNewOpenAISelection(t *testing.T) {
	s, err := New(Config{
		BasePath:       t.TempDir(),
		OpenAIKey:      "sk-test",
		EmbeddingModel: "text-embedding-3-large",
	})
	require.NoError(t, err)

	oa, ok := s.Embeddings().(*embeddings.OpenAI)
	require.True(t, ok, "expected OpenAI embedder, got %T", s.Embeddings())
	require.Equal(t, "text-embedding-3-large", oa.Model)

	_, ok = s.Summarizer().(summarize.LLM)
	require.True(t, ok, "expected LLM summarizer, got %T", s.Summarizer())
}

func TestFacadeEndToEnd(t *testing.T) {
	s, err := New(Config{
		BasePath: t.TempDir(),
		Store:    store.Config{HotMaxTurns: 5},
	})
	require.NoError(t, err)

	mgr := s.Manager()
	_, err = mgr.Create("research", "Paper notes", "ml", "papers")
	require.NoError(t, err)

	st, err := mgr.Activate("research")
	require.NoError(t, err)

	ctx := context.Background()
	_, err = st.AddUser(ctx, "What is the retry budget for the fetcher?")
	require.NoError(t, err)
	_, err = st.AddAssistant(ctx, "The fetcher retry budget is 3 attempts per host.")
	require.NoError(t, err)

	require.Equal(t, 2, st.Stats().Conversation.Turns)
	require.NoError(t, s.Close())

	// A fresh handle over the same directory sees the registry.
	s2, err := New(Config{BasePath: s.Manager().BasePath()})
	require.NoError(t, err)
	meta, ok := s2.Manager().Lookup("research")
	require.True(t, ok)
	require.Equal(t, []string{"ml", "papers"}, meta.Domains)
}
