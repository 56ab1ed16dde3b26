// Package simulacrum is the top-level entry point for the tiered
// conversational memory engine. It wires embedding and completion
// providers, the per-store configuration and the multi-store manager
// into one handle.
package simulacrum

import (
	"fmt"
	"log/slog"

	"github.com/lbliii/sunwell-sub000/pkg/embeddings"
	"github.com/lbliii/sunwell-sub000/pkg/extract"
	"github.com/lbliii/sunwell-sub000/pkg/llm"
	"github.com/lbliii/sunwell-sub000/pkg/manager"
	"github.com/lbliii/sunwell-sub000/pkg/metrics"
	"github.com/lbliii/sunwell-sub000/pkg/store"
	"github.com/lbliii/sunwell-sub000/pkg/summarize"
	"github.com/lbliii/sunwell-sub000/pkg/trace"
)

// Config holds configuration for the memory engine.
type Config struct {
	// BasePath is the root directory for all simulacrum stores.
	BasePath string

	// OpenAIKey enables the OpenAI embedding and completion providers.
	OpenAIKey string

	// OllamaURL enables local Ollama providers; ignored when an OpenAI
	// key is set.
	OllamaURL string

	// EmbeddingModel overrides the provider's default embedding model.
	EmbeddingModel string

	// SummaryModel overrides the completion model used for chunk
	// summaries.
	SummaryModel string

	// Store is the per-store tiering config applied to every store the
	// manager opens.
	Store store.Config

	// TracePath enables operation tracing to a JSONL file when set.
	TracePath string
}

// Simulacrum is the assembled memory engine.
type Simulacrum struct {
	config     Config
	manager    *manager.Manager
	embeddings embeddings.Client
	summarizer summarize.Summarizer
	collector  metrics.Collector
	tracer     trace.Exporter
	logger     *slog.Logger
}

// Option configures optional collaborators.
type Option func(*Simulacrum)

// WithLogger sets the structured logger used by every component.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulacrum) { s.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Simulacrum) { s.collector = c }
}

// WithEmbedder overrides provider selection with an explicit client.
func WithEmbedder(c embeddings.Client) Option {
	return func(s *Simulacrum) { s.embeddings = c }
}

// WithSummarizer overrides provider selection with an explicit
// summarizer.
func WithSummarizer(sm summarize.Summarizer) Option {
	return func(s *Simulacrum) { s.summarizer = sm }
}

// New assembles the engine. Providers are resolved once here: OpenAI
// when a key is set, Ollama when a URL is set, and deterministic
// offline fallbacks (hash embedder, extractive summarizer) otherwise.
func New(cfg Config, opts ...Option) (*Simulacrum, error) {
	if cfg.BasePath == "" {
		cfg.BasePath = "./simulacrums"
	}

	s := &Simulacrum{
		config:    cfg,
		collector: metrics.NewNoopCollector(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.embeddings == nil {
		switch {
		case cfg.OpenAIKey != "":
			client := embeddings.NewOpenAI(cfg.OpenAIKey)
			if cfg.EmbeddingModel != "" {
				client.Model = cfg.EmbeddingModel
			}
			s.embeddings = client
		case cfg.OllamaURL != "":
			s.embeddings = embeddings.NewOllama(cfg.OllamaURL, cfg.EmbeddingModel)
		default:
			s.embeddings = embeddings.NewCached(embeddings.Hash{}, 0)
		}
	}

	var client llm.LLMClient
	switch {
	case cfg.OpenAIKey != "":
		oa := llm.NewOpenAILLM(cfg.OpenAIKey)
		if cfg.SummaryModel != "" {
			oa.Model = cfg.SummaryModel
		}
		client = oa
	case cfg.OllamaURL != "":
		client = llm.NewOllamaClient(cfg.OllamaURL, cfg.SummaryModel)
	}
	if s.summarizer == nil {
		if client != nil {
			s.summarizer = summarize.LLM{Client: client}
		} else {
			s.summarizer = summarize.Heuristic{}
		}
	}

	mgrOpts := []manager.Option{
		manager.WithStoreConfig(cfg.Store),
		manager.WithEmbedder(s.embeddings),
		manager.WithSummarizer(s.summarizer),
		manager.WithMetrics(s.collector),
	}
	if client != nil {
		mgrOpts = append(mgrOpts, manager.WithExtractor(extract.NewLLMExtractor(client)))
	}
	if cfg.TracePath != "" {
		exporter, err := trace.NewFileExporter(cfg.TracePath)
		if err != nil {
			return nil, fmt.Errorf("open trace exporter: %w", err)
		}
		s.tracer = exporter
		mgrOpts = append(mgrOpts, manager.WithTracer(exporter))
	}
	if s.logger != nil {
		mgrOpts = append(mgrOpts, manager.WithLogger(s.logger))
	}
	mgr, err := manager.New(cfg.BasePath, mgrOpts...)
	if err != nil {
		return nil, err
	}
	s.manager = mgr

	return s, nil
}

// Manager returns the multi-store manager.
func (s *Simulacrum) Manager() *manager.Manager {
	return s.manager
}

// Embeddings returns the configured embedding client.
func (s *Simulacrum) Embeddings() embeddings.Client {
	return s.embeddings
}

// Summarizer returns the configured summarizer.
func (s *Simulacrum) Summarizer() summarize.Summarizer {
	return s.summarizer
}

// Close flushes every open store, the registry, and the tracer.
func (s *Simulacrum) Close() error {
	err := s.manager.SaveAll()
	if s.tracer != nil {
		if terr := s.tracer.Close(); terr != nil && err == nil {
			err = terr
		}
	}
	return err
}
