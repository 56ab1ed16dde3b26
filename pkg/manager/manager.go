// Package manager orchestrates many simulacrum stores behind a single
// registry: explicit activation with a single-active invariant, scored
// suggestion and routing with auto-spawning, merging, archival to
// tar.zst blobs, and lifecycle cleanup.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/embeddings"
	"github.com/lbliii/sunwell-sub000/pkg/extract"
	"github.com/lbliii/sunwell-sub000/pkg/metrics"
	"github.com/lbliii/sunwell-sub000/pkg/store"
	"github.com/lbliii/sunwell-sub000/pkg/summarize"
	"github.com/lbliii/sunwell-sub000/pkg/trace"
)

var (
	// ErrStoreExists rejects creating a duplicate name.
	ErrStoreExists = errors.New("simulacrum already exists")
	// ErrStoreNotFound is returned for unknown names.
	ErrStoreNotFound = errors.New("simulacrum not found")
	// ErrConfirmRequired guards destructive deletion.
	ErrConfirmRequired = errors.New("deletion requires explicit confirmation")
	// ErrStoreActive rejects archiving or deleting the active store.
	ErrStoreActive = errors.New("simulacrum is active; switch first")
	// ErrUnsupportedArchive rejects restore of anything but .tar.zst.
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	// ErrArchiveNotFound is returned when no archive exists for a name.
	ErrArchiveNotFound = errors.New("archived simulacrum not found")
)

// Manager owns a registry of named stores. All registry mutation is
// serialized behind one mutex shared across every store it owns;
// individual stores stay independently drivable once handed out.
type Manager struct {
	basePath  string
	storeCfg  store.Config
	spawn     SpawnPolicy
	lifecycle LifecyclePolicy

	mu         sync.Mutex
	metadata   map[string]*Metadata
	archived   map[string]ArchiveMetadata
	stores     map[string]*store.Store
	activeName string

	pending   []*pendingDomain
	unmatched []string

	embedder   embeddings.Client
	summarizer summarize.Summarizer
	extractor  *extract.LLMExtractor
	collector  metrics.Collector
	tracer     trace.Exporter
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithStoreConfig sets the config applied to newly opened stores.
func WithStoreConfig(cfg store.Config) Option {
	return func(m *Manager) { m.storeCfg = cfg }
}

// WithSpawnPolicy overrides the auto-spawn policy.
func WithSpawnPolicy(p SpawnPolicy) Option {
	return func(m *Manager) { m.spawn = p }
}

// WithLifecyclePolicy overrides the cleanup policy.
func WithLifecyclePolicy(p LifecyclePolicy) Option {
	return func(m *Manager) { m.lifecycle = p }
}

// WithEmbedder threads an embedding client into every store opened by
// this manager.
func WithEmbedder(c embeddings.Client) Option {
	return func(m *Manager) { m.embedder = c }
}

// WithSummarizer threads a summarizer into every store opened by this
// manager.
func WithSummarizer(s summarize.Summarizer) Option {
	return func(m *Manager) { m.summarizer = s }
}

// WithExtractor threads a model-backed learning extractor into every
// store opened by this manager.
func WithExtractor(e *extract.LLMExtractor) Option {
	return func(m *Manager) { m.extractor = e }
}

// WithMetrics threads a metrics collector into every store opened by
// this manager.
func WithMetrics(c metrics.Collector) Option {
	return func(m *Manager) { m.collector = c }
}

// WithTracer threads a trace exporter into every store opened by this
// manager.
func WithTracer(t trace.Exporter) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithLogger sets the structured logger. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New opens the manager rooted at basePath, loading the registry if
// one exists. A missing or corrupt registry starts empty rather than
// failing.
func New(basePath string, opts ...Option) (*Manager, error) {
	m := &Manager{
		basePath:  basePath,
		storeCfg:  store.DefaultConfig(),
		spawn:     DefaultSpawnPolicy(),
		lifecycle: DefaultLifecyclePolicy(),
		metadata:  make(map[string]*Metadata),
		archived:  make(map[string]ArchiveMetadata),
		stores:    make(map[string]*store.Store),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create manager dir: %w", err)
	}
	m.loadRegistry()
	return m, nil
}

// Create registers a new simulacrum and opens its store.
func (m *Manager) Create(name, description string, domains ...string) (*store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(name, description, domains)
}

func (m *Manager) createLocked(name, description string, domains []string) (*store.Store, error) {
	if _, exists := m.metadata[name]; exists {
		return nil, fmt.Errorf("create %q: %w", name, ErrStoreExists)
	}

	st, err := m.openStore(name)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	m.metadata[name] = &Metadata{
		Name:         name,
		Description:  description,
		Domains:      domains,
		CreatedAt:    now,
		LastAccessed: now,
	}
	m.stores[name] = st
	if err := m.saveRegistry(); err != nil {
		return nil, err
	}
	return st, nil
}

func (m *Manager) openStore(name string) (*store.Store, error) {
	opts := []store.Option{}
	if m.embedder != nil {
		opts = append(opts, store.WithEmbedder(m.embedder))
	}
	if m.summarizer != nil {
		opts = append(opts, store.WithSummarizer(m.summarizer))
	}
	if m.extractor != nil {
		opts = append(opts, store.WithExtractor(m.extractor))
	}
	if m.collector != nil {
		opts = append(opts, store.WithMetrics(m.collector))
	}
	if m.tracer != nil {
		opts = append(opts, store.WithTracer(m.tracer))
	}
	if m.logger != nil {
		opts = append(opts, store.WithLogger(m.logger))
	}
	st, err := store.Open(filepath.Join(m.basePath, name), m.storeCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("open store %q: %w", name, err)
	}
	return st, nil
}

// Get returns the named store, lazily opening it.
func (m *Manager) Get(name string) (*store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(name)
}

func (m *Manager) getLocked(name string) (*store.Store, error) {
	if _, known := m.metadata[name]; !known {
		return nil, fmt.Errorf("get %q: %w", name, ErrStoreNotFound)
	}
	if st, loaded := m.stores[name]; loaded {
		return st, nil
	}
	st, err := m.openStore(name)
	if err != nil {
		return nil, err
	}
	m.stores[name] = st
	return st, nil
}

// BasePath returns the root directory the manager was opened at.
func (m *Manager) BasePath() string {
	return m.basePath
}

// Lookup returns the metadata for a name without opening its store.
// The boolean makes the create-vs-load branch explicit for callers.
func (m *Manager) Lookup(name string) (Metadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.metadata[name]
	if !ok {
		return Metadata{}, false
	}
	return *meta, true
}

// CreateOrLoad opens the named store, creating it when absent.
func (m *Manager) CreateOrLoad(name, description string, domains ...string) (*store.Store, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.metadata[name]; exists {
		st, err := m.getLocked(name)
		return st, false, err
	}
	st, err := m.createLocked(name, description, domains)
	return st, true, err
}

// List returns all registered simulacrums, most recently accessed
// first.
func (m *Manager) List() []Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Metadata, 0, len(m.metadata))
	for _, meta := range m.metadata {
		out = append(out, *meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessed.After(out[j].LastAccessed) })
	return out
}

// Delete removes a simulacrum and its directory. It refuses to run
// without confirm and never touches the active store.
func (m *Manager) Delete(name string, confirm bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(name, confirm)
}

func (m *Manager) deleteLocked(name string, confirm bool) error {
	if !confirm {
		return fmt.Errorf("delete %q: %w", name, ErrConfirmRequired)
	}
	if _, known := m.metadata[name]; !known {
		return fmt.Errorf("delete %q: %w", name, ErrStoreNotFound)
	}
	if name == m.activeName {
		return fmt.Errorf("delete %q: %w", name, ErrStoreActive)
	}

	delete(m.stores, name)
	delete(m.metadata, name)
	if err := os.RemoveAll(filepath.Join(m.basePath, name)); err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return m.saveRegistry()
}

// Activate switches the active simulacrum, flushing the previous one
// first. The returned store is the caller's session context; the
// manager keeps only the name, to enforce the single-active invariant
// on archive and delete.
func (m *Manager) Activate(name string) (*store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activateLocked(name)
}

func (m *Manager) activateLocked(name string) (*store.Store, error) {
	st, err := m.getLocked(name)
	if err != nil {
		return nil, err
	}

	if m.activeName != "" && m.activeName != name {
		if prev, loaded := m.stores[m.activeName]; loaded {
			if err := prev.Flush(); err != nil {
				m.debug("flush on switch failed", "store", m.activeName, "error", err)
			}
		}
	}

	meta := m.metadata[name]
	meta.LastAccessed = time.Now()
	meta.AccessCount++
	m.refreshCountsLocked(name, st)

	m.activeName = name
	if err := m.saveRegistry(); err != nil {
		return nil, err
	}
	return st, nil
}

// ActiveName returns the name of the active simulacrum, "" for none.
func (m *Manager) ActiveName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeName
}

func (m *Manager) refreshCountsLocked(name string, st *store.Store) {
	stats := st.Stats()
	meta := m.metadata[name]
	meta.NodeCount = stats.Topology.Nodes
	meta.LearningCount = stats.Conversation.Learnings
}

// SaveAll flushes every loaded store and rewrites the registry.
func (m *Manager) SaveAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, st := range m.stores {
		if err := st.Flush(); err != nil {
			return fmt.Errorf("flush %q: %w", name, err)
		}
		m.refreshCountsLocked(name, st)
	}
	return m.saveRegistry()
}

// Stats summarizes the whole registry.
type Stats struct {
	Simulacrums    int    `json:"simulacrums"`
	Archived       int    `json:"archived"`
	Active         string `json:"active,omitempty"`
	TotalNodes     int    `json:"total_nodes"`
	TotalLearnings int    `json:"total_learnings"`
}

// Stats reports registry-wide counts from metadata.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Simulacrums: len(m.metadata),
		Archived:    len(m.archived),
		Active:      m.activeName,
	}
	for _, meta := range m.metadata {
		s.TotalNodes += meta.NodeCount
		s.TotalLearnings += meta.LearningCount
	}
	return s
}

func (m *Manager) debug(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}
