package topology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/embeddings"
)

// Index is the unified multi-topology store for one simulacrum.
// Not internally synchronized; the owning Store serializes access.
type Index struct {
	basePath string
	embedder embeddings.Client
	logger   *slog.Logger

	nodes     map[string]MemoryNode
	byContent map[string]string
	graph     *ConceptGraph
	facets    *facetIndex
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithEmbedder enables semantic text queries.
func WithEmbedder(c embeddings.Client) IndexOption {
	return func(i *Index) { i.embedder = c }
}

// WithLogger installs a logger. Nil stays silent.
func WithLogger(l *slog.Logger) IndexOption {
	return func(i *Index) { i.logger = l }
}

// NewIndex opens the index rooted at basePath, loading persisted nodes
// and edges when present.
func NewIndex(basePath string, opts ...IndexOption) (*Index, error) {
	i := &Index{
		basePath:  basePath,
		nodes:     make(map[string]MemoryNode),
		byContent: make(map[string]string),
		graph:     NewConceptGraph(),
		facets:    newFacetIndex(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if err := i.load(); err != nil {
		return nil, err
	}
	return i, nil
}

// AddNode indexes a node. Exact duplicate content maps to the existing
// node: the returned ID is the canonical one and added reports whether
// a new node was created. Dedup matters most during merges.
func (i *Index) AddNode(n MemoryNode) (string, bool) {
	if n.ID == "" {
		n.ID = NodeID(n.Content)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	if existing, ok := i.byContent[n.Content]; ok {
		return existing, false
	}

	i.nodes[n.ID] = n
	i.byContent[n.Content] = n.ID
	if !n.Facets.empty() {
		i.facets.add(n.ID, n.Facets)
	}
	return n.ID, true
}

// Node looks a node up by ID.
func (i *Index) Node(id string) (MemoryNode, bool) {
	n, ok := i.nodes[id]
	return n, ok
}

// AllNodes returns every node, newest first.
func (i *Index) AllNodes() []MemoryNode {
	out := make([]MemoryNode, 0, len(i.nodes))
	for _, n := range i.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out
}

// RemoveNode cascades removal from every axis: node map, content
// dedup, facet index, and all concept edges touching the node.
func (i *Index) RemoveNode(id string) bool {
	n, ok := i.nodes[id]
	if !ok {
		return false
	}
	delete(i.nodes, id)
	delete(i.byContent, n.Content)
	i.facets.remove(id)
	i.graph.RemoveNode(id)
	return true
}

// AddEdge links two nodes in the concept graph.
func (i *Index) AddEdge(e ConceptEdge) {
	i.graph.AddEdge(e)
}

// Graph exposes the concept graph for traversal and pruning.
func (i *Index) Graph() *ConceptGraph { return i.graph }

// ScoredNode pairs a query hit with its relevance.
type ScoredNode struct {
	Node  MemoryNode
	Score float64
}

// Query ranks nodes against free text with a blended
// keyword/embedding score. Empty text returns recent nodes.
func (i *Index) Query(ctx context.Context, text string, limit int) []ScoredNode {
	if limit <= 0 {
		limit = 10
	}
	if strings.TrimSpace(text) == "" {
		return i.recent(limit)
	}

	var qvec []float32
	if i.embedder != nil {
		vec, err := i.embedder.EmbedOne(ctx, text)
		if err != nil {
			i.debug("query embed failed, keyword-only ranking", "error", err)
		} else {
			qvec = vec
		}
	}

	qWords := queryWords(text)
	var results []ScoredNode
	for _, n := range i.nodes {
		var scores []float64
		if kw := keywordScore(qWords, n.Content); kw > 0 {
			scores = append(scores, kw)
		}
		if qvec != nil && len(n.Embedding) > 0 {
			if sim := embeddings.Cosine(qvec, n.Embedding); sim > 0 {
				scores = append(scores, sim)
			}
		}
		if len(scores) == 0 {
			continue
		}
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		results = append(results, ScoredNode{Node: n, Score: sum / float64(len(scores))})
	}

	sort.SliceStable(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// QueryFacets ranks nodes by how many facet constraints they satisfy.
func (i *Index) QueryFacets(q FacetQuery, limit int) []ScoredNode {
	if !q.hasConstraints() {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}
	var out []ScoredNode
	for id, score := range i.facets.query(q) {
		if n, ok := i.nodes[id]; ok {
			out = append(out, ScoredNode{Node: n, Score: score})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// QuerySection finds nodes filed under a section title, optionally
// restricted to one file.
func (i *Index) QuerySection(sectionTitle, filePath string) []MemoryNode {
	needle := strings.ToLower(sectionTitle)
	var out []MemoryNode
	for _, n := range i.nodes {
		if n.Spatial == nil || len(n.Spatial.SectionPath) == 0 {
			continue
		}
		if filePath != "" && n.Spatial.FilePath != filePath {
			continue
		}
		joined := strings.ToLower(strings.Join(n.Spatial.SectionPath, " > "))
		if strings.Contains(joined, needle) {
			out = append(out, n)
		}
	}
	return out
}

// Contradictions returns nodes linked to this one by contradicts
// edges, in either direction.
func (i *Index) Contradictions(id string) []MemoryNode {
	var out []MemoryNode
	for _, e := range i.graph.Outgoing(id, RelationContradicts) {
		if n, ok := i.nodes[e.TargetID]; ok {
			out = append(out, n)
		}
	}
	for _, e := range i.graph.Incoming(id, RelationContradicts) {
		if n, ok := i.nodes[e.SourceID]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Related returns nodes within depth hops of the given one.
func (i *Index) Related(id string, depth int) []MemoryNode {
	var out []MemoryNode
	for nid := range i.graph.Neighborhood(id, depth) {
		if n, ok := i.nodes[nid]; ok {
			out = append(out, n)
		}
	}
	return out
}

// ShrinkOptions tune compaction. Zero values take the defaults.
type ShrinkOptions struct {
	// LowConfidence is the node-confidence ceiling for removal
	// candidates. Default 0.5.
	LowConfidence float64
	// MinIncoming protects nodes with at least this many inbound
	// edges. Default 3.
	MinIncoming int
	// EdgeFloor prunes concept edges below this confidence. Default
	// 0.3.
	EdgeFloor float64
}

func (o *ShrinkOptions) applyDefaults() {
	if o.LowConfidence <= 0 {
		o.LowConfidence = 0.5
	}
	if o.MinIncoming <= 0 {
		o.MinIncoming = 3
	}
	if o.EdgeFloor <= 0 {
		o.EdgeFloor = 0.3
	}
}

// Shrink removes nodes that are simultaneously older than cutoff,
// below the confidence ceiling, and weakly connected, then prunes weak
// edges. Recent or well-connected content is never touched.
func (i *Index) Shrink(cutoff time.Time, opts ShrinkOptions) (nodesRemoved, edgesPruned int) {
	opts.applyDefaults()

	var victims []string
	for id, n := range i.nodes {
		if n.CreatedAt.Before(cutoff) &&
			n.Confidence < opts.LowConfidence &&
			i.graph.IncomingCount(id) < opts.MinIncoming {
			victims = append(victims, id)
		}
	}
	for _, id := range victims {
		if i.RemoveNode(id) {
			nodesRemoved++
		}
	}
	edgesPruned = i.graph.Prune(opts.EdgeFloor)
	return nodesRemoved, edgesPruned
}

func (i *Index) recent(limit int) []ScoredNode {
	all := i.AllNodes()
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]ScoredNode, len(all))
	for idx, n := range all {
		out[idx] = ScoredNode{Node: n, Score: 1.0}
	}
	return out
}

// IndexStats summarizes index occupancy.
type IndexStats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

func (i *Index) Stats() IndexStats {
	return IndexStats{Nodes: len(i.nodes), Edges: len(i.graph.Edges())}
}

// Save persists nodes and edges as two atomic JSON documents.
func (i *Index) Save() error {
	if err := os.MkdirAll(i.basePath, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	nodesData, err := json.MarshalIndent(i.nodes, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal nodes: %w", err)
	}
	if err := writeAtomic(filepath.Join(i.basePath, "nodes.json"), nodesData); err != nil {
		return err
	}

	graphData, err := json.MarshalIndent(struct {
		Edges []ConceptEdge `json:"edges"`
	}{i.graph.Edges()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}
	return writeAtomic(filepath.Join(i.basePath, "graph.json"), graphData)
}

func (i *Index) load() error {
	nodesData, err := os.ReadFile(filepath.Join(i.basePath, "nodes.json"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read nodes: %w", err)
	}
	if nodesData != nil {
		var nodes map[string]MemoryNode
		if err := json.Unmarshal(nodesData, &nodes); err != nil {
			return fmt.Errorf("decode nodes: %w", err)
		}
		for id, n := range nodes {
			i.nodes[id] = n
			i.byContent[n.Content] = id
			if !n.Facets.empty() {
				i.facets.add(id, n.Facets)
			}
		}
	}

	graphData, err := os.ReadFile(filepath.Join(i.basePath, "graph.json"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read graph: %w", err)
	}
	if graphData != nil {
		var doc struct {
			Edges []ConceptEdge `json:"edges"`
		}
		if err := json.Unmarshal(graphData, &doc); err != nil {
			return fmt.Errorf("decode graph: %w", err)
		}
		for _, e := range doc.Edges {
			i.graph.AddEdge(e)
		}
	}
	return nil
}

func (i *Index) debug(msg string, args ...any) {
	if i.logger != nil {
		i.logger.Debug(msg, args...)
	}
}

var queryStop = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "to": {}, "of": {},
	"and": {}, "in": {}, "for": {}, "on": {}, "with": {}, "how": {}, "what": {},
}

func queryWords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if _, stop := queryStop[w]; !stop {
			out[w] = struct{}{}
		}
	}
	return out
}

// keywordScore is the fraction of query words present in the content.
func keywordScore(qWords map[string]struct{}, content string) float64 {
	if len(qWords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	hits := 0
	for w := range qWords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(qWords))
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
