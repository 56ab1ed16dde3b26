package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

// logDocument is the on-disk form of a Log. Version gates future
// migrations; decoding tolerates absent optional fields so older
// documents keep loading.
type logDocument struct {
	Version    int                      `json:"version"`
	Turns      map[string]turn.Turn     `json:"turns"`
	Learnings  map[string]turn.Learning `json:"learnings"`
	GraphEdges []LearningEdge           `json:"learning_graph_edges,omitempty"`
	Roots      []string                 `json:"roots,omitempty"`
	Heads      []string                 `json:"heads,omitempty"`
	ActiveHead string                   `json:"active_head,omitempty"`
	Branches   map[string]string        `json:"branches,omitempty"`
	DeadEnds   []string                 `json:"dead_ends,omitempty"`
	Compressed []string                 `json:"compressed,omitempty"`
}

const logDocumentVersion = 1

// Save writes the log as a single JSON document, atomically.
func (l *Log) Save(path string) error {
	doc := logDocument{
		Version:    logDocumentVersion,
		Turns:      l.turns,
		Learnings:  l.learnings,
		GraphEdges: l.graph.Edges(),
		Roots:      setToSlice(l.roots),
		Heads:      setToSlice(l.heads),
		ActiveHead: l.activeHead,
		Branches:   l.branches,
		DeadEnds:   setToSlice(l.deadEnds),
		Compressed: setToSlice(l.compressed),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal log: %w", err)
	}
	return writeFileAtomic(path, data)
}

// LoadLog reads a log document. A missing file yields an empty log;
// a malformed file is an error.
func LoadLog(path string) (*Log, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewLog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	var doc logDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode log %s: %w", path, err)
	}

	l := NewLog()
	for id, t := range doc.Turns {
		l.turns[id] = t
	}
	for id, le := range doc.Learnings {
		l.learnings[id] = le
	}
	for _, id := range doc.Roots {
		l.roots[id] = struct{}{}
	}
	for _, id := range doc.Heads {
		l.heads[id] = struct{}{}
	}
	l.activeHead = doc.ActiveHead
	for name, id := range doc.Branches {
		l.branches[name] = id
	}
	for _, id := range doc.DeadEnds {
		l.deadEnds[id] = struct{}{}
	}
	for _, id := range doc.Compressed {
		l.compressed[id] = struct{}{}
	}

	// Rebuild the derived child index from parent links.
	for id, t := range l.turns {
		for _, pid := range t.ParentIDs {
			if l.children[pid] == nil {
				l.children[pid] = make(map[string]struct{})
			}
			l.children[pid][id] = struct{}{}
		}
	}

	for _, e := range doc.GraphEdges {
		l.graph.AddEdge(e)
	}
	return l, nil
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".log-*")
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
