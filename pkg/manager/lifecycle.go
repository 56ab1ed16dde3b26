package manager

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/topology"
)

// Merge copies the content-deduplicated union of source's nodes,
// concept edges and active learnings into the target, then optionally
// deletes the source. Returns the number of items merged.
func (m *Manager) Merge(source, into string, deleteSource bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.getLocked(source)
	if err != nil {
		return 0, err
	}
	dst, err := m.getLocked(into)
	if err != nil {
		return 0, err
	}

	merged := 0
	for _, node := range src.Index().AllNodes() {
		// AddNode dedups by exact content, so a node already present
		// in the target is a no-op.
		if _, added := dst.Index().AddNode(node); added {
			merged++
		}
	}
	for _, edge := range src.Index().Graph().Edges() {
		dst.Index().AddEdge(edge)
	}
	for _, learning := range src.Log().ActiveLearnings() {
		if _, exists := dst.Log().FindLearning(learning.ID()); exists {
			continue
		}
		dst.Log().AddLearning(learning)
		merged++
	}

	if err := dst.Flush(); err != nil {
		return merged, fmt.Errorf("flush merge target: %w", err)
	}
	m.refreshCountsLocked(into, dst)

	if deleteSource {
		if err := m.deleteLocked(source, true); err != nil {
			return merged, err
		}
		return merged, nil
	}
	return merged, m.saveRegistry()
}

// CrossResult is one hit from a cross-simulacrum query.
type CrossResult struct {
	Simulacrum string
	Node       topology.MemoryNode
	Score      float64
}

// QueryAll queries every registered simulacrum, interleaving results
// by score. Useful when knowledge may live in a different context than
// the active one.
func (m *Manager) QueryAll(ctx context.Context, query string, limitPerStore int) ([]CrossResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []CrossResult
	for name := range m.metadata {
		st, err := m.getLocked(name)
		if err != nil {
			return nil, err
		}
		for _, hit := range st.Index().Query(ctx, query, limitPerStore) {
			out = append(out, CrossResult{Simulacrum: name, Node: hit.Node, Score: hit.Score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// RelatedStore pairs a simulacrum name with its domain-tag similarity.
type RelatedStore struct {
	Name       string
	Similarity float64
}

// RelatedStores ranks other simulacrums by domain-tag Jaccard
// similarity with the named one. Consolidation candidates rank first.
func (m *Manager) RelatedStores(name string) []RelatedStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relatedLocked(name)
}

func (m *Manager) relatedLocked(name string) []RelatedStore {
	source, ok := m.metadata[name]
	if !ok {
		return nil
	}
	sourceDomains := make(map[string]struct{}, len(source.Domains))
	for _, d := range source.Domains {
		sourceDomains[d] = struct{}{}
	}

	var out []RelatedStore
	for otherName, other := range m.metadata {
		if otherName == name {
			continue
		}
		overlap, union := 0, len(sourceDomains)
		for _, d := range other.Domains {
			if _, shared := sourceDomains[d]; shared {
				overlap++
			} else {
				union++
			}
		}
		if union == 0 || overlap == 0 {
			continue
		}
		out = append(out, RelatedStore{Name: otherName, Similarity: float64(overlap) / float64(union)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// StaleStore reports how long a stale simulacrum has been idle.
type StaleStore struct {
	Name         string
	DaysSinceUse int
}

// MergeCandidate is a pair of simulacrums similar enough to merge.
type MergeCandidate struct {
	A          string
	B          string
	Similarity float64
}

// HealthReport classifies registered simulacrums for cleanup.
type HealthReport struct {
	Stale             []StaleStore
	Empty             []string
	ArchiveCandidates []string
	MergeCandidates   []MergeCandidate
	TotalStores       int
	TotalArchived     int
}

// CheckHealth classifies stores as stale, empty or merge candidates
// per the lifecycle policy. Recently auto-spawned stores are exempt
// from the emptiness check during their grace window.
func (m *Manager) CheckHealth() HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkHealthLocked()
}

func (m *Manager) checkHealthLocked() HealthReport {
	now := time.Now()
	report := HealthReport{
		TotalStores:   len(m.metadata),
		TotalArchived: len(m.archived),
	}

	names := make([]string, 0, len(m.metadata))
	for name := range m.metadata {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		meta := m.metadata[name]
		idleDays := int(now.Sub(meta.LastAccessed).Hours() / 24)

		if idleDays >= m.lifecycle.StaleDays {
			report.Stale = append(report.Stale, StaleStore{Name: name, DaysSinceUse: idleDays})
		}
		if idleDays >= m.lifecycle.ArchiveDays {
			report.ArchiveCandidates = append(report.ArchiveCandidates, name)
		}

		if meta.AutoSpawned {
			ageDays := int(now.Sub(meta.CreatedAt).Hours() / 24)
			if ageDays < m.lifecycle.ProtectRecentlySpawnedDays {
				continue
			}
		}
		if meta.NodeCount < m.lifecycle.MinUsefulNodes && meta.LearningCount < m.lifecycle.MinUsefulLearnings {
			report.Empty = append(report.Empty, name)
		}
	}

	for i, a := range names {
		for _, rel := range m.relatedLocked(a) {
			if rel.Similarity < m.lifecycle.MergeSimilarityThreshold {
				continue
			}
			for _, b := range names[i+1:] {
				if rel.Name == b {
					report.MergeCandidates = append(report.MergeCandidates, MergeCandidate{A: a, B: b, Similarity: rel.Similarity})
				}
			}
		}
	}
	return report
}

// CleanupReport lists the actions cleanup took, or would take in
// dry-run mode.
type CleanupReport struct {
	Archived []string
	Merged   []string
	Deleted  []string
	DryRun   bool
}

// Cleanup archives stale stores and folds empty auto-spawned stores
// into their best related match (deleting them when nothing relates).
// With dryRun the report describes what would happen and nothing
// changes.
func (m *Manager) Cleanup(dryRun bool) (CleanupReport, error) {
	m.mu.Lock()
	health := m.checkHealthLocked()
	active := m.activeName
	m.mu.Unlock()

	report := CleanupReport{DryRun: dryRun}

	if m.lifecycle.AutoArchive {
		for _, name := range health.ArchiveCandidates {
			if name == active {
				continue
			}
			if dryRun {
				report.Archived = append(report.Archived, name+" (would archive)")
				continue
			}
			if _, err := m.Archive(name, "stale"); err != nil {
				return report, fmt.Errorf("cleanup archive %q: %w", name, err)
			}
			report.Archived = append(report.Archived, name)
		}
	}

	if m.lifecycle.AutoMergeEmpty {
		for _, name := range health.Empty {
			if name == active {
				continue
			}
			meta, ok := m.Lookup(name)
			if !ok || !meta.AutoSpawned {
				continue
			}

			related := m.RelatedStores(name)
			if len(related) > 0 {
				target := related[0].Name
				if dryRun {
					report.Merged = append(report.Merged, fmt.Sprintf("%s -> %s (would merge)", name, target))
					continue
				}
				if _, err := m.Merge(name, target, true); err != nil {
					return report, fmt.Errorf("cleanup merge %q: %w", name, err)
				}
				report.Merged = append(report.Merged, fmt.Sprintf("%s -> %s", name, target))
				continue
			}

			if dryRun {
				report.Deleted = append(report.Deleted, name+" (would delete)")
				continue
			}
			if err := m.Delete(name, true); err != nil {
				return report, fmt.Errorf("cleanup delete %q: %w", name, err)
			}
			report.Deleted = append(report.Deleted, name)
		}
	}
	return report, nil
}

// ShrinkStats reports what a shrink removed.
type ShrinkStats struct {
	NodesRemoved int
	EdgesPruned  int
}

// Shrink compacts a simulacrum in place: topology nodes older than the
// keep window that are low-confidence and weakly connected are
// removed, and weak concept edges pruned. Recent or well-connected
// content is never touched; this is compaction, not archival.
func (m *Manager) Shrink(name string, keepRecentDays int) (ShrinkStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.getLocked(name)
	if err != nil {
		return ShrinkStats{}, err
	}

	cutoff := time.Now().AddDate(0, 0, -keepRecentDays)
	nodes, edges := st.Index().Shrink(cutoff, topology.ShrinkOptions{})
	if err := st.Index().Save(); err != nil {
		return ShrinkStats{}, fmt.Errorf("save after shrink: %w", err)
	}

	m.refreshCountsLocked(name, st)
	if err := m.saveRegistry(); err != nil {
		return ShrinkStats{}, err
	}
	return ShrinkStats{NodesRemoved: nodes, EdgesPruned: edges}, nil
}
