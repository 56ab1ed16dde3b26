// Package conversation models a session's history as an append-only
// DAG of turns. Branching and backtracking never delete anything:
// abandoned paths are flagged as dead ends, demoted turns are flagged
// as compressed, and both stay addressable by ID forever.
package conversation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

var (
	// ErrNoBranchPoint is returned by Branch when the log is empty.
	ErrNoBranchPoint = errors.New("conversation: no turn to branch from")

	// ErrUnknownRef is returned by Checkout for a name or ID the log
	// has never seen.
	ErrUnknownRef = errors.New("conversation: unknown branch or turn")
)

// Log is the append-only conversation DAG.
type Log struct {
	turns     map[string]turn.Turn
	learnings map[string]turn.Learning
	children  map[string]map[string]struct{}

	roots      map[string]struct{}
	heads      map[string]struct{}
	activeHead string

	branches   map[string]string
	deadEnds   map[string]struct{}
	compressed map[string]struct{}

	graph *LearningGraph
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{
		turns:      make(map[string]turn.Turn),
		learnings:  make(map[string]turn.Learning),
		children:   make(map[string]map[string]struct{}),
		roots:      make(map[string]struct{}),
		heads:      make(map[string]struct{}),
		branches:   make(map[string]string),
		deadEnds:   make(map[string]struct{}),
		compressed: make(map[string]struct{}),
		graph:      NewLearningGraph(),
	}
}

// AddTurn inserts a turn and returns its content-addressed ID.
// Re-adding identical content is a no-op returning the same ID.
func (l *Log) AddTurn(t turn.Turn) string {
	id := t.ID()
	if _, ok := l.turns[id]; ok {
		return id
	}
	l.turns[id] = t

	if len(t.ParentIDs) == 0 {
		l.roots[id] = struct{}{}
	} else {
		for _, pid := range t.ParentIDs {
			if l.children[pid] == nil {
				l.children[pid] = make(map[string]struct{})
			}
			l.children[pid][id] = struct{}{}
			delete(l.heads, pid)
		}
	}

	l.heads[id] = struct{}{}
	l.activeHead = id
	return id
}

// AddUserMessage appends a user turn parented to the active head.
func (l *Log) AddUserMessage(content string) string {
	return l.AddTurn(l.childTurn(turn.RoleUser, content, ""))
}

// AddAssistantMessage appends an assistant turn parented to the active
// head, recording which model produced it.
func (l *Log) AddAssistantMessage(content, model string) string {
	return l.AddTurn(l.childTurn(turn.RoleAssistant, content, model))
}

func (l *Log) childTurn(role turn.Role, content, model string) turn.Turn {
	var parents []string
	if l.activeHead != "" {
		parents = []string{l.activeHead}
	}
	t := turn.New(role, content, parents...)
	t.Model = model
	return t
}

// AddLearning records a learning and heuristically links it to
// existing learnings for hub scoring.
func (l *Log) AddLearning(le turn.Learning) string {
	id := le.ID()
	l.learnings[id] = le

	if len(l.learnings) > 1 {
		existing := make([]turn.Learning, 0, len(l.learnings)-1)
		for eid, e := range l.learnings {
			if eid != id {
				existing = append(existing, e)
			}
		}
		for _, edge := range DetectRelations(le, existing) {
			l.graph.AddEdge(edge)
		}
	}
	return id
}

// FindLearning looks a learning up by ID.
func (l *Log) FindLearning(id string) (turn.Learning, bool) {
	le, ok := l.learnings[id]
	return le, ok
}

// ReplaceLearning swaps a stored learning for an updated version.
// Needed because learnings are value types and usage counters change
// without changing identity.
func (l *Log) ReplaceLearning(old, updated turn.Learning) bool {
	oldID := old.ID()
	if _, ok := l.learnings[oldID]; !ok {
		return false
	}
	delete(l.learnings, oldID)

	newID := updated.ID()
	l.learnings[newID] = updated

	if oldID != newID {
		l.graph.RemoveLearning(oldID)
		existing := make([]turn.Learning, 0, len(l.learnings))
		for eid, e := range l.learnings {
			if eid != newID {
				existing = append(existing, e)
			}
		}
		for _, edge := range DetectRelations(updated, existing) {
			l.graph.AddEdge(edge)
		}
	}
	return true
}

// InboundLinkCount returns how many other learnings reference this one.
func (l *Log) InboundLinkCount(learningID string) int {
	return l.graph.InboundCount(learningID)
}

// Branch names the current (or given) position so it can be returned
// to after exploring elsewhere.
func (l *Log) Branch(name string, fromTurn string) (string, error) {
	point := fromTurn
	if point == "" {
		point = l.activeHead
	}
	if point == "" {
		return "", ErrNoBranchPoint
	}
	l.branches[name] = point
	return point, nil
}

// Checkout moves the active head to a branch name or raw turn ID.
func (l *Log) Checkout(ref string) error {
	if id, ok := l.branches[ref]; ok {
		l.activeHead = id
		return nil
	}
	if _, ok := l.turns[ref]; ok {
		l.activeHead = ref
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownRef, ref)
}

// MarkDeadEnd flags the given turn (or active head) as abandoned.
func (l *Log) MarkDeadEnd(turnID string) {
	id := turnID
	if id == "" {
		id = l.activeHead
	}
	if id != "" {
		l.deadEnds[id] = struct{}{}
	}
}

// MarkCompressed flags turns as demoted out of the hot tier. The turns
// themselves stay in the log.
func (l *Log) MarkCompressed(ids ...string) {
	for _, id := range ids {
		if _, ok := l.turns[id]; ok {
			l.compressed[id] = struct{}{}
		}
	}
}

// DeadEnds returns the IDs of turns marked as dead ends.
func (l *Log) DeadEnds() []string {
	return setToSlice(l.deadEnds)
}

// IsCompressed reports whether a turn has been demoted.
func (l *Log) IsCompressed(id string) bool {
	_, ok := l.compressed[id]
	return ok
}

// Turn looks a turn up by ID regardless of compression state.
func (l *Log) Turn(id string) (turn.Turn, bool) {
	t, ok := l.turns[id]
	return t, ok
}

// ActiveHead returns the current position, "" for an empty log.
func (l *Log) ActiveHead() string { return l.activeHead }

// PathTo walks first-parent links from root to the given turn.
func (l *Log) PathTo(turnID string) []turn.Turn {
	var path []turn.Turn
	current := turnID
	for current != "" {
		t, ok := l.turns[current]
		if !ok {
			break
		}
		path = append(path, t)
		if len(t.ParentIDs) == 0 {
			break
		}
		current = t.ParentIDs[0]
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// RecentTurns returns up to n turns ending at the active head.
func (l *Log) RecentTurns(n int) []turn.Turn {
	if l.activeHead == "" || n <= 0 {
		return nil
	}
	path := l.PathTo(l.activeHead)
	if len(path) > n {
		path = path[len(path)-n:]
	}
	return path
}

// AllTurns returns every turn in timestamp order.
func (l *Log) AllTurns() []turn.Turn {
	out := make([]turn.Turn, 0, len(l.turns))
	for _, t := range l.turns {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// FindByTags returns turns sharing at least one tag, newest first.
func (l *Log) FindByTags(tags []string, limit int) []turn.Turn {
	want := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		want[t] = struct{}{}
	}

	var matches []turn.Turn
	for _, t := range l.turns {
		for _, tag := range t.Tags {
			if _, ok := want[tag]; ok {
				matches = append(matches, t)
				break
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Timestamp.After(matches[j].Timestamp) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// ActiveLearnings returns learnings that still apply at the active
// head: not superseded, and either unsourced or backed by at least one
// source turn on the active path with no source on a dead-ended turn.
func (l *Log) ActiveLearnings() []turn.Learning {
	ancestors := l.ancestorsOfActive()

	var out []turn.Learning
	for _, le := range l.learnings {
		if le.SupersededBy != "" {
			continue
		}
		if len(le.SourceTurns) == 0 {
			out = append(out, le)
			continue
		}
		reachable := false
		deadEnded := false
		for _, src := range le.SourceTurns {
			if _, ok := ancestors[src]; ok {
				reachable = true
			}
			if _, ok := l.deadEnds[src]; ok {
				deadEnded = true
			}
		}
		if reachable && !deadEnded {
			out = append(out, le)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// ancestorsOfActive collects every turn reachable backwards from the
// active head, following all parents.
func (l *Log) ancestorsOfActive() map[string]struct{} {
	seen := make(map[string]struct{})
	if l.activeHead == "" {
		return seen
	}
	stack := []string{l.activeHead}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if t, ok := l.turns[id]; ok {
			stack = append(stack, t.ParentIDs...)
		}
	}
	return seen
}

// Stats summarizes log shape.
type Stats struct {
	Turns      int `json:"turns"`
	Roots      int `json:"roots"`
	Heads      int `json:"heads"`
	Branches   int `json:"branches"`
	DeadEnds   int `json:"dead_ends"`
	Compressed int `json:"compressed"`
	Learnings  int `json:"learnings"`
	GraphEdges int `json:"graph_edges"`
}

func (l *Log) Stats() Stats {
	return Stats{
		Turns:      len(l.turns),
		Roots:      len(l.roots),
		Heads:      len(l.heads),
		Branches:   len(l.branches),
		DeadEnds:   len(l.deadEnds),
		Compressed: len(l.compressed),
		Learnings:  len(l.learnings),
		GraphEdges: len(l.graph.Edges()),
	}
}
