package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how an episode ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomePartial   Outcome = "partial"
	OutcomeAbandoned Outcome = "abandoned"
)

// Episode records one past working session: what was attempted, how it
// ended and what was learned, so future sessions can avoid repeating
// mistakes.
type Episode struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Outcome   Outcome   `json:"outcome"`
	Learnings []string  `json:"learnings,omitempty"`
	Models    []string  `json:"models,omitempty"`
	TurnCount int       `json:"turn_count"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Store) episodePath() string {
	return filepath.Join(s.basePath, "episodes", "episodes.jsonl")
}

// AddEpisode appends an episode to the store's episode log.
func (s *Store) AddEpisode(summary string, outcome Outcome, learnings, models []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep := Episode{
		ID:        uuid.NewString(),
		Summary:   summary,
		Outcome:   outcome,
		Learnings: learnings,
		Models:    models,
		TurnCount: s.log.Stats().Turns,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(ep)
	if err != nil {
		return "", fmt.Errorf("marshal episode: %w", err)
	}

	f, err := os.OpenFile(s.episodePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open episode log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return "", fmt.Errorf("append episode: %w", err)
	}
	return ep.ID, nil
}

// Episodes returns the most recent episodes, newest first. Corrupt
// lines are skipped in isolation.
func (s *Store) Episodes(limit int) []Episode {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.readEpisodes()
	// The file is append-only, so reversing gives newest first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// DeadEndEpisodes returns failed episodes, newest first.
func (s *Store) DeadEndEpisodes() []Episode {
	return s.filterEpisodes(OutcomeFailed)
}

// SuccessfulPatterns returns succeeded episodes, newest first.
func (s *Store) SuccessfulPatterns() []Episode {
	return s.filterEpisodes(OutcomeSucceeded)
}

func (s *Store) filterEpisodes(outcome Outcome) []Episode {
	var out []Episode
	for _, ep := range s.Episodes(0) {
		if ep.Outcome == outcome {
			out = append(out, ep)
		}
	}
	return out
}

func (s *Store) readEpisodes() []Episode {
	f, err := os.Open(s.episodePath())
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []Episode
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ep Episode
		if err := json.Unmarshal(scanner.Bytes(), &ep); err != nil {
			s.debug("skipping corrupt episode record", "error", err)
			continue
		}
		out = append(out, ep)
	}
	return out
}
