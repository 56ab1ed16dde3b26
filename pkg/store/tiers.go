package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/lbliii/sunwell-sub000/pkg/turn"
)

// warmRecord is one demoted turn in a date-sharded JSONL file. Turns
// are never removed from the conversation log; demotion only marks
// them compressed and keeps the payload retrievable here.
type warmRecord struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      turn.Role `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	ParentIDs []string  `json:"parent_ids,omitempty"`
}

// demoteToWarmLocked moves the oldest uncompressed turns beyond
// HotMaxTurns into warm shards and marks them compressed.
func (s *Store) demoteToWarmLocked() error {
	var hot []turn.Turn
	for _, t := range s.log.AllTurns() {
		if !s.log.IsCompressed(t.ID()) {
			hot = append(hot, t)
		}
	}
	overflow := len(hot) - s.cfg.HotMaxTurns
	if overflow <= 0 {
		return nil
	}
	sort.Slice(hot, func(i, j int) bool { return hot[i].Timestamp.Before(hot[j].Timestamp) })

	for _, t := range hot[:overflow] {
		if err := s.appendWarm(t); err != nil {
			return fmt.Errorf("demote turn %s: %w", t.ID(), err)
		}
		s.log.MarkCompressed(t.ID())
	}
	s.debug("demoted turns to warm", "count", overflow)
	return nil
}

func (s *Store) appendWarm(t turn.Turn) error {
	rec := warmRecord{
		ID:        t.ID(),
		Content:   t.Content,
		Role:      t.Role,
		Timestamp: t.Timestamp,
		ParentIDs: t.ParentIDs,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	shard := filepath.Join(s.basePath, "warm", t.Timestamp.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(shard, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// MoveToCold compresses warm shards whose date is older than the
// cutoff into the cold directory. Returns the number of shards moved.
func (s *Store) MoveToCold(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	shards, err := filepath.Glob(filepath.Join(s.basePath, "warm", "*.jsonl"))
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, shard := range shards {
		day, err := time.Parse("2006-01-02", strings.TrimSuffix(filepath.Base(shard), ".jsonl"))
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if err := s.compressShard(shard); err != nil {
			return moved, fmt.Errorf("compress shard %s: %w", filepath.Base(shard), err)
		}
		moved++
	}
	return moved, nil
}

func (s *Store) compressShard(shard string) error {
	data, err := os.ReadFile(shard)
	if err != nil {
		return err
	}

	target := filepath.Join(s.basePath, "cold", filepath.Base(shard))
	if s.cfg.ColdCompression {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		data = enc.EncodeAll(data, nil)
		enc.Close()
		target += ".zst"
	}
	if err := writeFileAtomic(target, data); err != nil {
		return err
	}
	return os.Remove(shard)
}

// RetrieveFromWarm scans warm shards for a demoted turn by ID.
func (s *Store) RetrieveFromWarm(turnID string) (turn.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found turn.Turn
	ok := false
	s.scanWarm(func(rec warmRecord) bool {
		if rec.ID != turnID {
			return true
		}
		found = warmToTurn(rec)
		ok = true
		return false
	})
	return found, ok
}

// SearchWarm returns demoted turns whose content contains the query,
// up to limit. Matching is a plain case-insensitive substring scan.
func (s *Store) SearchWarm(query string, limit int) []turn.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}
	needle := strings.ToLower(query)
	var out []turn.Turn
	s.scanWarm(func(rec warmRecord) bool {
		if strings.Contains(strings.ToLower(rec.Content), needle) {
			out = append(out, warmToTurn(rec))
		}
		return len(out) < limit
	})
	return out
}

// scanWarm visits every warm record. Corrupt lines are skipped in
// isolation so one bad record never hides the rest of a shard. The
// visitor returns false to stop the scan.
func (s *Store) scanWarm(visit func(warmRecord) bool) {
	shards, err := filepath.Glob(filepath.Join(s.basePath, "warm", "*.jsonl"))
	if err != nil {
		return
	}
	sort.Strings(shards)
	for _, shard := range shards {
		f, err := os.Open(shard)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			var rec warmRecord
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				s.debug("skipping corrupt warm record", "shard", filepath.Base(shard), "error", err)
				continue
			}
			if !visit(rec) {
				f.Close()
				return
			}
		}
		f.Close()
	}
}

func warmToTurn(rec warmRecord) turn.Turn {
	return turn.Turn{
		Content:   rec.Content,
		Role:      rec.Role,
		Timestamp: rec.Timestamp,
		ParentIDs: rec.ParentIDs,
	}
}

// CleanupDeadEnds drops warm records whose turns were marked dead
// ends. Returns the number of records removed.
func (s *Store) CleanupDeadEnds() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dead := make(map[string]struct{})
	for _, id := range s.log.DeadEnds() {
		dead[id] = struct{}{}
	}
	if len(dead) == 0 {
		return 0, nil
	}

	shards, err := filepath.Glob(filepath.Join(s.basePath, "warm", "*.jsonl"))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, shard := range shards {
		f, err := os.Open(shard)
		if err != nil {
			continue
		}
		var keep []byte
		dropped := 0
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			var rec warmRecord
			if err := json.Unmarshal(line, &rec); err != nil {
				keep = append(keep, line...)
				keep = append(keep, '\n')
				continue
			}
			if _, isDead := dead[rec.ID]; isDead {
				dropped++
				continue
			}
			keep = append(keep, line...)
			keep = append(keep, '\n')
		}
		f.Close()
		if dropped == 0 {
			continue
		}
		if err := writeFileAtomic(shard, keep); err != nil {
			return removed, fmt.Errorf("rewrite shard %s: %w", filepath.Base(shard), err)
		}
		removed += dropped
	}
	return removed, nil
}
