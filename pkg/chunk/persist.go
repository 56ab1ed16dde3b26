package chunk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// coldCodec compresses cold-tier records. Cold chunks are written once
// and read rarely, so trading CPU for disk is the right deal.
type coldCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newColdCodec() (*coldCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	return &coldCodec{enc: enc, dec: dec}, nil
}

func (e *Engine) ensureDirs() error {
	for _, tier := range []Tier{TierHot, TierWarm, TierCold} {
		if err := os.MkdirAll(filepath.Join(e.basePath, string(tier)), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", tier, err)
		}
	}
	return nil
}

func (e *Engine) recordPath(tier Tier, id string) string {
	name := id + ".json"
	if tier == TierCold {
		name += ".zst"
	}
	return filepath.Join(e.basePath, string(tier), name)
}

// loadExisting restores chunk state from disk. Malformed records are
// skipped individually; the rest of the tier still loads.
func (e *Engine) loadExisting() {
	for _, tier := range []Tier{TierHot, TierWarm, TierCold} {
		pattern := "*.json"
		if tier == TierCold {
			pattern = "*.json.zst"
		}
		files, err := filepath.Glob(filepath.Join(e.basePath, string(tier), pattern))
		if err != nil {
			continue
		}
		for _, f := range files {
			c, err := e.readRecord(tier, f)
			if err != nil {
				e.debug("skipping malformed chunk record", "path", f, "error", err)
				continue
			}
			if tier == TierWarm {
				// Warm payloads stay on disk until expanded.
				c.Turns = nil
			}
			c.Tier = tier
			e.chunks[c.ID] = c
			if c.TurnRange.End > e.turnCount {
				e.turnCount = c.TurnRange.End
			}
		}
	}
}

func (e *Engine) readRecord(tier Tier, path string) (*Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if tier == TierCold {
		if data, err = e.codec.dec.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
	}
	var c Chunk
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, fmt.Errorf("chunk record missing id")
	}
	return &c, nil
}

// saveChunk persists the chunk's current state to its tier directory.
// For warm chunks whose in-memory copy has dropped raw turns, the
// existing on-disk payload is carried forward so expansion keeps
// working.
func (e *Engine) saveChunk(c *Chunk) error {
	record := *c
	if c.Tier == TierWarm && c.Turns == nil && len(c.ChildIDs) == 0 {
		if prev, err := e.readRecord(TierWarm, e.recordPath(TierWarm, c.ID)); err == nil {
			record.Turns = prev.Turns
		}
	}
	return e.writeRecord(&record)
}

func (e *Engine) writeRecord(c *Chunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	if c.Tier == TierCold {
		data = e.codec.enc.EncodeAll(data, nil)
	}

	path := e.recordPath(c.Tier, c.ID)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".chunk-*")
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

func (e *Engine) removeRecord(tier Tier, id string) {
	os.Remove(e.recordPath(tier, id))
}

// Expand returns a chunk with its raw turns restored. Hot chunks are
// returned as-is; warm chunks reload their payload from disk; cold
// chunks never re-expand and come back summary-only.
func (e *Engine) Expand(id string) (*Chunk, bool) {
	c, ok := e.chunks[id]
	if !ok {
		return nil, false
	}
	if c.Tier != TierWarm || c.Turns != nil {
		return c, true
	}
	rec, err := e.readRecord(TierWarm, e.recordPath(TierWarm, id))
	if err != nil {
		e.debug("expand failed, returning summary form", "id", id, "error", err)
		return c, true
	}
	expanded := *c
	expanded.Turns = rec.Turns
	return &expanded, true
}
