package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileExporter appends records to a JSON Lines file, rotating when the
// file exceeds a size threshold.
type FileExporter struct {
	path       string
	maxBytes   int64
	maxRotated int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	closed  bool
}

// FileOption configures a FileExporter.
type FileOption func(*FileExporter)

// WithMaxSize sets the rotation threshold in bytes.
func WithMaxSize(bytes int64) FileOption {
	return func(fe *FileExporter) { fe.maxBytes = bytes }
}

// WithMaxRotated sets how many rotated files to keep.
func WithMaxRotated(count int) FileOption {
	return func(fe *FileExporter) { fe.maxRotated = count }
}

// NewFileExporter opens path for append, creating parent directories.
func NewFileExporter(path string, opts ...FileOption) (*FileExporter, error) {
	fe := &FileExporter{
		path:       path,
		maxBytes:   10 << 20,
		maxRotated: 5,
	}
	for _, opt := range opts {
		opt(fe)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	if err := fe.open(); err != nil {
		return nil, err
	}
	return fe, nil
}

func (fe *FileExporter) open() error {
	f, err := os.OpenFile(fe.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	fe.file = f
	fe.encoder = json.NewEncoder(f)
	return nil
}

// Export writes one JSON line and rotates if the file grew past the
// threshold.
func (fe *FileExporter) Export(_ context.Context, record *Record) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return fmt.Errorf("exporter closed")
	}
	if err := fe.encoder.Encode(record); err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	return fe.rotateIfNeeded()
}

// Close syncs and closes the underlying file.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true
	if err := fe.file.Sync(); err != nil {
		fe.file.Close()
		return fmt.Errorf("sync trace file: %w", err)
	}
	return fe.file.Close()
}

func (fe *FileExporter) rotateIfNeeded() error {
	info, err := fe.file.Stat()
	if err != nil {
		return fmt.Errorf("stat trace file: %w", err)
	}
	if info.Size() < fe.maxBytes {
		return nil
	}

	if err := fe.file.Close(); err != nil {
		return fmt.Errorf("close for rotation: %w", err)
	}

	oldest := fmt.Sprintf("%s.%d", fe.path, fe.maxRotated)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return fmt.Errorf("drop oldest rotation: %w", err)
		}
	}
	for i := fe.maxRotated - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", fe.path, i)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, fmt.Sprintf("%s.%d", fe.path, i+1)); err != nil {
				return fmt.Errorf("shift rotation %d: %w", i, err)
			}
		}
	}
	if err := os.Rename(fe.path, fe.path+".1"); err != nil {
		return fmt.Errorf("rotate current file: %w", err)
	}

	return fe.open()
}
