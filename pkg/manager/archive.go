package manager

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Archive compresses a simulacrum's directory into a single tar.zst
// blob, records its metadata in the archived registry and removes the
// live directory. Archiving the active store is rejected before any
// mutation.
func (m *Manager) Archive(name, reason string) (ArchiveMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, known := m.metadata[name]
	if !known {
		return ArchiveMetadata{}, fmt.Errorf("archive %q: %w", name, ErrStoreNotFound)
	}
	if name == m.activeName {
		return ArchiveMetadata{}, fmt.Errorf("archive %q: %w", name, ErrStoreActive)
	}

	archiveDir := filepath.Join(m.basePath, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return ArchiveMetadata{}, fmt.Errorf("create archive dir: %w", err)
	}

	archivePath := filepath.Join(archiveDir,
		fmt.Sprintf("%s_%s.tar.zst", name, time.Now().Format("20060102_150405")))
	if err := compressDir(filepath.Join(m.basePath, name), name, archivePath); err != nil {
		return ArchiveMetadata{}, fmt.Errorf("archive %q: %w", name, err)
	}

	archMeta := ArchiveMetadata{
		Name:              name,
		Description:       meta.Description,
		Domains:           meta.Domains,
		ArchivedAt:        time.Now(),
		OriginalCreatedAt: meta.CreatedAt,
		LastAccessed:      meta.LastAccessed,
		NodeCount:         meta.NodeCount,
		LearningCount:     meta.LearningCount,
		Reason:            reason,
		ArchivePath:       archivePath,
	}
	m.archived[name] = archMeta
	delete(m.metadata, name)
	delete(m.stores, name)

	if err := os.RemoveAll(filepath.Join(m.basePath, name)); err != nil {
		return archMeta, fmt.Errorf("remove archived dir: %w", err)
	}
	return archMeta, m.saveRegistry()
}

// Restore decompresses an archived simulacrum and re-registers it.
// Access counters reset; node and learning counts carry over. Any
// archive path that is not a .tar.zst blob is rejected with no side
// effects.
func (m *Manager) Restore(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	archMeta, known := m.archived[name]
	if !known {
		return fmt.Errorf("restore %q: %w", name, ErrArchiveNotFound)
	}
	if !strings.HasSuffix(archMeta.ArchivePath, ".tar.zst") {
		return fmt.Errorf("restore %q from %s: %w", name, filepath.Base(archMeta.ArchivePath), ErrUnsupportedArchive)
	}
	if _, err := os.Stat(archMeta.ArchivePath); err != nil {
		return fmt.Errorf("restore %q: archive blob missing: %w", name, err)
	}

	if err := extractArchive(archMeta.ArchivePath, m.basePath); err != nil {
		return fmt.Errorf("restore %q: %w", name, err)
	}

	m.metadata[name] = &Metadata{
		Name:          name,
		Description:   archMeta.Description,
		Domains:       archMeta.Domains,
		CreatedAt:     archMeta.OriginalCreatedAt,
		LastAccessed:  time.Now(),
		NodeCount:     archMeta.NodeCount,
		LearningCount: archMeta.LearningCount,
	}
	delete(m.archived, name)
	if err := os.Remove(archMeta.ArchivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.debug("archive blob removal failed", "path", archMeta.ArchivePath, "error", err)
	}
	return m.saveRegistry()
}

// ListArchived returns archived simulacrums, newest first.
func (m *Manager) ListArchived() []ArchiveMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ArchiveMetadata, 0, len(m.archived))
	for _, a := range m.archived {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArchivedAt.After(out[j].ArchivedAt) })
	return out
}

// compressDir tars the directory under arcname and zstd-compresses the
// stream to target. Level 3 trades well between speed and ratio for
// archives that are written once.
func compressDir(dir, arcname, target string) error {
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(arcname, rel))
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

// extractArchive unpacks a tar.zst blob under base, refusing entries
// that would escape the base directory.
func extractArchive(archivePath, base string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(base, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(base)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes base: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, hdr.FileInfo().Mode())
			if err != nil {
				return err
			}
			if _, err := io.Copy(dst, tr); err != nil {
				dst.Close()
				return err
			}
			dst.Close()
		}
	}
}
