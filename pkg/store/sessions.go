package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lbliii/sunwell-sub000/pkg/conversation"
)

// SessionInfo is the metadata document saved next to each session's
// conversation log.
type SessionInfo struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	Project string `json:"project"`

	Created   time.Time `json:"created"`
	TurnCount int       `json:"turn_count"`
	Learnings int       `json:"learnings"`
}

const sessionSchemaVersion = 1

// NewSession starts a fresh conversation under the given project. An
// empty name derives one from the current timestamp.
func (s *Store) NewSession(project, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if project == "" {
		project = "default"
	}
	if name == "" {
		name = time.Now().Format("20060102_150405")
	}
	s.project = project
	s.session = name
	s.log = conversation.NewLog()
	return name
}

// SaveSession persists the conversation log and its metadata. An empty
// name saves the current session.
func (s *Store) SaveSession(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name != "" {
		s.session = name
	}
	return s.saveSessionLocked(s.session)
}

func (s *Store) saveSessionLocked(name string) error {
	info := SessionInfo{
		Version:   sessionSchemaVersion,
		Name:      name,
		Project:   s.project,
		Created:   time.Now(),
		TurnCount: s.log.Stats().Turns,
		Learnings: s.log.Stats().Learnings,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	// Dual write: the projects/ tree is the current layout, the flat
	// sessions/ tree is a time-boxed compatibility shim for older
	// readers. Remove the second write once nothing scans sessions/.
	for _, dir := range []string{
		filepath.Join(s.basePath, "projects", s.project),
		filepath.Join(s.basePath, "sessions"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create session dir: %w", err)
		}
		if err := s.log.Save(filepath.Join(dir, name+"_dag.json")); err != nil {
			return fmt.Errorf("save session log: %w", err)
		}
		if err := writeFileAtomic(filepath.Join(dir, name+".json"), data); err != nil {
			return fmt.Errorf("save session metadata: %w", err)
		}
	}
	return nil
}

// LoadSession replaces the current conversation with a saved one. It
// prefers the projects/ layout and falls back to the legacy flat
// directory. With auto cleanup enabled, oversized sessions demote
// their oldest turns to warm on load.
func (s *Store) LoadSession(project, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if project == "" {
		project = "default"
	}
	paths := []string{
		filepath.Join(s.basePath, "projects", project, name+"_dag.json"),
		filepath.Join(s.basePath, "sessions", name+"_dag.json"),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		log, err := conversation.LoadLog(p)
		if err != nil {
			return fmt.Errorf("load session %s: %w", name, err)
		}
		s.log = log
		s.project = project
		s.session = name
		if s.cfg.AutoCleanup {
			return s.demoteToWarmLocked()
		}
		return nil
	}
	return fmt.Errorf("load session %s/%s: %w", project, name, ErrSessionNotFound)
}

// CreateOrLoad loads the named session when it exists and otherwise
// starts it fresh, reporting which branch was taken.
func (s *Store) CreateOrLoad(project, name string) (created bool, err error) {
	err = s.LoadSession(project, name)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return false, err
	}
	s.NewSession(project, name)
	return true, nil
}

// Session returns the current project and session name.
func (s *Store) Session() (project, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project, s.session
}

// ListSessions enumerates saved sessions across both layouts, newest
// first. Corrupt metadata files are skipped.
func (s *Store) ListSessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	var out []SessionInfo

	scan := func(dir, project string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasSuffix(e.Name(), "_dag.json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			var info SessionInfo
			if err := json.Unmarshal(data, &info); err != nil {
				s.debug("skipping corrupt session metadata", "file", e.Name(), "error", err)
				continue
			}
			if info.Name == "" {
				info.Name = strings.TrimSuffix(e.Name(), ".json")
			}
			if info.Project == "" {
				info.Project = project
			}
			key := info.Project + "/" + info.Name
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, info)
		}
	}

	projects, _ := os.ReadDir(filepath.Join(s.basePath, "projects"))
	for _, p := range projects {
		if p.IsDir() {
			scan(filepath.Join(s.basePath, "projects", p.Name()), p.Name())
		}
	}
	scan(filepath.Join(s.basePath, "sessions"), "default")

	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
