package manager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func (m *Manager) registryPath() string {
	return filepath.Join(m.basePath, "registry.json")
}

// loadRegistry reads the registry document. A missing or corrupt file
// starts the manager empty; it never aborts construction.
func (m *Manager) loadRegistry() {
	data, err := os.ReadFile(m.registryPath())
	if err != nil {
		return
	}
	var doc registryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		m.debug("corrupt registry, starting empty", "error", err)
		return
	}
	for name, meta := range doc.Simulacrums {
		meta := meta
		m.metadata[name] = &meta
	}
	for name, arch := range doc.Archived {
		m.archived[name] = arch
	}
}

// saveRegistry rewrites the registry atomically. Every mutating call
// goes through here before returning to the caller.
func (m *Manager) saveRegistry() error {
	doc := registryDocument{
		Version:     registrySchemaVersion,
		Simulacrums: make(map[string]Metadata, len(m.metadata)),
		Archived:    m.archived,
		UpdatedAt:   time.Now(),
	}
	for name, meta := range m.metadata {
		doc.Simulacrums[name] = *meta
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	tmp := m.registryPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, m.registryPath()); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}
