package manager

import "time"

// Metadata describes one registered simulacrum.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Domains     []string `json:"domains,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
	AccessCount  int       `json:"access_count"`

	NodeCount     int `json:"node_count"`
	LearningCount int `json:"learning_count"`

	AutoSpawned         bool     `json:"auto_spawned,omitempty"`
	SpawnTriggerQueries []string `json:"spawn_trigger_queries,omitempty"`
}

// ArchiveMetadata describes a simulacrum moved to cold storage.
type ArchiveMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Domains     []string `json:"domains,omitempty"`

	ArchivedAt        time.Time `json:"archived_at"`
	OriginalCreatedAt time.Time `json:"original_created_at"`
	LastAccessed      time.Time `json:"last_accessed"`

	NodeCount     int `json:"node_count"`
	LearningCount int `json:"learning_count"`

	Reason      string `json:"reason"`
	ArchivePath string `json:"archive_path"`
}

// SpawnPolicy governs automatic simulacrum creation.
type SpawnPolicy struct {
	// Enabled turns auto-spawning on.
	Enabled bool

	// NoveltyThreshold is the minimum suggestion score that counts as
	// a match; anything below is treated as a potentially novel
	// domain.
	NoveltyThreshold float64

	// MinQueriesBeforeSpawn is how many coherent unmatched queries a
	// pending domain needs before it spawns a store.
	MinQueriesBeforeSpawn int

	// DomainCoherenceThreshold is the keyword-concentration score a
	// pending domain must reach to spawn.
	DomainCoherenceThreshold float64

	// MaxSimulacrums caps the total registered store count.
	MaxSimulacrums int
}

// DefaultSpawnPolicy returns the production spawn defaults.
func DefaultSpawnPolicy() SpawnPolicy {
	return SpawnPolicy{
		Enabled:                  true,
		NoveltyThreshold:         0.3,
		MinQueriesBeforeSpawn:    3,
		DomainCoherenceThreshold: 0.6,
		MaxSimulacrums:           20,
	}
}

// LifecyclePolicy governs archival, cleanup and shrinking.
type LifecyclePolicy struct {
	// StaleDays marks a store stale when it has not been accessed for
	// this long.
	StaleDays int

	// ArchiveDays is the idle threshold past which cleanup archives a
	// store.
	ArchiveDays int

	// ProtectRecentlySpawnedDays exempts young auto-spawned stores
	// from the emptiness check.
	ProtectRecentlySpawnedDays int

	// MinUsefulNodes and MinUsefulLearnings are the floors below which
	// a store counts as empty.
	MinUsefulNodes     int
	MinUsefulLearnings int

	// MergeSimilarityThreshold is the domain-tag Jaccard similarity at
	// which two stores become merge candidates.
	MergeSimilarityThreshold float64

	AutoArchive    bool
	AutoMergeEmpty bool
}

// DefaultLifecyclePolicy returns the production lifecycle defaults.
func DefaultLifecyclePolicy() LifecyclePolicy {
	return LifecyclePolicy{
		StaleDays:                  30,
		ArchiveDays:                90,
		ProtectRecentlySpawnedDays: 7,
		MinUsefulNodes:             5,
		MinUsefulLearnings:         3,
		MergeSimilarityThreshold:   0.5,
		AutoArchive:                true,
		AutoMergeEmpty:             true,
	}
}

// registryDocument is the on-disk registry schema. Unknown fields are
// ignored on load so old binaries tolerate newer documents.
type registryDocument struct {
	Version     int                        `json:"version"`
	Simulacrums map[string]Metadata        `json:"simulacrums"`
	Archived    map[string]ArchiveMetadata `json:"archived"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}

const registrySchemaVersion = 1
