package config

type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Scheduling  SchedulingConfig  `json:"scheduling"`
	Cleanup     CleanupConfig     `json:"cleanup"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Study       StudyConfig       `json:"study"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/studysched.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulingConfig bounds schedule generation.
//
// Defaults (when fields are omitted/zero):
//   - max_horizon: "360h" (15 days)
//   - max_occurrences: 500 per schedule
//   - timezone: "UTC" (zone the CLI uses when --zone is not given)
type SchedulingConfig struct {
	MaxHorizon     string `json:"max_horizon,omitempty"`
	MaxOccurrences int    `json:"max_occurrences,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// CleanupConfig paces the deletion of stale activities after a plan edit.
type CleanupConfig struct {
	BatchSize  int `json:"batch_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// MaintenanceConfig controls the retention job run by `serve`.
//
// Schedule accepts anything robfig/cron parses ("@daily", "@every 6h", "0 3 * * *").
type MaintenanceConfig struct {
	Enabled   bool   `json:"enabled"`
	Schedule  string `json:"schedule,omitempty"`
	Retention string `json:"retention,omitempty"` // Go duration string, default "720h"
}

// StudyConfig is the per-study vocabulary plans and events are checked against.
type StudyConfig struct {
	Identifier        string   `json:"identifier"`
	TaskIdentifiers   []string `json:"task_identifiers,omitempty"`
	DataGroups        []string `json:"data_groups,omitempty"`
	ActivityEventKeys []string `json:"activity_event_keys,omitempty"`
	// AutomaticCustomEvents maps a key to "<origin event>:<ISO period>", or a bare
	// period anchored on enrollment.
	AutomaticCustomEvents map[string]string `json:"automatic_custom_events,omitempty"`
}
