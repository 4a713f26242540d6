package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"studysched/internal/events"
)

const (
	DefaultMaxHorizon          = 360 * time.Hour
	DefaultMaxOccurrences      = 500
	DefaultCleanupBatchSize    = 100
	DefaultCleanupRatePerSec   = 50
	DefaultMaintenanceSchedule = "@daily"
	DefaultRetention           = 720 * time.Hour

	// requests and prune cutoffs are hour-grained; anything shorter is a typo
	minHorizon   = time.Hour
	minRetention = time.Hour
)

// Settings is the typed, defaulted view of a Config.
type Settings struct {
	MaxHorizon     time.Duration
	MaxOccurrences int
	Zone           *time.Location

	CleanupBatchSize  int
	CleanupRatePerSec int

	MaintenanceEnabled  bool
	MaintenanceSchedule string
	Retention           time.Duration

	BusyTimeout time.Duration
}

// Resolve validates cfg and applies defaults. Every problem found is reported.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	var (
		s    Settings
		errs []error
		err  error
	)

	if s.MaxHorizon, err = durationSetting("scheduling.max_horizon", cfg.Scheduling.MaxHorizon, DefaultMaxHorizon, minHorizon); err != nil {
		errs = append(errs, err)
	}
	s.MaxOccurrences = orDefault(cfg.Scheduling.MaxOccurrences, DefaultMaxOccurrences)
	if cfg.Scheduling.MaxOccurrences < 0 {
		errs = append(errs, errors.New("scheduling.max_occurrences: must be >= 0"))
	}
	s.Zone = time.UTC
	if tz := strings.TrimSpace(cfg.Scheduling.Timezone); tz != "" {
		if s.Zone, err = time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduling.timezone: %w", err))
		}
	}

	s.CleanupBatchSize = orDefault(cfg.Cleanup.BatchSize, DefaultCleanupBatchSize)
	s.CleanupRatePerSec = orDefault(cfg.Cleanup.RatePerSec, DefaultCleanupRatePerSec)

	s.MaintenanceEnabled = cfg.Maintenance.Enabled
	s.MaintenanceSchedule = strings.TrimSpace(cfg.Maintenance.Schedule)
	if s.MaintenanceSchedule == "" {
		s.MaintenanceSchedule = DefaultMaintenanceSchedule
	}
	if _, err := cron.ParseStandard(s.MaintenanceSchedule); err != nil {
		errs = append(errs, fmt.Errorf("maintenance.schedule: %w", err))
	}
	if s.Retention, err = durationSetting("maintenance.retention", cfg.Maintenance.Retention, DefaultRetention, minRetention); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "mem":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path: required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if s.BusyTimeout, err = durationSetting("storage.busy_timeout", cfg.Storage.BusyTimeout, 0, 0); err != nil {
		errs = append(errs, err)
	}

	if _, err := events.ParseAutomaticEvents(cfg.Study.AutomaticCustomEvents); err != nil {
		errs = append(errs, fmt.Errorf("study.automatic_custom_events: %w", err))
	}

	return s, errors.Join(errs...)
}

// Validate is Resolve without the result.
func Validate(cfg *Config) error {
	_, err := Resolve(cfg)
	return err
}

// durationSetting parses a Go duration at a config path. Empty or zero means
// def; a set value below floor is rejected.
func durationSetting(path, raw string, def, floor time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration like \"48h\" or \"30m\"", path, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative", path)
	case d == 0:
		return def, nil
	case d < floor:
		return 0, fmt.Errorf("%s: %s is shorter than the minimum of %s", path, d, floor)
	}
	return d, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
