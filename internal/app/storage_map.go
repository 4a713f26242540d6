package app

import (
	"strings"

	"studysched/internal/config"
	"studysched/internal/events"
	"studysched/internal/schedule"
	"studysched/internal/scheduling"
	"studysched/internal/storage"
	"studysched/internal/task/scheduler"
	logx "studysched/pkg/logx"
)

// Mapping from the file config to the component configs. Inputs are
// expected to have passed config.Resolve already.

func mapStorageConfig(cfg *config.Config, s config.Settings) storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: s.BusyTimeout,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulingConfig(s config.Settings) scheduling.Config {
	return scheduling.Config{
		MaxHorizon:        s.MaxHorizon,
		MaxOccurrences:    s.MaxOccurrences,
		CleanupBatchSize:  s.CleanupBatchSize,
		CleanupRatePerSec: s.CleanupRatePerSec,
	}
}

func mapEventOptions(cfg *config.Config) events.Options {
	return events.Options{
		ActivityEventKeys:     cfg.Study.ActivityEventKeys,
		AutomaticCustomEvents: cfg.Study.AutomaticCustomEvents,
	}
}

func mapValidator(cfg *config.Config) schedule.Validator {
	return schedule.Validator{
		TaskIdentifiers: cfg.Study.TaskIdentifiers,
		DataGroups:      cfg.Study.DataGroups,
	}
}

func mapJobsConfig(s config.Settings) scheduler.Config {
	return scheduler.Config{Enabled: s.MaintenanceEnabled, Location: s.Zone}
}
