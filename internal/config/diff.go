package config

import (
	"reflect"
	"sort"
	"strings"

	logx "studysched/pkg/logx"
)

// SummarizeConfigChange returns the changed section names (sorted) and
// structured attrs describing the new values, for one reload log line.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Only report whether a path is set; it may point into a private directory.
	oS, nS := oldCfg.Storage, newCfg.Storage
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	if oldCfg.Scheduling != newCfg.Scheduling {
		changed = append(changed, "scheduling")
		attrs = append(attrs,
			logx.String("scheduling.max_horizon", strings.TrimSpace(newCfg.Scheduling.MaxHorizon)),
			logx.Int("scheduling.max_occurrences", newCfg.Scheduling.MaxOccurrences),
			logx.String("scheduling.timezone", strings.TrimSpace(newCfg.Scheduling.Timezone)),
		)
	}

	if oldCfg.Cleanup != newCfg.Cleanup {
		changed = append(changed, "cleanup")
		attrs = append(attrs,
			logx.Int("cleanup.batch_size", newCfg.Cleanup.BatchSize),
			logx.Int("cleanup.rate_per_sec", newCfg.Cleanup.RatePerSec),
		)
	}

	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", newCfg.Maintenance.Enabled),
			logx.String("maintenance.schedule", strings.TrimSpace(newCfg.Maintenance.Schedule)),
			logx.String("maintenance.retention", strings.TrimSpace(newCfg.Maintenance.Retention)),
		)
	}

	if !reflect.DeepEqual(normalizeStudy(oldCfg.Study), normalizeStudy(newCfg.Study)) {
		changed = append(changed, "study")
		attrs = append(attrs,
			logx.String("study.identifier", newCfg.Study.Identifier),
			logx.Int("study.task_identifiers", len(newCfg.Study.TaskIdentifiers)),
			logx.Int("study.data_groups", len(newCfg.Study.DataGroups)),
			logx.Int("study.activity_event_keys", len(newCfg.Study.ActivityEventKeys)),
			logx.Int("study.automatic_custom_events", len(newCfg.Study.AutomaticCustomEvents)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// normalizeStudy treats nil and empty lists as equal and ignores list order.
func normalizeStudy(s StudyConfig) StudyConfig {
	norm := func(in []string) []string {
		if len(in) == 0 {
			return nil
		}
		out := append([]string(nil), in...)
		sort.Strings(out)
		return out
	}
	s.TaskIdentifiers = norm(s.TaskIdentifiers)
	s.DataGroups = norm(s.DataGroups)
	s.ActivityEventKeys = norm(s.ActivityEventKeys)
	if len(s.AutomaticCustomEvents) == 0 {
		s.AutomaticCustomEvents = nil
	}
	return s
}
