package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/studysched.db
  busy_timeout: 2s
scheduling:
  max_horizon: 240h
  timezone: America/Los_Angeles
maintenance:
  enabled: true
  schedule: "@every 6h"
study:
  identifier: sleep-study
  task_identifiers: [walk, tap]
  activity_event_keys: [visit]
  automatic_custom_events:
    week2: P2W
    followup: "custom:visit:P3D"
`

func TestParseBytesYAMLAndJSON(t *testing.T) {
	t.Parallel()
	y, err := ParseBytes("studysched.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseBytes(yaml) error: %v", err)
	}
	if y.Storage.Driver != "sqlite" || y.Study.AutomaticCustomEvents["followup"] != "custom:visit:P3D" {
		t.Fatalf("yaml config = %+v", y)
	}

	j, err := ParseBytes("studysched.json", []byte(`{"storage":{"driver":"memory"},"study":{"identifier":"s"}}`))
	if err != nil {
		t.Fatalf("ParseBytes(json) error: %v", err)
	}
	if j.Study.Identifier != "s" {
		t.Fatalf("json study = %+v", j.Study)
	}
}

func TestParseBytesIsStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		data string
	}{
		{name: "unknown json key", file: "c.json", data: `{"storage":{"driver":"memory","dsn":"x"}}`},
		{name: "unknown yaml section", file: "c.yml", data: "telegram:\n  token: x\n"},
		{name: "trailing data", file: "c.json", data: `{} {}`},
		{name: "bad yaml", file: "c.yaml", data: "logging: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseBytes(tt.file, []byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	s, err := Resolve(&Config{})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if s.MaxHorizon != DefaultMaxHorizon || s.MaxOccurrences != DefaultMaxOccurrences {
		t.Fatalf("scheduling defaults = %s/%d", s.MaxHorizon, s.MaxOccurrences)
	}
	if s.CleanupBatchSize != 100 || s.CleanupRatePerSec != 50 {
		t.Fatalf("cleanup defaults = %d/%d", s.CleanupBatchSize, s.CleanupRatePerSec)
	}
	if s.MaintenanceSchedule != "@daily" || s.Retention != 720*time.Hour {
		t.Fatalf("maintenance defaults = %s/%s", s.MaintenanceSchedule, s.Retention)
	}
	if s.Zone != time.UTC {
		t.Fatalf("zone = %v, want UTC", s.Zone)
	}

	cfg, _ := ParseBytes("c.yaml", []byte(sampleYAML))
	s, err = Resolve(cfg)
	if err != nil {
		t.Fatalf("Resolve(sample) error: %v", err)
	}
	if s.MaxHorizon != 240*time.Hour || s.BusyTimeout != 2*time.Second || s.Zone.String() != "America/Los_Angeles" {
		t.Fatalf("settings = %+v", s)
	}
}

func TestResolveReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Storage:     StorageConfig{Driver: "sqlite"},
		Scheduling:  SchedulingConfig{MaxHorizon: "soon", Timezone: "Mars/Olympus"},
		Maintenance: MaintenanceConfig{Schedule: "every tuesday"},
		Study:       StudyConfig{AutomaticCustomEvents: map[string]string{"x": "enrollment:later"}},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"storage.path", "scheduling.max_horizon", "scheduling.timezone", "maintenance.schedule", "study.automatic_custom_events"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestDurationSettings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string // "" means valid
	}{
		{name: "zero falls back to default", cfg: Config{Scheduling: SchedulingConfig{MaxHorizon: "0s"}}},
		{name: "not a duration", cfg: Config{Maintenance: MaintenanceConfig{Retention: "a month"}}, want: "maintenance.retention"},
		{name: "negative", cfg: Config{Storage: StorageConfig{BusyTimeout: "-1s"}}, want: "must not be negative"},
		{name: "horizon below an hour", cfg: Config{Scheduling: SchedulingConfig{MaxHorizon: "30m"}}, want: "shorter than the minimum"},
		{name: "short busy timeout is fine", cfg: Config{Storage: StorageConfig{BusyTimeout: "50ms"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := Resolve(&tt.cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Resolve error: %v", err)
				}
				if s.MaxHorizon != DefaultMaxHorizon {
					t.Fatalf("max horizon = %s, want %s", s.MaxHorizon, DefaultMaxHorizon)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Resolve error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{Study: StudyConfig{TaskIdentifiers: []string{"a", "b"}}}
	same := &Config{Study: StudyConfig{TaskIdentifiers: []string{"b", "a"}}}
	if changed, _ := SummarizeConfigChange(old, same); len(changed) != 0 {
		t.Fatalf("reordered lists reported as %v", changed)
	}

	next := &Config{
		Logging:    LoggingConfig{Level: "debug"},
		Scheduling: SchedulingConfig{MaxHorizon: "48h"},
		Study:      StudyConfig{TaskIdentifiers: []string{"a"}},
	}
	changed, attrs := SummarizeConfigChange(old, next)
	want := []string{"logging", "scheduling", "study"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs for changed sections")
	}
}

func TestManagerLoadAndReload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "studysched.json")
	write := func(s string) {
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"logging":{"level":"info"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if m.reload(context.Background()) {
		t.Fatal("unchanged file should not publish")
	}

	write(`{"storage":{"driver":"nosql"}}`)
	if m.reload(context.Background()) {
		t.Fatal("invalid config should be rejected")
	}
	if m.Get().Logging.Level != "info" {
		t.Fatal("rejected config must not be committed")
	}

	write(`{"logging":{"level":"debug"}}`)
	if !m.reload(context.Background()) {
		t.Fatal("changed config should publish")
	}
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %s, want debug", cfg.Logging.Level)
		}
	default:
		t.Fatal("subscriber got nothing")
	}
}
