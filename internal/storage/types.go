package storage

import (
	"context"
	"errors"
	"time"

	"studysched/internal/activity"
	"studysched/internal/events"
	"studysched/internal/scheduling"
	"studysched/internal/survey"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps, lost on exit (default)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one domain change (plan edits, reconciliation, cleanup).
// Keep it compact and schema-stable.
type AuditEntry struct {
	At         time.Time `json:"at"`
	Type       string    `json:"type"`
	HealthCode string    `json:"-"`
	Subject    string    `json:"subject,omitempty"`
	MetaJSON   string    `json:"meta,omitempty"`
}

// Store is everything the scheduling services persist.
type Store interface {
	events.Store
	activity.Store
	scheduling.PlanStore
	survey.Store

	AppendAudit(ctx context.Context, e AuditEntry) error
	// ListAudit returns the newest entries first.
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	Close() error
}
