// Package activity builds scheduled activity instances from schedule
// occurrences and reconciles them against what is already persisted.
package activity

import (
	"context"
	"errors"
	"time"

	"studysched/internal/schedule"
)

var ErrNotFound = errors.New("scheduled activity not found")

// Store persists scheduled activities. Writes are keyed by guid: saving an
// existing guid replaces it, deleting a missing guid is a no-op.
type Store interface {
	// GetActivities returns the participant's activities whose local scheduled
	// time is at or before endsOn (the horizon as a wall clock in the caller's zone).
	GetActivities(ctx context.Context, healthCode string, endsOn schedule.LocalDateTime) ([]schedule.ScheduledActivity, error)
	GetActivity(ctx context.Context, healthCode, guid string) (schedule.ScheduledActivity, error)
	SaveActivities(ctx context.Context, list []schedule.ScheduledActivity) error
	DeleteActivities(ctx context.Context, list []schedule.ScheduledActivity) error
	DeleteActivitiesForUser(ctx context.Context, healthCode string) error
	// ListDeletableForPlan returns up to limit unstarted activities created by the plan.
	ListDeletableForPlan(ctx context.Context, planGuid string, limit int) ([]schedule.ScheduledActivity, error)
	// PruneActivities removes activities finished before cutoff and unstarted
	// activities whose local expiry is before cutoff read as a UTC wall clock.
	// It returns the number removed.
	PruneActivities(ctx context.Context, cutoff time.Time) (int, error)
}
