package scheduling

import (
	"context"
	"errors"

	"studysched/internal/schedule"
)

var (
	ErrPlanNotFound           = errors.New("schedule plan not found")
	ErrConcurrentModification = errors.New("schedule plan was modified concurrently")
)

// PlanStore persists schedule plans per study.
type PlanStore interface {
	GetPlan(ctx context.Context, studyID, guid string) (schedule.SchedulePlan, error)
	// ListPlans returns the study's plans ordered by label, then guid.
	ListPlans(ctx context.Context, studyID string) ([]schedule.SchedulePlan, error)
	CreatePlan(ctx context.Context, p schedule.SchedulePlan) error
	// UpdatePlan replaces the stored plan if its version still equals expected,
	// otherwise it fails with ErrConcurrentModification.
	UpdatePlan(ctx context.Context, p schedule.SchedulePlan, expected int64) error
	DeletePlan(ctx context.Context, studyID, guid string) error
}
