package schedule

import (
	"strings"
	"time"
)

type ActivityStatus string

const (
	StatusScheduled ActivityStatus = "scheduled"
	StatusAvailable ActivityStatus = "available"
	StatusStarted   ActivityStatus = "started"
	StatusFinished  ActivityStatus = "finished"
	StatusExpired   ActivityStatus = "expired"
)

// ScheduledActivity is one concrete activity instance for one participant.
//
// StartedOn and FinishedOn are set at most once. Zone is request-scoped
// (the caller's current zone) and is not persisted.
type ScheduledActivity struct {
	Guid             string         `json:"guid"`
	HealthCode       string         `json:"-"`
	SchedulePlanGuid string         `json:"schedulePlanGuid,omitempty"`
	Activity         Activity       `json:"activity"`
	LocalScheduledOn LocalDateTime  `json:"localScheduledOn"`
	LocalExpiresOn   *LocalDateTime `json:"localExpiresOn,omitempty"`
	StartedOn        *time.Time     `json:"startedOn,omitempty"`
	FinishedOn       *time.Time     `json:"finishedOn,omitempty"`
	Persistent       bool           `json:"persistent,omitempty"`

	Zone *time.Location `json:"-"`
}

// ActivityGuid derives the instance guid from the template guid and the local scheduled time.
// The same logical occurrence always yields the same guid.
func ActivityGuid(templateGuid string, scheduledOn LocalDateTime) string {
	return templateGuid + ":" + scheduledOn.String()
}

// TemplateGuid returns the template part of an instance guid.
func (a *ScheduledActivity) TemplateGuid() string {
	if a.Activity.Guid != "" {
		return a.Activity.Guid
	}
	g, _, _ := strings.Cut(a.Guid, ":")
	return g
}

func (a *ScheduledActivity) ScheduledOn() time.Time {
	return a.LocalScheduledOn.In(a.Zone)
}

// ExpiresOn returns the expiry instant, or the zero time when the activity never expires.
func (a *ScheduledActivity) ExpiresOn() time.Time {
	if a.LocalExpiresOn == nil || a.LocalExpiresOn.IsZero() {
		return time.Time{}
	}
	return a.LocalExpiresOn.In(a.Zone)
}

func (a *ScheduledActivity) Started() bool { return a.StartedOn != nil }

// Deletable reports whether the activity may be removed by cleanup or reconciliation.
func (a *ScheduledActivity) Deletable() bool { return a.StartedOn == nil }

func (a *ScheduledActivity) Status(now time.Time) ActivityStatus {
	switch {
	case a.FinishedOn != nil:
		return StatusFinished
	case a.StartedOn != nil:
		return StatusStarted
	}
	if exp := a.ExpiresOn(); !exp.IsZero() && !exp.After(now) {
		return StatusExpired
	}
	if a.ScheduledOn().After(now) {
		return StatusScheduled
	}
	return StatusAvailable
}
