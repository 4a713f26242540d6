package schedule

import (
	"strings"
	"time"
)

type ScheduleType string

const (
	Once      ScheduleType = "ONCE"
	Recurring ScheduleType = "RECURRING"
)

// EnrollmentEvent anchors schedules that don't name an event.
const EnrollmentEvent = "enrollment"

// Schedule is a trigger plus the activity templates it produces.
//
// EventID may list several events separated by commas; the first one present
// in the participant's event map anchors the schedule.
type Schedule struct {
	Label        string       `json:"label,omitempty"`
	ScheduleType ScheduleType `json:"scheduleType"`
	EventID      string       `json:"eventId,omitempty"`
	Delay        *Period      `json:"delay,omitempty"`
	Interval     *Period      `json:"interval,omitempty"`
	CronTrigger  string       `json:"cronTrigger,omitempty"`
	Expires      *Period      `json:"expires,omitempty"`
	StartsOn     *time.Time   `json:"startsOn,omitempty"`
	EndsOn       *time.Time   `json:"endsOn,omitempty"`
	Times        []LocalTime  `json:"times,omitempty"`
	Activities   []Activity   `json:"activities"`
}

// EventIDs returns the anchor candidates in priority order.
func (s *Schedule) EventIDs() []string {
	raw := strings.TrimSpace(s.EventID)
	if raw == "" {
		return []string{EnrollmentEvent}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{EnrollmentEvent}
	}
	return out
}

// InWindow reports whether t falls inside [StartsOn, EndsOn]; unset bounds are open.
func (s *Schedule) InWindow(t time.Time) bool {
	if s.StartsOn != nil && t.Before(*s.StartsOn) {
		return false
	}
	if s.EndsOn != nil && t.After(*s.EndsOn) {
		return false
	}
	return true
}

type ActivityType string

const (
	TaskActivity   ActivityType = "task"
	SurveyActivity ActivityType = "survey"
)

// Activity is a template for the work a participant is asked to do.
type Activity struct {
	Guid        string           `json:"guid,omitempty"`
	Label       string           `json:"label"`
	LabelDetail string           `json:"labelDetail,omitempty"`
	Task        *TaskReference   `json:"task,omitempty"`
	Survey      *SurveyReference `json:"survey,omitempty"`
}

func (a Activity) Type() ActivityType {
	if a.Survey != nil {
		return SurveyActivity
	}
	return TaskActivity
}

type TaskReference struct {
	Identifier string `json:"identifier"`
}

// SurveyReference points at a survey. A nil CreatedOn means "the most
// recently published version"; a set CreatedOn pins one version.
// Identifier is derived from the catalog and never taken from clients.
type SurveyReference struct {
	Guid       string     `json:"guid"`
	CreatedOn  *time.Time `json:"createdOn,omitempty"`
	Identifier string     `json:"identifier,omitempty"`
}

func (r SurveyReference) Indirect() bool { return r.CreatedOn == nil }
