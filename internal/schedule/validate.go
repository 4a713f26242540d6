package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalid matches every *ValidationError via errors.Is.
var ErrInvalid = errors.New("invalid")

// ValidationError lists field-level problems for one entity.
// Field paths look like "strategy.schedule.activities[0].task.identifier".
type ValidationError struct {
	Entity string
	Errors map[string][]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, msg := range e.Errors[k] {
			parts = append(parts, k+" "+msg)
		}
	}
	return fmt.Sprintf("%s is invalid: %s", e.Entity, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// Has reports whether field has at least one error.
func (e *ValidationError) Has(field string) bool { return len(e.Errors[field]) > 0 }

type errs struct {
	entity string
	m      map[string][]string
	// activity guid -> path of the first activity carrying it
	guids map[string]string
}

func newErrs(entity string) *errs {
	return &errs{entity: entity, m: map[string][]string{}, guids: map[string]string{}}
}

func (e *errs) add(field, msg string, args ...any) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	e.m[field] = append(e.m[field], msg)
}

func (e *errs) err() error {
	if len(e.m) == 0 {
		return nil
	}
	return &ValidationError{Entity: e.entity, Errors: e.m}
}

// Validator checks plan shape before a plan is saved.
// Empty TaskIdentifiers / DataGroups disable the respective membership checks.
type Validator struct {
	TaskIdentifiers []string
	DataGroups      []string
}

func (v Validator) ValidatePlan(p *SchedulePlan) error {
	e := newErrs("SchedulePlan")
	if p == nil {
		e.add("plan", "is required")
		return e.err()
	}
	if strings.TrimSpace(p.StudyID) == "" {
		e.add("studyId", "is required")
	}
	if strings.TrimSpace(p.Label) == "" {
		e.add("label", "is required")
	}
	v.validateStrategy(e, "strategy", &p.Strategy)
	return e.err()
}

// ValidateSchedule checks a single schedule outside of a plan.
func (v Validator) ValidateSchedule(s *Schedule) error {
	e := newErrs("Schedule")
	v.validateSchedule(e, "schedule", s)
	return e.err()
}

func (v Validator) validateStrategy(e *errs, path string, st *Strategy) {
	switch st.Type {
	case SimpleStrategyType:
		if st.Schedule == nil {
			e.add(path+".schedule", "is required")
			return
		}
		v.validateSchedule(e, path+".schedule", st.Schedule)
	case ABTestStrategyType:
		if len(st.Groups) == 0 {
			e.add(path+".groups", "requires at least one group")
			return
		}
		total := 0
		for i := range st.Groups {
			g := &st.Groups[i]
			gp := fmt.Sprintf("%s.groups[%d]", path, i)
			if g.Percentage < 0 {
				e.add(gp+".percentage", "must be >= 0")
			}
			total += g.Percentage
			v.validateSchedule(e, gp+".schedule", &g.Schedule)
		}
		if total != 100 {
			e.add(path+".groups", "percentages must sum to 100 (got %d)", total)
		}
	case CriteriaStrategyType:
		if len(st.Criteria) == 0 {
			e.add(path+".criteria", "requires at least one entry")
			return
		}
		for i := range st.Criteria {
			c := &st.Criteria[i]
			cp := fmt.Sprintf("%s.criteria[%d]", path, i)
			for _, g := range c.AllOfGroups {
				if !v.knownDataGroup(g) {
					e.add(cp+".allOfGroups", "%q is not a data group of the study", g)
				}
			}
			for _, g := range c.NoneOfGroups {
				if !v.knownDataGroup(g) {
					e.add(cp+".noneOfGroups", "%q is not a data group of the study", g)
				}
			}
			if c.MinAppVersion != nil && c.MaxAppVersion != nil && *c.MinAppVersion > *c.MaxAppVersion {
				e.add(cp+".maxAppVersion", "must be >= minAppVersion")
			}
			v.validateSchedule(e, cp+".schedule", &c.Schedule)
		}
	case "":
		e.add(path+".type", "is required")
	default:
		e.add(path+".type", "unknown strategy %q", st.Type)
	}
}

func (v Validator) validateSchedule(e *errs, path string, s *Schedule) {
	hasCron := strings.TrimSpace(s.CronTrigger) != ""
	hasInterval := s.Interval != nil && !s.Interval.IsZero()

	switch s.ScheduleType {
	case Once:
		if hasInterval {
			e.add(path+".interval", "must not be set for a ONCE schedule")
		}
		if hasCron {
			e.add(path+".cronTrigger", "must not be set for a ONCE schedule")
		}
	case Recurring:
		if !hasInterval && !hasCron {
			e.add(path+".scheduleType", "RECURRING requires an interval or a cron trigger")
		}
		if hasInterval && hasCron {
			e.add(path+".scheduleType", "RECURRING takes an interval or a cron trigger, not both")
		}
	case "":
		e.add(path+".scheduleType", "is required")
	default:
		e.add(path+".scheduleType", "unknown schedule type %q", s.ScheduleType)
	}

	if hasCron {
		if _, err := ParseCron(s.CronTrigger); err != nil {
			e.add(path+".cronTrigger", "%v", err)
		}
	}
	if hasInterval && !s.Interval.AtLeast(24*time.Hour) {
		e.add(path+".interval", "must be at least one day")
	}
	if s.Expires != nil && s.Expires.IsZero() {
		e.add(path+".expires", "must be a positive period")
	}
	// "PT4H" with times: 4 hours after the event, or the listed time of day?
	if s.Delay != nil && !s.Delay.HasDateParts() && !s.Delay.IsZero() && len(s.Times) > 0 {
		e.add(path+".delay", "less than one day is ambiguous when times are set")
	}
	if s.StartsOn != nil && s.EndsOn != nil && s.EndsOn.Before(s.StartsOn.Add(time.Hour)) {
		e.add(path+".endsOn", "must be at least one hour after startsOn")
	}

	if len(s.Activities) == 0 {
		e.add(path+".activities", "requires at least one activity")
	}
	for i := range s.Activities {
		v.validateActivity(e, fmt.Sprintf("%s.activities[%d]", path, i), &s.Activities[i])
	}
}

func (v Validator) validateActivity(e *errs, path string, a *Activity) {
	if strings.TrimSpace(a.Label) == "" {
		e.add(path+".label", "is required")
	}
	// instance guids derive from the activity guid, so it must be unique plan-wide
	if a.Guid != "" {
		if first, dup := e.guids[a.Guid]; dup {
			e.add(path+".guid", "duplicates the guid of %s", first)
		} else {
			e.guids[a.Guid] = path
		}
	}
	switch {
	case a.Task == nil && a.Survey == nil:
		e.add(path, "must reference a task or a survey")
	case a.Task != nil && a.Survey != nil:
		e.add(path, "must reference a task or a survey, not both")
	case a.Task != nil:
		id := strings.TrimSpace(a.Task.Identifier)
		if id == "" {
			e.add(path+".task.identifier", "is required")
		} else if len(v.TaskIdentifiers) > 0 && !contains(v.TaskIdentifiers, id) {
			e.add(path+".task.identifier", "%q is not a task identifier of the study", id)
		}
	case a.Survey != nil:
		if strings.TrimSpace(a.Survey.Guid) == "" {
			e.add(path+".survey.guid", "is required")
		}
	}
}

func (v Validator) knownDataGroup(g string) bool {
	return len(v.DataGroups) == 0 || contains(v.DataGroups, g)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
