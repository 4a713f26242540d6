package schedule

import "time"

// SchedulePlan is the saved object: a selection strategy over one or more schedules.
type SchedulePlan struct {
	Guid       string    `json:"guid"`
	StudyID    string    `json:"studyId"`
	Label      string    `json:"label"`
	Version    int64     `json:"version"`
	ModifiedOn time.Time `json:"modifiedOn"`
	Strategy   Strategy  `json:"strategy"`
}

type StrategyType string

const (
	SimpleStrategyType   StrategyType = "SIMPLE"
	ABTestStrategyType   StrategyType = "AB_TEST"
	CriteriaStrategyType StrategyType = "CRITERIA"
)

// Strategy is a tagged variant. Type selects which of the other fields is meaningful:
//   - SIMPLE:   Schedule
//   - AB_TEST:  Groups
//   - CRITERIA: Criteria
type Strategy struct {
	Type     StrategyType       `json:"type"`
	Schedule *Schedule          `json:"schedule,omitempty"`
	Groups   []ScheduleGroup    `json:"groups,omitempty"`
	Criteria []ScheduleCriteria `json:"criteria,omitempty"`
}

// ScheduleGroup is one arm of an A/B test. Percentages across groups sum to 100.
type ScheduleGroup struct {
	Percentage int      `json:"percentage"`
	Schedule   Schedule `json:"schedule"`
}

// ScheduleCriteria selects a schedule by data groups and app version.
// App version bounds are inclusive and ignored when the client version is unknown.
type ScheduleCriteria struct {
	AllOfGroups   []string `json:"allOfGroups,omitempty"`
	NoneOfGroups  []string `json:"noneOfGroups,omitempty"`
	MinAppVersion *int     `json:"minAppVersion,omitempty"`
	MaxAppVersion *int     `json:"maxAppVersion,omitempty"`
	Schedule      Schedule `json:"schedule"`
}

func SimpleStrategy(s Schedule) Strategy {
	return Strategy{Type: SimpleStrategyType, Schedule: &s}
}

func ABTestStrategy(groups ...ScheduleGroup) Strategy {
	return Strategy{Type: ABTestStrategyType, Groups: groups}
}

func CriteriaStrategy(criteria ...ScheduleCriteria) Strategy {
	return Strategy{Type: CriteriaStrategyType, Criteria: criteria}
}

// Schedules returns every schedule reachable from the strategy, in declaration order.
// The pointers alias the strategy so callers can fill derived fields in place.
func (s *Strategy) Schedules() []*Schedule {
	var out []*Schedule
	switch s.Type {
	case SimpleStrategyType:
		if s.Schedule != nil {
			out = append(out, s.Schedule)
		}
	case ABTestStrategyType:
		for i := range s.Groups {
			out = append(out, &s.Groups[i].Schedule)
		}
	case CriteriaStrategyType:
		for i := range s.Criteria {
			out = append(out, &s.Criteria[i].Schedule)
		}
	}
	return out
}

// Activities returns every activity template reachable from the plan.
func (p *SchedulePlan) Activities() []*Activity {
	var out []*Activity
	for _, s := range p.Strategy.Schedules() {
		for i := range s.Activities {
			out = append(out, &s.Activities[i])
		}
	}
	return out
}
