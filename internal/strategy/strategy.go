// Package strategy resolves a schedule plan to the one schedule that applies
// to a participant.
package strategy

import (
	"hash/fnv"

	"studysched/internal/schedule"
)

// Resolve returns the effective schedule for the participant. ok is false
// when the plan does not apply (no criteria entry matched).
func Resolve(plan *schedule.SchedulePlan, sc *schedule.Context) (s *schedule.Schedule, ok bool) {
	if plan == nil {
		return nil, false
	}
	st := &plan.Strategy
	switch st.Type {
	case schedule.SimpleStrategyType:
		return st.Schedule, st.Schedule != nil
	case schedule.ABTestStrategyType:
		return resolveABTest(st.Groups, healthCode(sc))
	case schedule.CriteriaStrategyType:
		for i := range st.Criteria {
			if Matches(&st.Criteria[i], sc) {
				return &st.Criteria[i].Schedule, true
			}
		}
	}
	return nil, false
}

// Bucket maps a participant onto 0..99. The same health code always lands in
// the same bucket; edits to group percentages may move it to another group.
func Bucket(healthCode string) int {
	return int(hashBytes([]byte(healthCode)) % 100)
}

func resolveABTest(groups []schedule.ScheduleGroup, hc string) (*schedule.Schedule, bool) {
	if len(groups) == 0 {
		return nil, false
	}
	b := Bucket(hc)
	cum := 0
	for i := range groups {
		cum += groups[i].Percentage
		if b < cum {
			return &groups[i].Schedule, true
		}
	}
	// percentages short of 100 are rejected at save time; fall back to the last arm
	return &groups[len(groups)-1].Schedule, true
}

// Matches reports whether a criteria entry selects the participant.
func Matches(c *schedule.ScheduleCriteria, sc *schedule.Context) bool {
	for _, g := range c.AllOfGroups {
		if !sc.HasDataGroup(g) {
			return false
		}
	}
	for _, g := range c.NoneOfGroups {
		if sc.HasDataGroup(g) {
			return false
		}
	}
	if v := sc.Client.AppVersion; v > 0 {
		if c.MinAppVersion != nil && v < *c.MinAppVersion {
			return false
		}
		if c.MaxAppVersion != nil && v > *c.MaxAppVersion {
			return false
		}
	}
	return true
}

func healthCode(sc *schedule.Context) string {
	if sc == nil {
		return ""
	}
	return sc.HealthCode
}

// hashBytes returns a stable 64-bit FNV-1a hash. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
