package storage

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"studysched/internal/schedule"
	"studysched/internal/survey"
)

// prunable reports whether a is past retention: finished before cutoff, or
// never started and expired (local expiry read as a UTC wall clock) before cutoff.
func prunable(a schedule.ScheduledActivity, cutoff time.Time) bool {
	if a.FinishedOn != nil {
		return a.FinishedOn.Before(cutoff)
	}
	if a.StartedOn != nil || a.LocalExpiresOn == nil {
		return false
	}
	return a.LocalExpiresOn.Before(schedule.LocalDateTimeOf(cutoff.UTC()))
}

func sortActivities(list []schedule.ScheduledActivity) {
	sort.SliceStable(list, func(i, j int) bool {
		if c := list[i].LocalScheduledOn.Compare(list[j].LocalScheduledOn); c != 0 {
			return c < 0
		}
		return list[i].Guid < list[j].Guid
	})
}

func sortPlans(list []schedule.SchedulePlan) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Label != list[j].Label {
			return list[i].Label < list[j].Label
		}
		return list[i].Guid < list[j].Guid
	})
}

func sortSurveys(list []survey.Survey) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Guid != list[j].Guid {
			return list[i].Guid < list[j].Guid
		}
		return list[i].CreatedOn.Before(list[j].CreatedOn)
	})
}

func surveyKey(guid string, createdOn time.Time) string {
	return guid + "@" + createdOn.UTC().Format(time.RFC3339Nano)
}

// clonePlan deep-copies through JSON; plans hold pointers and nested slices.
func clonePlan(p schedule.SchedulePlan) (schedule.SchedulePlan, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return schedule.SchedulePlan{}, err
	}
	var out schedule.SchedulePlan
	err = json.Unmarshal(b, &out)
	return out, err
}

func cloneActivity(a schedule.ScheduledActivity) schedule.ScheduledActivity {
	if a.LocalExpiresOn != nil {
		v := *a.LocalExpiresOn
		a.LocalExpiresOn = &v
	}
	if a.StartedOn != nil {
		v := *a.StartedOn
		a.StartedOn = &v
	}
	if a.FinishedOn != nil {
		v := *a.FinishedOn
		a.FinishedOn = &v
	}
	if a.Activity.Task != nil {
		v := *a.Activity.Task
		a.Activity.Task = &v
	}
	if a.Activity.Survey != nil {
		v := *a.Activity.Survey
		if v.CreatedOn != nil {
			c := *v.CreatedOn
			v.CreatedOn = &c
		}
		a.Activity.Survey = &v
	}
	a.Zone = nil
	return a
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
