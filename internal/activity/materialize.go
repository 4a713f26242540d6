package activity

import (
	"context"
	"time"

	"studysched/internal/schedule"
	"studysched/internal/survey"
	"studysched/internal/trigger"
)

// Materializer expands occurrences into activity instances.
type Materializer struct {
	surveys *survey.Resolver
}

// NewMaterializer binds a per-request survey resolver; don't reuse across requests.
func NewMaterializer(r *survey.Resolver) *Materializer {
	return &Materializer{surveys: r}
}

// Materialize builds one instance per occurrence and template, occurrences
// outermost, template order preserved. A survey that cannot be resolved fails
// the whole call; no partial schedule is returned.
func (m *Materializer) Materialize(ctx context.Context, sc *schedule.Context, plan *schedule.SchedulePlan, s *schedule.Schedule, occ []trigger.Occurrence) ([]schedule.ScheduledActivity, error) {
	if len(occ) == 0 || len(s.Activities) == 0 {
		return nil, nil
	}

	templates := make([]schedule.Activity, len(s.Activities))
	persistent := make([]bool, len(s.Activities))
	for i, a := range s.Activities {
		persistent[i] = schedule.PersistentlyRescheduledBy(a, s)
		resolved, err := m.resolve(ctx, a)
		if err != nil {
			return nil, err
		}
		templates[i] = resolved
	}

	out := make([]schedule.ScheduledActivity, 0, len(occ)*len(templates))
	for _, o := range occ {
		for i, tmpl := range templates {
			sa := schedule.ScheduledActivity{
				Guid:             schedule.ActivityGuid(tmpl.Guid, o.Scheduled),
				HealthCode:       sc.HealthCode,
				SchedulePlanGuid: plan.Guid,
				Activity:         tmpl,
				LocalScheduledOn: o.Scheduled,
				Persistent:       persistent[i],
				Zone:             sc.Location(),
			}
			if o.Expires != nil {
				exp := *o.Expires
				sa.LocalExpiresOn = &exp
			}
			out = append(out, sa)
		}
	}
	return out, nil
}

// resolve snapshots the template. Survey references are pinned to the
// concrete version and take their identifier from the catalog.
func (m *Materializer) resolve(ctx context.Context, a schedule.Activity) (schedule.Activity, error) {
	if a.Task != nil {
		t := *a.Task
		a.Task = &t
	}
	if a.Survey == nil {
		return a, nil
	}
	sv, err := m.surveys.Lookup(ctx, *a.Survey)
	if err != nil {
		return schedule.Activity{}, err
	}
	createdOn := sv.CreatedOn.In(time.UTC)
	a.Survey = &schedule.SurveyReference{Guid: sv.Guid, CreatedOn: &createdOn, Identifier: sv.Identifier}
	return a, nil
}
