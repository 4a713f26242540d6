package scheduling_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"studysched/internal/eventbus"
	"studysched/internal/events"
	"studysched/internal/schedule"
	"studysched/internal/scheduling"
	"studysched/internal/storage"
	"studysched/internal/survey"
	logx "studysched/pkg/logx"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store  storage.Store
	bus    eventbus.Bus
	events *events.Service
	sched  *scheduling.Service
	plans  *scheduling.PlanService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := storage.NewMemory()
	bus := eventbus.New()
	ev, err := events.NewService(st, events.Options{}, bus, logx.Nop())
	if err != nil {
		t.Fatalf("events.NewService: %v", err)
	}
	sched := scheduling.New(scheduling.Config{CleanupBatchSize: 2, CleanupRatePerSec: 1000}, scheduling.Deps{
		Plans:      st,
		Activities: st,
		Surveys:    st,
		Events:     ev,
		Bus:        bus,
		Logger:     logx.Nop(),
		Now:        func() time.Time { return now },
	})
	plans := scheduling.NewPlanService(st, st, sched, schedule.Validator{TaskIdentifiers: []string{"walk", "tap"}}, bus, logx.Nop())
	return &harness{store: st, bus: bus, events: ev, sched: sched, plans: plans}
}

func task(label, id string) schedule.Activity {
	return schedule.Activity{Label: label, Task: &schedule.TaskReference{Identifier: id}}
}

func dailyPlan(acts ...schedule.Activity) schedule.SchedulePlan {
	return schedule.SchedulePlan{
		StudyID: "study",
		Label:   "Daily",
		Strategy: schedule.SimpleStrategy(schedule.Schedule{
			ScheduleType: schedule.Recurring,
			Interval:     schedule.MustPeriod("P1D"),
			Times:        []schedule.LocalTime{schedule.MustLocalTime("09:00")},
			Activities:   acts,
		}),
	}
}

func participant(hc string) scheduling.Participant {
	return scheduling.Participant{StudyID: "study", HealthCode: hc}
}

func (h *harness) get(t *testing.T, hc string, zone *time.Location) []schedule.ScheduledActivity {
	t.Helper()
	got, err := h.sched.GetScheduledActivities(context.Background(), participant(hc), now.Add(48*time.Hour), zone)
	if err != nil {
		t.Fatalf("GetScheduledActivities: %v", err)
	}
	return got
}

func guids(list []schedule.ScheduledActivity) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Guid
	}
	return out
}

func TestGetScheduledActivitiesIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.plans.Create(ctx, dailyPlan(task("Walk", "walk"))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.events.PublishEnrollment(ctx, "hc", now.Add(-26*time.Hour)); err != nil {
		t.Fatalf("PublishEnrollment: %v", err)
	}

	first := h.get(t, "hc", time.UTC)
	// 04-30, 05-01, 05-02, 05-03 at 09:00
	if len(first) != 4 {
		t.Fatalf("activities = %v, want 4", guids(first))
	}
	for i := 1; i < len(first); i++ {
		if first[i].LocalScheduledOn.Before(first[i-1].LocalScheduledOn) {
			t.Fatalf("results not sorted: %v", guids(first))
		}
	}
	if first[0].Zone != time.UTC {
		t.Fatal("results should carry the request zone")
	}

	second := h.get(t, "hc", time.UTC)
	if len(second) != len(first) {
		t.Fatalf("second call = %d activities, want %d", len(second), len(first))
	}
	for i := range first {
		if first[i].Guid != second[i].Guid {
			t.Fatalf("guid[%d] changed: %s -> %s", i, first[i].Guid, second[i].Guid)
		}
	}
	persisted, _ := h.store.GetActivities(ctx, "hc", schedule.LocalDateTimeOf(now.AddDate(1, 0, 0)))
	if len(persisted) != 4 {
		t.Fatalf("persisted = %d, want 4", len(persisted))
	}

	evs, _ := h.events.GetEventMap(ctx, "hc")
	if !evs[schedule.ActivitiesRetrievedEvent].Equal(now) {
		t.Fatalf("activities_retrieved = %v, want %v", evs[schedule.ActivitiesRetrievedEvent], now)
	}
}

func TestOneTimeScheduleAtMidnightInEachZone(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	plan := schedule.SchedulePlan{
		StudyID:  "study",
		Label:    "Baseline",
		Strategy: schedule.SimpleStrategy(schedule.Schedule{ScheduleType: schedule.Once, Activities: []schedule.Activity{task("Tap", "tap")}}),
	}
	if _, err := h.plans.Create(ctx, plan); err != nil {
		t.Fatalf("Create: %v", err)
	}

	zones := map[string]*time.Location{
		"plus3":  time.FixedZone("+03:00", 3*3600),
		"minus7": time.FixedZone("-07:00", -7*3600),
	}
	for name, zone := range zones {
		hc := "hc-" + name
		if err := h.events.PublishEnrollment(ctx, hc, now); err != nil {
			t.Fatalf("PublishEnrollment: %v", err)
		}
		got := h.get(t, hc, zone)
		if len(got) != 1 {
			t.Fatalf("%s: activities = %v, want exactly 1", name, guids(got))
		}
		if tod := got[0].LocalScheduledOn.TimeOfDay(); tod != schedule.Midnight {
			t.Fatalf("%s: time of day = %s, want midnight", name, tod)
		}
	}
}

func TestHorizonAndRequestValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	tests := []struct {
		name   string
		p      scheduling.Participant
		endsOn time.Time
		zone   *time.Location
		want   error
	}{
		{name: "past", p: participant("hc"), endsOn: now.Add(-time.Minute), zone: time.UTC, want: scheduling.ErrHorizonInPast},
		{name: "too far", p: participant("hc"), endsOn: now.AddDate(0, 0, 16), zone: time.UTC, want: scheduling.ErrHorizonTooFar},
		{name: "no zone", p: participant("hc"), endsOn: now.Add(time.Hour), want: scheduling.ErrMissingZone},
		{name: "no health code", p: scheduling.Participant{StudyID: "study"}, endsOn: now.Add(time.Hour), zone: time.UTC, want: scheduling.ErrMissingAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.sched.GetScheduledActivities(ctx, tt.p, tt.endsOn, tt.zone)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := h.sched.GetScheduledActivities(ctx, participant("hc"), now.AddDate(0, 0, 15), time.UTC); err != nil {
		t.Fatalf("15 days ahead should be allowed: %v", err)
	}
}

func TestEnrollmentFallsBackToAccountCreation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.plans.Create(ctx, dailyPlan(task("Walk", "walk"))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	p := participant("hc")
	got, err := h.sched.GetScheduledActivities(ctx, p, now.Add(24*time.Hour), time.UTC)
	if err != nil {
		t.Fatalf("GetScheduledActivities: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("no enrollment and no account date: got %d activities, want 0", len(got))
	}

	p.AccountCreatedOn = now.Add(-time.Hour)
	got, err = h.sched.GetScheduledActivities(ctx, p, now.Add(24*time.Hour), time.UTC)
	if err != nil {
		t.Fatalf("GetScheduledActivities: %v", err)
	}
	// 05-01 and 05-02 at 09:00
	if len(got) != 2 {
		t.Fatalf("activities = %v, want 2", guids(got))
	}
}

func TestStartedActivitySurvivesPlanEdit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	cleanups, unsub := h.bus.Subscribe(4, eventbus.TopicPlanCleanup)
	defer unsub()

	plan, err := h.plans.Create(ctx, dailyPlan(task("Walk", "walk")))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = h.events.PublishEnrollment(ctx, "hc", now.Add(-26*time.Hour))
	before := h.get(t, "hc", time.UTC)

	started := now.Add(-time.Hour)
	finished := now
	changed, err := h.sched.UpdateScheduledActivities(ctx, "hc", []scheduling.Update{
		{Guid: before[1].Guid, StartedOn: &started, FinishedOn: &finished},
	})
	if err != nil || len(changed) != 1 {
		t.Fatalf("UpdateScheduledActivities = %d, %v", len(changed), err)
	}

	plan.Strategy.Schedule.Activities = []schedule.Activity{task("Tap", "tap")}
	if _, err := h.plans.Update(ctx, plan); err != nil {
		t.Fatalf("Update: %v", err)
	}
	select {
	case e := <-cleanups:
		if d := e.Data.(eventbus.CleanupDone); d.Deleted != 3 {
			t.Fatalf("cleanup deleted %d, want 3 unstarted", d.Deleted)
		}
	default:
		t.Fatal("plan edit that removed an activity should trigger cleanup")
	}

	after := h.get(t, "hc", time.UTC)
	var kept bool
	tapCount := 0
	for _, a := range after {
		if a.Guid == before[1].Guid {
			kept = a.StartedOn != nil && a.FinishedOn != nil
		}
		if a.Activity.Task.Identifier == "tap" {
			tapCount++
		}
	}
	if !kept {
		t.Fatalf("started activity %s missing after plan edit: %v", before[1].Guid, guids(after))
	}
	if tapCount != 4 {
		t.Fatalf("tap activities = %d, want 4", tapCount)
	}
	if len(after) != 5 {
		t.Fatalf("activities = %d, want 5", len(after))
	}
}

func TestUpdateScheduledActivities(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.plans.Create(ctx, dailyPlan(task("Walk", "walk"))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = h.events.PublishEnrollment(ctx, "hc", now.Add(-26*time.Hour))
	list := h.get(t, "hc", time.UTC)
	target := list[0]

	if _, err := h.sched.UpdateScheduledActivities(ctx, "hc", []scheduling.Update{{}}); !errors.Is(err, schedule.ErrInvalid) {
		t.Fatalf("missing guid = %v, want ErrInvalid", err)
	}

	t1 := now.Add(-2 * time.Hour)
	t2 := now.Add(-time.Hour)
	if _, err := h.sched.UpdateScheduledActivities(ctx, "hc", []scheduling.Update{{Guid: target.Guid, StartedOn: &t1}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	changed, err := h.sched.UpdateScheduledActivities(ctx, "hc", []scheduling.Update{{Guid: target.Guid, StartedOn: &t2, FinishedOn: &t2}})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if !changed[0].StartedOn.Equal(t1) {
		t.Fatalf("startedOn = %v, want first value %v", changed[0].StartedOn, t1)
	}

	evs, _ := h.events.GetEventMap(ctx, "hc")
	key := schedule.ActivityFinishedEvent(target.TemplateGuid())
	if !evs[key].Equal(t2) {
		t.Fatalf("%s = %v, want %v", key, evs[key], t2)
	}

	if _, err := h.sched.UpdateScheduledActivities(ctx, "hc", []scheduling.Update{{Guid: "nope:2024-01-01T00:00:00.000", StartedOn: &t1}}); err == nil {
		t.Fatal("unknown guid should fail")
	}

	if err := h.sched.DeleteActivitiesForUser(ctx, "hc"); err != nil {
		t.Fatalf("DeleteActivitiesForUser: %v", err)
	}
	if left, _ := h.store.GetActivities(ctx, "hc", schedule.LocalDateTimeOf(now.AddDate(1, 0, 0))); len(left) != 0 {
		t.Fatalf("activities after delete = %d", len(left))
	}
}

func TestUpdatesForSameGuidInOneBatchKeepFirstValue(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.plans.Create(ctx, dailyPlan(task("Walk", "walk"))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = h.events.PublishEnrollment(ctx, "hc", now.Add(-26*time.Hour))
	target := h.get(t, "hc", time.UTC)[0]

	t1 := now.Add(-2 * time.Hour)
	t2 := now.Add(-time.Hour)
	changed, err := h.sched.UpdateScheduledActivities(ctx, "hc", []scheduling.Update{
		{Guid: target.Guid, FinishedOn: &t1},
		{Guid: target.Guid, StartedOn: &t2, FinishedOn: &t2},
	})
	if err != nil {
		t.Fatalf("UpdateScheduledActivities: %v", err)
	}
	if len(changed) != 1 {
		t.Fatalf("changed = %d rows, want 1", len(changed))
	}

	stored, err := h.store.GetActivity(ctx, "hc", target.Guid)
	if err != nil {
		t.Fatalf("GetActivity: %v", err)
	}
	if !stored.FinishedOn.Equal(t1) || !stored.StartedOn.Equal(t1) {
		t.Fatalf("stored started/finished = %v/%v, want %v", stored.StartedOn, stored.FinishedOn, t1)
	}
	evs, _ := h.events.GetEventMap(ctx, "hc")
	if key := schedule.ActivityFinishedEvent(target.TemplateGuid()); !evs[key].Equal(t1) {
		t.Fatalf("%s = %v, want %v", key, evs[key], t1)
	}
}

func TestMinimumPerScheduleReachesPastHorizon(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.plans.Create(ctx, dailyPlan(task("Walk", "walk"))); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = h.events.PublishEnrollment(ctx, "hc", now.Add(-26*time.Hour))

	p := participant("hc")
	p.MinimumPerSchedule = -1
	if _, err := h.sched.GetScheduledActivities(ctx, p, now.Add(24*time.Hour), time.UTC); !errors.Is(err, scheduling.ErrNegativeMinimum) {
		t.Fatalf("negative minimum = %v, want ErrNegativeMinimum", err)
	}

	p.MinimumPerSchedule = 5
	reconciled, unsub := h.bus.Subscribe(4, eventbus.TopicActivitiesReconciled)
	defer unsub()
	for i := 0; i < 2; i++ {
		// 04-30 .. 05-04 at 09:00; endsOn alone would stop at 05-02
		got, err := h.sched.GetScheduledActivities(ctx, p, now.Add(24*time.Hour), time.UTC)
		if err != nil {
			t.Fatalf("GetScheduledActivities: %v", err)
		}
		if len(got) != 5 {
			t.Fatalf("call %d: activities = %v, want 5", i, guids(got))
		}
	}
	// the second call finds every row persisted, including those past endsOn
	if n := len(reconciled); n != 1 {
		t.Fatalf("reconcile events = %d, want 1", n)
	}
	persisted, _ := h.store.GetActivities(ctx, "hc", schedule.LocalDateTimeOf(now.AddDate(1, 0, 0)))
	if len(persisted) != 5 {
		t.Fatalf("persisted = %d, want 5", len(persisted))
	}
}

func TestSurveyActivitiesResolveAgainstCatalog(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	v1 := survey.Survey{Guid: "sv", CreatedOn: now.AddDate(0, -1, 0), Identifier: "mood-v1", Published: true}
	if err := h.store.PutSurvey(ctx, v1); err != nil {
		t.Fatalf("PutSurvey: %v", err)
	}
	act := schedule.Activity{Label: "Mood", Survey: &schedule.SurveyReference{Guid: "sv"}}
	if _, err := h.plans.Create(ctx, dailyPlan(act)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = h.events.PublishEnrollment(ctx, "hc", now.Add(-time.Hour))

	got := h.get(t, "hc", time.UTC)
	if len(got) == 0 {
		t.Fatal("expected survey activities")
	}
	ref := got[0].Activity.Survey
	if ref.Identifier != "mood-v1" || ref.CreatedOn == nil || !ref.CreatedOn.Equal(v1.CreatedOn) {
		t.Fatalf("survey ref = %+v, want pinned mood-v1", ref)
	}

	finished := now
	if _, err := h.sched.UpdateScheduledActivities(ctx, "hc", []scheduling.Update{{Guid: got[0].Guid, FinishedOn: &finished}}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	evs, _ := h.events.GetEventMap(ctx, "hc")
	if _, ok := evs[schedule.SurveyFinishedEvent("sv")]; !ok {
		t.Fatal("finishing a survey activity should publish survey:<guid>:finished")
	}
}
