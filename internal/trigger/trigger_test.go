package trigger

import (
	"testing"
	"time"

	"studysched/internal/schedule"
)

var (
	msk = time.FixedZone("MSK", 3*3600)
	pst = time.FixedZone("PST", -7*3600)
)

func tasks() []schedule.Activity {
	return []schedule.Activity{{Guid: "tmpl", Label: "Task", Task: &schedule.TaskReference{Identifier: "t1"}}}
}

func ctxAt(zone *time.Location, now, enrollment time.Time, horizon time.Duration) *schedule.Context {
	return &schedule.Context{
		HealthCode: "hc",
		Zone:       zone,
		Now:        now,
		EndsOn:     now.Add(horizon),
		Events:     map[string]time.Time{schedule.EnrollmentEvent: enrollment},
	}
}

func scheduledStrings(occ []Occurrence) []string {
	out := make([]string, 0, len(occ))
	for _, o := range occ {
		out = append(out, o.Scheduled.String())
	}
	return out
}

func TestOnceKeepsTimeOfDayAcrossZones(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := &schedule.Schedule{
		ScheduleType: schedule.Once,
		Times:        []schedule.LocalTime{schedule.MustLocalTime("13:11")},
		Activities:   tasks(),
	}
	var ev Evaluator
	for _, zone := range []*time.Location{msk, pst} {
		occ, err := ev.Evaluate(s, ctxAt(zone, now, now.Add(-24*time.Hour), 48*time.Hour))
		if err != nil {
			t.Fatalf("Evaluate(%s) error: %v", zone, err)
		}
		if len(occ) != 1 {
			t.Fatalf("Evaluate(%s) = %v, want one occurrence", zone, scheduledStrings(occ))
		}
		if got := occ[0].Scheduled.TimeOfDay().String(); got != "13:11:00.000" {
			t.Fatalf("time of day in %s = %s, want 13:11:00.000", zone, got)
		}
	}
}

func TestOnceWithoutTimesIsLocalMidnight(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := &schedule.Schedule{ScheduleType: schedule.Once, Activities: tasks()}
	var ev Evaluator
	for _, zone := range []*time.Location{msk, pst} {
		occ, err := ev.Evaluate(s, ctxAt(zone, now, now.Add(-time.Hour), 48*time.Hour))
		if err != nil {
			t.Fatalf("Evaluate(%s) error: %v", zone, err)
		}
		if len(occ) != 1 {
			t.Fatalf("Evaluate(%s) = %v, want one occurrence", zone, scheduledStrings(occ))
		}
		at := occ[0].Scheduled.In(zone)
		if at.Hour() != 0 || at.Minute() != 0 {
			t.Fatalf("occurrence in %s = %v, want local midnight", zone, at)
		}
	}
}

func TestOnceDelayMovesDate(t *testing.T) {
	t.Parallel()
	enrolled := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := &schedule.Schedule{ScheduleType: schedule.Once, Delay: schedule.MustPeriod("P2D"), Activities: tasks()}
	occ, err := Evaluator{}.Evaluate(s, ctxAt(time.UTC, enrolled, enrolled, 72*time.Hour))
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	got := scheduledStrings(occ)
	if len(got) != 1 || got[0] != "2024-05-03T00:00:00.000" {
		t.Fatalf("occurrences = %v, want [2024-05-03T00:00:00.000]", got)
	}
}

func TestIntervalFiltersExpiredAndHorizon(t *testing.T) {
	t.Parallel()
	enrolled := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)
	s := &schedule.Schedule{
		ScheduleType: schedule.Recurring,
		Interval:     schedule.MustPeriod("P1D"),
		Expires:      schedule.MustPeriod("PT6H"),
		Times:        []schedule.LocalTime{schedule.MustLocalTime("21:00"), schedule.MustLocalTime("09:00")},
		Activities:   tasks(),
	}
	occ, err := Evaluator{}.Evaluate(s, ctxAt(time.UTC, now, enrolled, 48*time.Hour))
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	want := []string{
		"2024-05-03T09:00:00.000",
		"2024-05-03T21:00:00.000",
		"2024-05-04T09:00:00.000",
		"2024-05-04T21:00:00.000",
		"2024-05-05T09:00:00.000",
	}
	got := scheduledStrings(occ)
	if len(got) != len(want) {
		t.Fatalf("occurrences = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("occurrence[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if occ[0].Expires == nil || occ[0].Expires.String() != "2024-05-03T15:00:00.000" {
		t.Fatalf("expires = %v, want 2024-05-03T15:00:00.000", occ[0].Expires)
	}
}

func TestIntervalHonoursScheduleWindow(t *testing.T) {
	t.Parallel()
	enrolled := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	starts := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	ends := time.Date(2024, 5, 4, 23, 59, 0, 0, time.UTC)
	s := &schedule.Schedule{
		ScheduleType: schedule.Recurring,
		Interval:     schedule.MustPeriod("P1D"),
		StartsOn:     &starts,
		EndsOn:       &ends,
		Activities:   tasks(),
	}
	occ, err := Evaluator{}.Evaluate(s, ctxAt(time.UTC, enrolled, enrolled, 9*24*time.Hour))
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	got := scheduledStrings(occ)
	if len(got) != 2 || got[0] != "2024-05-03T00:00:00.000" || got[1] != "2024-05-04T00:00:00.000" {
		t.Fatalf("occurrences = %v, want 05-03 and 05-04", got)
	}
}

func TestCronOccurrences(t *testing.T) {
	t.Parallel()
	// 2024-05-01 is a Wednesday.
	enrolled := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	s := &schedule.Schedule{
		ScheduleType: schedule.Recurring,
		CronTrigger:  "0 0 9 ? * MON,THU *",
		Activities:   tasks(),
	}
	sc := ctxAt(time.UTC, enrolled.Add(time.Hour), enrolled, 0)
	sc.EndsOn = time.Date(2024, 5, 14, 0, 0, 0, 0, time.UTC)
	occ, err := Evaluator{}.Evaluate(s, sc)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	want := []string{
		"2024-05-02T09:00:00.000",
		"2024-05-06T09:00:00.000",
		"2024-05-09T09:00:00.000",
		"2024-05-13T09:00:00.000",
	}
	got := scheduledStrings(occ)
	if len(got) != len(want) {
		t.Fatalf("occurrences = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("occurrence[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestAnchorEventSelection(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	s := &schedule.Schedule{ScheduleType: schedule.Once, EventID: "custom:baseline, enrollment", Activities: tasks()}

	sc := ctxAt(time.UTC, now, time.Date(2024, 5, 9, 8, 0, 0, 0, time.UTC), 48*time.Hour)
	occ, _ := Evaluator{}.Evaluate(s, sc)
	if got := scheduledStrings(occ); len(got) != 1 || got[0] != "2024-05-09T00:00:00.000" {
		t.Fatalf("enrollment fallback = %v, want 2024-05-09 midnight", got)
	}

	sc.Events["custom:baseline"] = time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	occ, _ = Evaluator{}.Evaluate(s, sc)
	if got := scheduledStrings(occ); len(got) != 1 || got[0] != "2024-05-10T00:00:00.000" {
		t.Fatalf("custom anchor = %v, want 2024-05-10 midnight", got)
	}

	sc.Events = map[string]time.Time{}
	if occ, _ := (Evaluator{}).Evaluate(s, sc); len(occ) != 0 {
		t.Fatalf("no events should yield no occurrences, got %v", scheduledStrings(occ))
	}
}

func TestMaxOccurrencesKeepsLatest(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	s := &schedule.Schedule{ScheduleType: schedule.Recurring, Interval: schedule.MustPeriod("P1D"), Activities: tasks()}
	occ, err := Evaluator{MaxOccurrences: 3}.Evaluate(s, ctxAt(time.UTC, now, now.AddDate(0, 0, -100), 24*time.Hour))
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	got := scheduledStrings(occ)
	want := []string{"2024-05-09T00:00:00.000", "2024-05-10T00:00:00.000", "2024-05-11T00:00:00.000"}
	if len(got) != 3 || got[0] != want[0] || got[2] != want[2] {
		t.Fatalf("occurrences = %v, want %v", got, want)
	}
}

func TestMinimumPerScheduleExtendsRecurring(t *testing.T) {
	t.Parallel()
	enrolled := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	endsOn := time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)

	monthly := &schedule.Schedule{
		ScheduleType: schedule.Recurring,
		Interval:     schedule.MustPeriod("P1M"),
		Times:        []schedule.LocalTime{schedule.MustLocalTime("14:00")},
		Expires:      schedule.MustPeriod("P1W"),
		Activities:   tasks(),
	}
	monthlyCron := &schedule.Schedule{
		ScheduleType: schedule.Recurring,
		CronTrigger:  "0 0 14 10 * ? *",
		Activities:   tasks(),
	}
	bounded := *monthly
	bounded.EndsOn = &endsOn
	daily := &schedule.Schedule{
		ScheduleType: schedule.Recurring,
		Interval:     schedule.MustPeriod("P1D"),
		Times:        []schedule.LocalTime{schedule.MustLocalTime("14:00")},
		Expires:      schedule.MustPeriod("P1D"),
		Activities:   tasks(),
	}
	once := &schedule.Schedule{ScheduleType: schedule.Once, Activities: tasks()}

	tests := []struct {
		name    string
		s       *schedule.Schedule
		horizon time.Duration
		minimum int
		want    []string
	}{
		{name: "interval without minimum", s: monthly, horizon: 24 * time.Hour},
		{
			name: "interval with minimum", s: monthly, horizon: 24 * time.Hour, minimum: 4,
			want: []string{"2024-06-01T14:00:00.000", "2024-07-01T14:00:00.000", "2024-08-01T14:00:00.000", "2024-09-01T14:00:00.000"},
		},
		{
			name: "cron with minimum", s: monthlyCron, horizon: 24 * time.Hour, minimum: 3,
			want: []string{"2024-05-10T14:00:00.000", "2024-06-10T14:00:00.000", "2024-07-10T14:00:00.000"},
		},
		{
			name: "schedule endsOn still bounds", s: &bounded, horizon: 24 * time.Hour, minimum: 4,
			want: []string{"2024-06-01T14:00:00.000", "2024-07-01T14:00:00.000"},
		},
		{
			name: "window already above minimum", s: daily, horizon: 72 * time.Hour, minimum: 1,
			want: []string{"2024-05-09T14:00:00.000", "2024-05-10T14:00:00.000", "2024-05-11T14:00:00.000", "2024-05-12T14:00:00.000"},
		},
		{name: "once ignores minimum", s: once, horizon: 24 * time.Hour, minimum: 5, want: []string{"2024-05-01T00:00:00.000"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sc := ctxAt(time.UTC, now, enrolled, tt.horizon)
			sc.MinimumPerSchedule = tt.minimum
			occ, err := Evaluator{}.Evaluate(tt.s, sc)
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			got := scheduledStrings(occ)
			if len(got) != len(tt.want) {
				t.Fatalf("occurrences = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("occurrence[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}
