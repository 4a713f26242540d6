// Package trigger turns a schedule and a participant's events into concrete
// occurrences (local scheduled time plus optional local expiry).
package trigger

import (
	"fmt"
	"sort"
	"time"

	"studysched/internal/schedule"
)

// Occurrence is one point at which a schedule's activities are instantiated.
type Occurrence struct {
	Scheduled schedule.LocalDateTime
	Expires   *schedule.LocalDateTime
}

const (
	DefaultMaxOccurrences = 500
	// hard stop for enumeration, independent of how many occurrences survive filtering
	maxIterations = 20000
)

// Evaluator enumerates schedule occurrences. The zero value is ready to use.
type Evaluator struct {
	// MaxOccurrences caps the occurrences kept per schedule; the latest ones win.
	MaxOccurrences int
}

// Evaluate returns the occurrences of s for the participant described by sc,
// ordered ascending. The window ends at sc.EndsOn; occurrences before sc.Now
// are kept while they are unexpired. A recurring schedule runs past sc.EndsOn
// until sc.MinimumPerSchedule occurrences are available, but never past the
// schedule's own endsOn.
func (ev Evaluator) Evaluate(s *schedule.Schedule, sc *schedule.Context) ([]Occurrence, error) {
	if s == nil || sc == nil {
		return nil, nil
	}
	anchor, ok := anchorOf(s, sc)
	if !ok {
		return nil, nil
	}

	w := window{s: s, sc: sc, loc: sc.Location(), max: ev.MaxOccurrences}
	if w.max <= 0 {
		w.max = DefaultMaxOccurrences
	}

	switch s.ScheduleType {
	case schedule.Once:
		w.once(anchor)
	case schedule.Recurring:
		switch {
		case s.CronTrigger != "":
			if err := w.cron(anchor); err != nil {
				return nil, err
			}
		case s.Interval != nil && !s.Interval.IsZero():
			w.interval(anchor)
		default:
			return nil, fmt.Errorf("recurring schedule %q has no trigger", s.Label)
		}
	default:
		return nil, fmt.Errorf("unknown schedule type %q", s.ScheduleType)
	}
	return w.out, nil
}

// anchorOf picks the first listed event present in the participant's event
// map, adds the schedule delay and moves the result into the caller's zone.
func anchorOf(s *schedule.Schedule, sc *schedule.Context) (time.Time, bool) {
	for _, id := range s.EventIDs() {
		ts, ok := sc.Events[id]
		if !ok || ts.IsZero() {
			continue
		}
		t := ts.In(sc.Location())
		if s.Delay != nil {
			t = s.Delay.AddTo(t)
		}
		return t, true
	}
	return time.Time{}, false
}

type window struct {
	s   *schedule.Schedule
	sc  *schedule.Context
	loc *time.Location
	max int
	out []Occurrence
}

func (w *window) times() []schedule.LocalTime {
	if len(w.s.Times) == 0 {
		return []schedule.LocalTime{schedule.Midnight}
	}
	return w.s.Times
}

// sortedTimes is times() in ascending order, for enumerations that must stay monotonic.
func (w *window) sortedTimes() []schedule.LocalTime {
	ts := append([]schedule.LocalTime(nil), w.times()...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	return ts
}

// pastHorizon reports whether no later candidate can be accepted.
func (w *window) pastHorizon(at time.Time) bool {
	if w.s.EndsOn != nil && at.After(*w.s.EndsOn) {
		return true
	}
	return at.After(w.sc.EndsOn) && !w.belowMinimum()
}

func (w *window) belowMinimum() bool {
	if w.s.ScheduleType == schedule.Once {
		return false
	}
	return w.sc.MinimumPerSchedule > 0 && len(w.out) < min(w.sc.MinimumPerSchedule, w.max)
}

// offer adds the candidate if it passes the schedule window and expiry checks.
func (w *window) offer(local schedule.LocalDateTime) {
	at := local.In(w.loc)
	if w.pastHorizon(at) || !w.s.InWindow(at) {
		return
	}
	occ := Occurrence{Scheduled: local}
	if w.s.Expires != nil {
		exp := w.s.Expires.AddToLocal(local)
		if !exp.In(w.loc).After(w.sc.Now) {
			return
		}
		occ.Expires = &exp
	}
	if n := len(w.out); n > 0 && !w.out[n-1].Scheduled.Before(local) {
		return // duplicate time of day, or cron and times landing on the same slot
	}
	w.out = append(w.out, occ)
	if len(w.out) > w.max {
		w.out = w.out[len(w.out)-w.max:]
	}
}

// once produces at most one occurrence on the anchor's local date. With
// several times listed, the first one inside the schedule window wins.
func (w *window) once(anchor time.Time) {
	day := schedule.LocalDateTimeOf(anchor)
	times := w.times()
	pick := day.DateAt(times[0])
	for _, tod := range times {
		cand := day.DateAt(tod)
		if w.s.InWindow(cand.In(w.loc)) {
			pick = cand
			break
		}
	}
	w.offer(pick)
}

// interval steps the anchor date by the schedule interval, combining each date with each time.
func (w *window) interval(anchor time.Time) {
	day := schedule.LocalDateTimeOf(anchor).DateAt(schedule.Midnight)
	times := w.sortedTimes()
	for i := 0; i < maxIterations; i++ {
		for _, tod := range times {
			cand := day.DateAt(tod)
			if w.pastHorizon(cand.In(w.loc)) {
				return
			}
			w.offer(cand)
		}
		next := w.s.Interval.AddToLocal(day)
		if !next.After(day) {
			return
		}
		day = next
	}
}

// cron fires strictly after the anchor in the caller's zone. Listed times
// replace the fire time of day; otherwise the fire time is used as is.
func (w *window) cron(anchor time.Time) error {
	sched, err := schedule.ParseCron(w.s.CronTrigger)
	if err != nil {
		return err
	}
	t := anchor.In(w.loc)
	for i := 0; i < maxIterations; i++ {
		t = sched.Next(t)
		if t.IsZero() || w.pastHorizon(t) {
			return nil
		}
		fired := schedule.LocalDateTimeOf(t)
		if len(w.s.Times) == 0 {
			w.offer(fired)
			continue
		}
		for _, tod := range w.sortedTimes() {
			w.offer(fired.DateAt(tod))
		}
	}
	return nil
}
