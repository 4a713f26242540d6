// Package scheduling turns a study's schedule plans into the concrete list of
// activities a participant should see, and keeps the persisted list in step.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"studysched/internal/activity"
	"studysched/internal/eventbus"
	"studysched/internal/events"
	"studysched/internal/schedule"
	"studysched/internal/strategy"
	"studysched/internal/survey"
	"studysched/internal/trigger"
	logx "studysched/pkg/logx"
)

var (
	ErrHorizonInPast   = errors.New("endsOn is before now")
	ErrHorizonTooFar   = errors.New("endsOn is too far in the future")
	ErrMissingZone     = errors.New("time zone is required")
	ErrMissingStudy    = errors.New("study id is required")
	ErrMissingAccount  = errors.New("health code is required")
	ErrNegativeMinimum = errors.New("minimum per schedule must be >= 0")
)

const DefaultMaxHorizon = 15 * 24 * time.Hour

type Config struct {
	// MaxHorizon bounds endsOn - now. Zero means DefaultMaxHorizon.
	MaxHorizon time.Duration
	// MaxOccurrences caps occurrences per schedule. Zero means trigger.DefaultMaxOccurrences.
	MaxOccurrences int
	// CleanupBatchSize and CleanupRatePerSec pace plan cleanup deletes.
	CleanupBatchSize  int
	CleanupRatePerSec int
}

func (c Config) withDefaults() Config {
	if c.MaxHorizon <= 0 {
		c.MaxHorizon = DefaultMaxHorizon
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = trigger.DefaultMaxOccurrences
	}
	if c.CleanupBatchSize <= 0 {
		c.CleanupBatchSize = 100
	}
	if c.CleanupRatePerSec <= 0 {
		c.CleanupRatePerSec = 50
	}
	return c
}

// Deps are the collaborators of Service.
type Deps struct {
	Plans      PlanStore
	Activities activity.Store
	Surveys    survey.Catalog
	Events     *events.Service
	Bus        eventbus.Bus
	Logger     logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Participant identifies who is asking for a schedule.
type Participant struct {
	StudyID          string
	HealthCode       string
	DataGroups       []string
	Client           schedule.ClientInfo
	AccountCreatedOn time.Time
	// MinimumPerSchedule asks recurring schedules for at least this many
	// occurrences, even past endsOn.
	MinimumPerSchedule int
}

// Update sets the start and/or finish time of one activity.
type Update struct {
	Guid       string
	StartedOn  *time.Time
	FinishedOn *time.Time
}

type Service struct {
	deps Deps
	log  logx.Logger

	mu      sync.RWMutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, deps Deps) *Service {
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Service{deps: deps, log: deps.Logger.With(logx.String("comp", "scheduling"))}
	s.Apply(cfg)
	return s
}

// Apply swaps the tunables; safe to call concurrently with requests.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.CleanupRatePerSec), cfg.CleanupBatchSize)
}

func (s *Service) config() (Config, *rate.Limiter) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.limiter
}

// GetScheduledActivities generates the participant's activities up to endsOn,
// reconciles them with what is persisted, applies the writes and returns the
// visible list ordered by local scheduled time.
func (s *Service) GetScheduledActivities(ctx context.Context, p Participant, endsOn time.Time, zone *time.Location) ([]schedule.ScheduledActivity, error) {
	cfg, _ := s.config()
	now := s.deps.Now()

	switch {
	case p.StudyID == "":
		return nil, ErrMissingStudy
	case p.HealthCode == "":
		return nil, ErrMissingAccount
	case zone == nil:
		return nil, ErrMissingZone
	case endsOn.Before(now):
		return nil, fmt.Errorf("%w: %s", ErrHorizonInPast, endsOn.Format(time.RFC3339))
	case endsOn.Sub(now) > cfg.MaxHorizon:
		return nil, fmt.Errorf("%w: more than %s ahead", ErrHorizonTooFar, cfg.MaxHorizon)
	case p.MinimumPerSchedule < 0:
		return nil, ErrNegativeMinimum
	}

	evs, err := s.deps.Events.GetEventMap(ctx, p.HealthCode)
	if err != nil {
		return nil, err
	}
	if _, ok := evs[schedule.EnrollmentEvent]; !ok && !p.AccountCreatedOn.IsZero() {
		evs[schedule.EnrollmentEvent] = p.AccountCreatedOn
	}

	sc := &schedule.Context{
		StudyID:          p.StudyID,
		HealthCode:       p.HealthCode,
		Zone:             zone,
		Now:              now.In(zone),
		EndsOn:           endsOn.In(zone),
		Events:           evs,
		DataGroups:       p.DataGroups,
		Client:           p.Client,
		AccountCreatedOn: p.AccountCreatedOn,

		MinimumPerSchedule: p.MinimumPerSchedule,
	}

	fresh, err := s.generate(ctx, sc, cfg)
	if err != nil {
		return nil, err
	}

	// a minimum per schedule can reach past endsOn
	until := schedule.LocalDateTimeOf(sc.EndsOn)
	for _, f := range fresh {
		if f.LocalScheduledOn.After(until) {
			until = f.LocalScheduledOn
		}
	}
	persisted, err := s.deps.Activities.GetActivities(ctx, p.HealthCode, until)
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}

	ops := activity.Reconcile(fresh, persisted)
	if err := s.deps.Activities.DeleteActivities(ctx, ops.Deletes); err != nil {
		return nil, fmt.Errorf("delete activities: %w", err)
	}
	if err := s.deps.Activities.SaveActivities(ctx, ops.Saves); err != nil {
		return nil, fmt.Errorf("save activities: %w", err)
	}

	results := ops.Results
	for i := range results {
		results[i].Zone = zone
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].LocalScheduledOn.Before(results[j].LocalScheduledOn)
	})

	if _, err := s.deps.Events.PublishOnce(ctx, p.HealthCode, schedule.ActivitiesRetrievedEvent, now); err != nil {
		return nil, err
	}

	s.log.Debug("activities reconciled",
		logx.HealthCode(p.HealthCode),
		logx.Int("results", len(results)),
		logx.Int("saves", len(ops.Saves)),
		logx.Int("deletes", len(ops.Deletes)),
	)
	if len(ops.Saves) > 0 || len(ops.Deletes) > 0 {
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.TopicActivitiesReconciled, Data: eventbus.Reconciled{
			HealthCode: p.HealthCode, Results: len(results), Saves: len(ops.Saves), Deletes: len(ops.Deletes),
		}})
	}
	return results, nil
}

// generate runs resolve, evaluate and materialize for every plan of the study.
func (s *Service) generate(ctx context.Context, sc *schedule.Context, cfg Config) ([]schedule.ScheduledActivity, error) {
	plans, err := s.deps.Plans.ListPlans(ctx, sc.StudyID)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}

	ev := trigger.Evaluator{MaxOccurrences: cfg.MaxOccurrences}
	mat := activity.NewMaterializer(survey.NewResolver(s.deps.Surveys))

	var out []schedule.ScheduledActivity
	for i := range plans {
		plan := &plans[i]
		sched, ok := strategy.Resolve(plan, sc)
		if !ok {
			continue
		}
		occ, err := ev.Evaluate(sched, sc)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", plan.Guid, err)
		}
		s.log.Trace("plan evaluated",
			logx.String("plan", plan.Guid),
			logx.String("schedule", sched.Label),
			logx.HealthCode(sc.HealthCode),
			logx.Int("occurrences", len(occ)),
		)
		list, err := mat.Materialize(ctx, sc, plan, sched, occ)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", plan.Guid, err)
		}
		out = append(out, list...)
	}
	return out, nil
}

// UpdateScheduledActivities records start and finish times. Each timestamp is
// set at most once; later values for an already set field are ignored.
// Finishing an activity publishes its finished events.
func (s *Service) UpdateScheduledActivities(ctx context.Context, healthCode string, updates []Update) ([]schedule.ScheduledActivity, error) {
	verr := &schedule.ValidationError{Entity: "ScheduledActivity", Errors: map[string][]string{}}
	for i, u := range updates {
		if u.Guid == "" {
			field := fmt.Sprintf("[%d].guid", i)
			verr.Errors[field] = append(verr.Errors[field], "is required")
		}
	}
	if len(verr.Errors) > 0 {
		return nil, verr
	}

	// updates for the same guid apply to one copy, so the first value sticks
	loaded := make(map[string]*schedule.ScheduledActivity, len(updates))
	var order []string
	dirty := map[string]bool{}
	finishedNow := map[string]bool{}
	for _, u := range updates {
		a, ok := loaded[u.Guid]
		if !ok {
			got, err := s.deps.Activities.GetActivity(ctx, healthCode, u.Guid)
			if err != nil {
				return nil, err
			}
			a = &got
			loaded[u.Guid] = a
			order = append(order, u.Guid)
		}
		if u.StartedOn != nil && a.StartedOn == nil {
			t := *u.StartedOn
			a.StartedOn = &t
			dirty[u.Guid] = true
		}
		if u.FinishedOn != nil && a.FinishedOn == nil {
			t := *u.FinishedOn
			a.FinishedOn = &t
			if a.StartedOn == nil {
				a.StartedOn = &t
			}
			dirty[u.Guid] = true
			finishedNow[u.Guid] = true
		}
	}

	var changed []schedule.ScheduledActivity
	var finished []schedule.ScheduledActivity
	for _, guid := range order {
		if !dirty[guid] {
			continue
		}
		a := *loaded[guid]
		changed = append(changed, a)
		if finishedNow[guid] {
			finished = append(finished, a)
		}
	}

	if err := s.deps.Activities.SaveActivities(ctx, changed); err != nil {
		return nil, fmt.Errorf("save activities: %w", err)
	}
	for _, a := range finished {
		if err := s.deps.Events.PublishActivityFinished(ctx, healthCode, a.TemplateGuid(), *a.FinishedOn); err != nil {
			return nil, err
		}
		if a.Activity.Survey != nil {
			if err := s.deps.Events.PublishSurveyFinished(ctx, healthCode, a.Activity.Survey.Guid, *a.FinishedOn); err != nil {
				return nil, err
			}
		}
	}
	for _, a := range changed {
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.TopicActivityUpdated, Data: eventbus.ActivityUpdated{
			HealthCode: healthCode, Guid: a.Guid, Started: a.StartedOn != nil, Finished: a.FinishedOn != nil,
		}})
	}
	return changed, nil
}

// DeleteActivitiesForUser removes every persisted activity of the participant.
func (s *Service) DeleteActivitiesForUser(ctx context.Context, healthCode string) error {
	if err := s.deps.Activities.DeleteActivitiesForUser(ctx, healthCode); err != nil {
		return fmt.Errorf("delete activities: %w", err)
	}
	s.log.Info("participant activities deleted", logx.HealthCode(healthCode))
	return nil
}

// CleanupPlan deletes the plan's unstarted persisted activities in paced
// batches. Started activities are history and stay.
func (s *Service) CleanupPlan(ctx context.Context, planGuid string) (int, error) {
	cfg, limiter := s.config()
	total := 0
	for {
		batch, err := s.deps.Activities.ListDeletableForPlan(ctx, planGuid, cfg.CleanupBatchSize)
		if err != nil {
			return total, fmt.Errorf("list deletable: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		if err := limiter.WaitN(ctx, len(batch)); err != nil {
			return total, err
		}
		if err := s.deps.Activities.DeleteActivities(ctx, batch); err != nil {
			return total, fmt.Errorf("delete activities: %w", err)
		}
		total += len(batch)
		if len(batch) < cfg.CleanupBatchSize {
			break
		}
	}
	s.log.Info("plan cleanup done", logx.String("plan", planGuid), logx.Int("deleted", total))
	s.deps.Bus.Publish(eventbus.Event{Type: eventbus.TopicPlanCleanup, Data: eventbus.CleanupDone{PlanGuid: planGuid, Deleted: total}})
	return total, nil
}
