package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"studysched/internal/eventbus"
	"studysched/internal/schedule"
	"studysched/internal/survey"
	logx "studysched/pkg/logx"
)

// PlanService is the authoring side: it validates plans, assigns guids,
// fills survey identifiers and clears stale activities when a plan changes.
type PlanService struct {
	store   PlanStore
	catalog survey.Catalog
	sched   *Service
	bus     eventbus.Bus
	log     logx.Logger
	now     func() time.Time

	mu        sync.RWMutex
	validator schedule.Validator
}

func NewPlanService(store PlanStore, catalog survey.Catalog, sched *Service, v schedule.Validator, bus eventbus.Bus, log logx.Logger) *PlanService {
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &PlanService{
		store:     store,
		catalog:   catalog,
		sched:     sched,
		bus:       bus,
		log:       log.With(logx.String("comp", "plans")),
		now:       time.Now,
		validator: v,
	}
}

// SetValidator swaps the study's known task identifiers and data groups.
func (s *PlanService) SetValidator(v schedule.Validator) {
	s.mu.Lock()
	s.validator = v
	s.mu.Unlock()
}

func (s *PlanService) validate(p *schedule.SchedulePlan) error {
	s.mu.RLock()
	v := s.validator
	s.mu.RUnlock()
	return v.ValidatePlan(p)
}

func (s *PlanService) Get(ctx context.Context, studyID, guid string) (schedule.SchedulePlan, error) {
	return s.store.GetPlan(ctx, studyID, guid)
}

func (s *PlanService) List(ctx context.Context, studyID string) ([]schedule.SchedulePlan, error) {
	return s.store.ListPlans(ctx, studyID)
}

// Create saves a new plan at version 1. Guids sent by the client are replaced.
func (s *PlanService) Create(ctx context.Context, p schedule.SchedulePlan) (schedule.SchedulePlan, error) {
	p.Guid = uuid.NewString()
	for _, a := range p.Activities() {
		a.Guid = uuid.NewString()
	}
	if err := s.validate(&p); err != nil {
		return schedule.SchedulePlan{}, err
	}
	if err := s.fillSurveys(ctx, &p); err != nil {
		return schedule.SchedulePlan{}, err
	}
	p.Version = 1
	p.ModifiedOn = s.now().UTC()

	if err := s.store.CreatePlan(ctx, p); err != nil {
		return schedule.SchedulePlan{}, fmt.Errorf("create plan: %w", err)
	}
	s.log.Info("plan created", logx.String("plan", p.Guid), logx.String("study", p.StudyID))
	s.publish(eventbus.TopicPlanCreated, p)
	return p, nil
}

// Update replaces a plan. p.Version must match the stored version. When an
// activity was removed or redefined, unstarted activities of the plan are
// cleared so the next request regenerates them.
func (s *PlanService) Update(ctx context.Context, p schedule.SchedulePlan) (schedule.SchedulePlan, error) {
	if err := s.validate(&p); err != nil {
		return schedule.SchedulePlan{}, err
	}
	cur, err := s.store.GetPlan(ctx, p.StudyID, p.Guid)
	if err != nil {
		return schedule.SchedulePlan{}, err
	}
	if cur.Version != p.Version {
		return schedule.SchedulePlan{}, fmt.Errorf("%w: stored version %d, got %d", ErrConcurrentModification, cur.Version, p.Version)
	}
	for _, a := range p.Activities() {
		if a.Guid == "" {
			a.Guid = uuid.NewString()
		}
	}
	if err := s.fillSurveys(ctx, &p); err != nil {
		return schedule.SchedulePlan{}, err
	}

	expected := p.Version
	p.Version++
	p.ModifiedOn = s.now().UTC()
	if err := s.store.UpdatePlan(ctx, p, expected); err != nil {
		return schedule.SchedulePlan{}, fmt.Errorf("update plan: %w", err)
	}
	s.log.Info("plan updated", logx.String("plan", p.Guid), logx.Int64("version", p.Version))
	s.publish(eventbus.TopicPlanUpdated, p)

	if activitiesChanged(&cur, &p) {
		if _, err := s.sched.CleanupPlan(ctx, p.Guid); err != nil {
			return p, fmt.Errorf("cleanup plan: %w", err)
		}
	}
	return p, nil
}

// Delete removes the plan and its unstarted activities.
func (s *PlanService) Delete(ctx context.Context, studyID, guid string) error {
	p, err := s.store.GetPlan(ctx, studyID, guid)
	if err != nil {
		return err
	}
	if err := s.store.DeletePlan(ctx, studyID, guid); err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	s.log.Info("plan deleted", logx.String("plan", guid), logx.String("study", studyID))
	s.publish(eventbus.TopicPlanDeleted, p)
	if _, err := s.sched.CleanupPlan(ctx, guid); err != nil {
		return fmt.Errorf("cleanup plan: %w", err)
	}
	return nil
}

// fillSurveys overwrites every survey reference's identifier from the catalog.
func (s *PlanService) fillSurveys(ctx context.Context, p *schedule.SchedulePlan) error {
	r := survey.NewResolver(s.catalog)
	for _, a := range p.Activities() {
		if a.Survey == nil {
			continue
		}
		sv, err := r.Lookup(ctx, *a.Survey)
		if err != nil {
			return err
		}
		a.Survey.Identifier = sv.Identifier
	}
	return nil
}

func (s *PlanService) publish(topic string, p schedule.SchedulePlan) {
	s.bus.Publish(eventbus.Event{Type: topic, Data: eventbus.PlanChanged{PlanGuid: p.Guid, StudyID: p.StudyID, Version: p.Version}})
}

// activitiesChanged reports whether any activity of old is gone from next or
// defined differently under the same guid.
func activitiesChanged(old, next *schedule.SchedulePlan) bool {
	defs := map[string]string{}
	for _, a := range next.Activities() {
		defs[a.Guid] = activityDef(a)
	}
	for _, a := range old.Activities() {
		d, ok := defs[a.Guid]
		if !ok || d != activityDef(a) {
			return true
		}
	}
	return false
}

func activityDef(a *schedule.Activity) string {
	b, _ := json.Marshal(a)
	return string(b)
}
