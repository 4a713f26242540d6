package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"studysched/internal/activity"
	"studysched/internal/events"
	"studysched/internal/schedule"
	"studysched/internal/scheduling"
	"studysched/internal/survey"
)

type memoryStore struct {
	mu sync.RWMutex

	// healthCode -> eventId
	events map[string]map[string]time.Time
	// healthCode -> guid
	activities map[string]map[string]schedule.ScheduledActivity
	// studyId -> guid
	plans map[string]map[string]schedule.SchedulePlan
	// guid@createdOn
	surveys map[string]survey.Survey
	audit   []AuditEntry
	closed  bool
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		events:     map[string]map[string]time.Time{},
		activities: map[string]map[string]schedule.ScheduledActivity{},
		plans:      map[string]map[string]schedule.SchedulePlan{},
		surveys:    map[string]survey.Survey{},
	}
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// events

func (s *memoryStore) PutEvent(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m := s.events[e.HealthCode]
	if m == nil {
		m = map[string]time.Time{}
		s.events[e.HealthCode] = m
	}
	m[e.EventID] = e.Timestamp
	return nil
}

func (s *memoryStore) PutEventIfAbsent(_ context.Context, e events.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	m := s.events[e.HealthCode]
	if m == nil {
		m = map[string]time.Time{}
		s.events[e.HealthCode] = m
	}
	if _, ok := m[e.EventID]; ok {
		return false, nil
	}
	m[e.EventID] = e.Timestamp
	return true, nil
}

func (s *memoryStore) GetEventMap(_ context.Context, healthCode string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string]time.Time, len(s.events[healthCode]))
	for k, v := range s.events[healthCode] {
		out[k] = v
	}
	return out, nil
}

func (s *memoryStore) DeleteEvents(_ context.Context, healthCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, healthCode)
	return nil
}

// activities

func (s *memoryStore) GetActivities(_ context.Context, healthCode string, endsOn schedule.LocalDateTime) ([]schedule.ScheduledActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []schedule.ScheduledActivity
	for _, a := range s.activities[healthCode] {
		if !a.LocalScheduledOn.After(endsOn) {
			out = append(out, cloneActivity(a))
		}
	}
	sortActivities(out)
	return out, nil
}

func (s *memoryStore) GetActivity(_ context.Context, healthCode, guid string) (schedule.ScheduledActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[healthCode][guid]
	if !ok {
		return schedule.ScheduledActivity{}, fmt.Errorf("%w: %s", activity.ErrNotFound, guid)
	}
	return cloneActivity(a), nil
}

func (s *memoryStore) SaveActivities(_ context.Context, list []schedule.ScheduledActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, a := range list {
		m := s.activities[a.HealthCode]
		if m == nil {
			m = map[string]schedule.ScheduledActivity{}
			s.activities[a.HealthCode] = m
		}
		m[a.Guid] = cloneActivity(a)
	}
	return nil
}

func (s *memoryStore) DeleteActivities(_ context.Context, list []schedule.ScheduledActivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, a := range list {
		delete(s.activities[a.HealthCode], a.Guid)
	}
	return nil
}

func (s *memoryStore) DeleteActivitiesForUser(_ context.Context, healthCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activities, healthCode)
	return nil
}

func (s *memoryStore) ListDeletableForPlan(_ context.Context, planGuid string, limit int) ([]schedule.ScheduledActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schedule.ScheduledActivity
	for _, m := range s.activities {
		for _, a := range m {
			if a.SchedulePlanGuid == planGuid && a.Deletable() {
				out = append(out, cloneActivity(a))
			}
		}
	}
	sortActivities(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) PruneActivities(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.activities {
		for guid, a := range m {
			if prunable(a, cutoff) {
				delete(m, guid)
				n++
			}
		}
	}
	return n, nil
}

// plans

func (s *memoryStore) GetPlan(_ context.Context, studyID, guid string) (schedule.SchedulePlan, error) {
	s.mu.RLock()
	p, ok := s.plans[studyID][guid]
	s.mu.RUnlock()
	if !ok {
		return schedule.SchedulePlan{}, fmt.Errorf("%w: %s", scheduling.ErrPlanNotFound, guid)
	}
	return clonePlan(p)
}

func (s *memoryStore) ListPlans(_ context.Context, studyID string) ([]schedule.SchedulePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schedule.SchedulePlan, 0, len(s.plans[studyID]))
	for _, p := range s.plans[studyID] {
		c, err := clonePlan(p)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sortPlans(out)
	return out, nil
}

func (s *memoryStore) CreatePlan(_ context.Context, p schedule.SchedulePlan) error {
	c, err := clonePlan(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.plans[p.StudyID]
	if m == nil {
		m = map[string]schedule.SchedulePlan{}
		s.plans[p.StudyID] = m
	}
	if _, ok := m[p.Guid]; ok {
		return fmt.Errorf("schedule plan %s already exists", p.Guid)
	}
	m[p.Guid] = c
	return nil
}

func (s *memoryStore) UpdatePlan(_ context.Context, p schedule.SchedulePlan, expected int64) error {
	c, err := clonePlan(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.plans[p.StudyID][p.Guid]
	if !ok {
		return fmt.Errorf("%w: %s", scheduling.ErrPlanNotFound, p.Guid)
	}
	if cur.Version != expected {
		return fmt.Errorf("%w: stored version %d, expected %d", scheduling.ErrConcurrentModification, cur.Version, expected)
	}
	s.plans[p.StudyID][p.Guid] = c
	return nil
}

func (s *memoryStore) DeletePlan(_ context.Context, studyID, guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[studyID][guid]; !ok {
		return fmt.Errorf("%w: %s", scheduling.ErrPlanNotFound, guid)
	}
	delete(s.plans[studyID], guid)
	return nil
}

// surveys

func (s *memoryStore) GetMostRecentlyPublished(_ context.Context, guid string) (survey.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best survey.Survey
	found := false
	for _, v := range s.surveys {
		if v.Guid != guid || !v.Published {
			continue
		}
		if !found || v.CreatedOn.After(best.CreatedOn) {
			best, found = v, true
		}
	}
	if !found {
		return survey.Survey{}, survey.ErrNotFound
	}
	return best, nil
}

func (s *memoryStore) GetSurvey(_ context.Context, guid string, createdOn time.Time) (survey.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.surveys[surveyKey(guid, createdOn)]
	if !ok {
		return survey.Survey{}, survey.ErrNotFound
	}
	return v, nil
}

func (s *memoryStore) PutSurvey(_ context.Context, v survey.Survey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surveys[surveyKey(v.Guid, v.CreatedOn)] = v
	return nil
}

func (s *memoryStore) PublishSurvey(_ context.Context, guid string, createdOn time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := surveyKey(guid, createdOn)
	v, ok := s.surveys[k]
	if !ok {
		return survey.ErrNotFound
	}
	v.Published = true
	s.surveys[k] = v
	return nil
}

func (s *memoryStore) ListSurveys(_ context.Context) ([]survey.Survey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]survey.Survey, 0, len(s.surveys))
	for _, v := range s.surveys {
		out = append(out, v)
	}
	sortSurveys(out)
	return out, nil
}

// audit

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *memoryStore) ListAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]AuditEntry, len(s.audit))
	copy(out, s.audit)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
