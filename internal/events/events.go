// Package events records the participant timeline (enrollment, finished
// activities, answered questions, custom study events) that schedules anchor on.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"studysched/internal/eventbus"
	"studysched/internal/schedule"
	logx "studysched/pkg/logx"
)

var (
	ErrUnknownEventKey = errors.New("unknown custom event key")
	ErrInvalidEvent    = errors.New("invalid event")
)

// Event is one timestamped milestone. Republishing the same EventID overwrites it.
type Event struct {
	HealthCode string
	EventID    string
	Timestamp  time.Time
}

// Store persists events keyed by (healthCode, eventId).
type Store interface {
	PutEvent(ctx context.Context, e Event) error
	// PutEventIfAbsent writes e unless the id already exists; it reports whether it wrote.
	PutEventIfAbsent(ctx context.Context, e Event) (bool, error)
	GetEventMap(ctx context.Context, healthCode string) (map[string]time.Time, error)
	DeleteEvents(ctx context.Context, healthCode string) error
}

// AutomaticEvent publishes custom:<Key> at Origin + Offset whenever Origin is published.
type AutomaticEvent struct {
	Key    string
	Origin string
	Offset schedule.Period
}

// Options holds the study-level event settings.
type Options struct {
	// ActivityEventKeys lists custom event keys clients may publish.
	ActivityEventKeys []string
	// AutomaticCustomEvents maps key to "<origin event>:<ISO period>" or just "<ISO period>" (origin enrollment).
	AutomaticCustomEvents map[string]string
}

// ParseAutomaticEvents validates and expands Options.AutomaticCustomEvents, sorted by key.
func ParseAutomaticEvents(raw map[string]string) ([]AutomaticEvent, error) {
	out := make([]AutomaticEvent, 0, len(raw))
	for key, spec := range raw {
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("automatic custom event: empty key")
		}
		origin, period := schedule.EnrollmentEvent, strings.TrimSpace(spec)
		if i := strings.LastIndex(period, ":"); i >= 0 {
			origin, period = strings.TrimSpace(period[:i]), strings.TrimSpace(period[i+1:])
		}
		p, err := schedule.ParsePeriod(period)
		if err != nil {
			return nil, fmt.Errorf("automatic custom event %q: %w", key, err)
		}
		if origin == "" {
			return nil, fmt.Errorf("automatic custom event %q: empty origin event", key)
		}
		out = append(out, AutomaticEvent{Key: key, Origin: origin, Offset: p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

type Service struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger

	mu        sync.RWMutex
	keys      map[string]struct{}
	automatic []AutomaticEvent
}

func NewService(store Store, opts Options, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{store: store, bus: bus, log: log.With(logx.String("comp", "events"))}
	if err := s.SetOptions(opts); err != nil {
		return nil, err
	}
	return s, nil
}

// SetOptions swaps the study event settings (config reload).
func (s *Service) SetOptions(opts Options) error {
	auto, err := ParseAutomaticEvents(opts.AutomaticCustomEvents)
	if err != nil {
		return err
	}
	keys := make(map[string]struct{}, len(opts.ActivityEventKeys)+len(auto))
	for _, k := range opts.ActivityEventKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}
	for _, a := range auto {
		keys[a.Key] = struct{}{}
	}
	s.mu.Lock()
	s.keys = keys
	s.automatic = auto
	s.mu.Unlock()
	return nil
}

// Publish records an event and fans out any automatic events anchored on it.
func (s *Service) Publish(ctx context.Context, healthCode, eventID string, ts time.Time) error {
	if strings.TrimSpace(healthCode) == "" || strings.TrimSpace(eventID) == "" || ts.IsZero() {
		return fmt.Errorf("%w: health code, event id and timestamp are required", ErrInvalidEvent)
	}
	if err := s.put(ctx, Event{HealthCode: healthCode, EventID: eventID, Timestamp: ts}); err != nil {
		return err
	}

	s.mu.RLock()
	auto := s.automatic
	s.mu.RUnlock()
	for _, a := range auto {
		if a.Origin != eventID {
			continue
		}
		e := Event{HealthCode: healthCode, EventID: schedule.CustomEvent(a.Key), Timestamp: a.Offset.AddTo(ts)}
		if err := s.put(ctx, e); err != nil {
			return fmt.Errorf("automatic event %s: %w", a.Key, err)
		}
	}
	return nil
}

func (s *Service) put(ctx context.Context, e Event) error {
	if err := s.store.PutEvent(ctx, e); err != nil {
		return fmt.Errorf("put event %s: %w", e.EventID, err)
	}
	s.log.Debug("event published", logx.HealthCode(e.HealthCode), logx.String("event_id", e.EventID), logx.Time("at", e.Timestamp))
	s.bus.Publish(eventbus.Event{Type: eventbus.TopicEventPublished, Data: eventbus.EventPublished{HealthCode: e.HealthCode, EventID: e.EventID}})
	return nil
}

func (s *Service) PublishEnrollment(ctx context.Context, healthCode string, ts time.Time) error {
	return s.Publish(ctx, healthCode, schedule.EnrollmentEvent, ts)
}

// PublishCustom records custom:<key>. The key must be one of the study's
// activity event keys or automatic event keys.
func (s *Service) PublishCustom(ctx context.Context, healthCode, key string, ts time.Time) error {
	key = strings.TrimSpace(key)
	s.mu.RLock()
	_, ok := s.keys[key]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEventKey, key)
	}
	return s.Publish(ctx, healthCode, schedule.CustomEvent(key), ts)
}

func (s *Service) PublishActivityFinished(ctx context.Context, healthCode, templateGuid string, ts time.Time) error {
	return s.Publish(ctx, healthCode, schedule.ActivityFinishedEvent(templateGuid), ts)
}

func (s *Service) PublishSurveyFinished(ctx context.Context, healthCode, surveyGuid string, ts time.Time) error {
	return s.Publish(ctx, healthCode, schedule.SurveyFinishedEvent(surveyGuid), ts)
}

func (s *Service) PublishQuestionAnswered(ctx context.Context, healthCode, questionGuid string, ts time.Time) error {
	return s.Publish(ctx, healthCode, schedule.QuestionAnsweredEvent(questionGuid), ts)
}

// PublishOnce records the event only if the participant doesn't have it yet.
func (s *Service) PublishOnce(ctx context.Context, healthCode, eventID string, ts time.Time) (bool, error) {
	wrote, err := s.store.PutEventIfAbsent(ctx, Event{HealthCode: healthCode, EventID: eventID, Timestamp: ts})
	if err != nil {
		return false, fmt.Errorf("put event %s: %w", eventID, err)
	}
	if wrote {
		s.bus.Publish(eventbus.Event{Type: eventbus.TopicEventPublished, Data: eventbus.EventPublished{HealthCode: healthCode, EventID: eventID}})
	}
	return wrote, nil
}

func (s *Service) GetEventMap(ctx context.Context, healthCode string) (map[string]time.Time, error) {
	m, err := s.store.GetEventMap(ctx, healthCode)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	if m == nil {
		m = map[string]time.Time{}
	}
	return m, nil
}

func (s *Service) DeleteEvents(ctx context.Context, healthCode string) error {
	if err := s.store.DeleteEvents(ctx, healthCode); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}
	return nil
}
