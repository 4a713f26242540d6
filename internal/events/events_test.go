package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"studysched/internal/eventbus"
	logx "studysched/pkg/logx"
)

type mapStore struct {
	mu sync.Mutex
	m  map[string]map[string]time.Time
}

func newMapStore() *mapStore { return &mapStore{m: map[string]map[string]time.Time{}} }

func (s *mapStore) PutEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[e.HealthCode] == nil {
		s.m[e.HealthCode] = map[string]time.Time{}
	}
	s.m[e.HealthCode][e.EventID] = e.Timestamp
	return nil
}

func (s *mapStore) PutEventIfAbsent(ctx context.Context, e Event) (bool, error) {
	s.mu.Lock()
	_, ok := s.m[e.HealthCode][e.EventID]
	s.mu.Unlock()
	if ok {
		return false, nil
	}
	return true, s.PutEvent(ctx, e)
}

func (s *mapStore) GetEventMap(_ context.Context, hc string) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]time.Time{}
	for k, v := range s.m[hc] {
		out[k] = v
	}
	return out, nil
}

func (s *mapStore) DeleteEvents(_ context.Context, hc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, hc)
	return nil
}

func TestParseAutomaticEvents(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     map[string]string
		origin  string
		wantErr bool
	}{
		{name: "bare period anchors on enrollment", raw: map[string]string{"week2": "P2W"}, origin: "enrollment"},
		{name: "explicit origin", raw: map[string]string{"followup": "custom:visit:P3D"}, origin: "custom:visit"},
		{name: "bad period", raw: map[string]string{"x": "enrollment:soon"}, wantErr: true},
		{name: "empty origin", raw: map[string]string{"x": ":P1D"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseAutomaticEvents(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAutomaticEvents error: %v", err)
			}
			if len(got) != 1 || got[0].Origin != tt.origin {
				t.Fatalf("got %+v, want origin %s", got, tt.origin)
			}
		})
	}
}

func TestPublishFansOutAutomaticEvents(t *testing.T) {
	t.Parallel()
	store := newMapStore()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8, eventbus.TopicEventPublished)
	defer unsub()

	svc, err := NewService(store, Options{AutomaticCustomEvents: map[string]string{"week2": "P2W"}}, bus, logx.Nop())
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	enrolled := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := svc.PublishEnrollment(context.Background(), "hc", enrolled); err != nil {
		t.Fatalf("PublishEnrollment error: %v", err)
	}

	m, _ := svc.GetEventMap(context.Background(), "hc")
	if !m["enrollment"].Equal(enrolled) {
		t.Fatalf("enrollment = %v, want %v", m["enrollment"], enrolled)
	}
	if want := enrolled.AddDate(0, 0, 14); !m["custom:week2"].Equal(want) {
		t.Fatalf("custom:week2 = %v, want %v", m["custom:week2"], want)
	}
	if len(ch) != 2 {
		t.Fatalf("bus events = %d, want 2", len(ch))
	}
}

func TestPublishCustomRequiresKnownKey(t *testing.T) {
	t.Parallel()
	svc, err := NewService(newMapStore(), Options{ActivityEventKeys: []string{"visit"}}, nil, logx.Logger{})
	if err != nil {
		t.Fatalf("NewService error: %v", err)
	}
	ctx := context.Background()
	now := time.Now()
	if err := svc.PublishCustom(ctx, "hc", "visit", now); err != nil {
		t.Fatalf("PublishCustom(visit) error: %v", err)
	}
	if err := svc.PublishCustom(ctx, "hc", "party", now); !errors.Is(err, ErrUnknownEventKey) {
		t.Fatalf("PublishCustom(party) = %v, want ErrUnknownEventKey", err)
	}

	if err := svc.SetOptions(Options{ActivityEventKeys: []string{"party"}}); err != nil {
		t.Fatalf("SetOptions error: %v", err)
	}
	if err := svc.PublishCustom(ctx, "hc", "party", now); err != nil {
		t.Fatalf("PublishCustom(party) after reload error: %v", err)
	}
}

func TestPublishOnceAndOverwrite(t *testing.T) {
	t.Parallel()
	svc, _ := NewService(newMapStore(), Options{}, nil, logx.Nop())
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	wrote, err := svc.PublishOnce(ctx, "hc", "activities_retrieved", t0)
	if err != nil || !wrote {
		t.Fatalf("PublishOnce = %v, %v; want true, nil", wrote, err)
	}
	wrote, _ = svc.PublishOnce(ctx, "hc", "activities_retrieved", t0.Add(time.Hour))
	if wrote {
		t.Fatal("second PublishOnce should not overwrite")
	}

	if err := svc.PublishActivityFinished(ctx, "hc", "AAA", t0); err != nil {
		t.Fatal(err)
	}
	if err := svc.PublishActivityFinished(ctx, "hc", "AAA", t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	m, _ := svc.GetEventMap(ctx, "hc")
	if !m["activity:AAA:finished"].Equal(t0.Add(time.Hour)) {
		t.Fatalf("republished event = %v, want latest timestamp", m["activity:AAA:finished"])
	}
	if !m["activities_retrieved"].Equal(t0) {
		t.Fatalf("activities_retrieved = %v, want %v", m["activities_retrieved"], t0)
	}

	if err := svc.DeleteEvents(ctx, "hc"); err != nil {
		t.Fatal(err)
	}
	if m, _ := svc.GetEventMap(ctx, "hc"); len(m) != 0 {
		t.Fatalf("events after delete = %v", m)
	}
}

func TestPublishRejectsIncompleteEvent(t *testing.T) {
	t.Parallel()
	svc, _ := NewService(newMapStore(), Options{}, nil, logx.Nop())
	if err := svc.Publish(context.Background(), "", "enrollment", time.Now()); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("error = %v, want ErrInvalidEvent", err)
	}
	if err := svc.Publish(context.Background(), "hc", "enrollment", time.Time{}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("error = %v, want ErrInvalidEvent", err)
	}
}

func TestPublishHelpersUseWellKnownIDs(t *testing.T) {
	t.Parallel()
	svc, _ := NewService(newMapStore(), Options{}, nil, logx.Nop())
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		publish func() error
		id      string
	}{
		{name: "activity", publish: func() error { return svc.PublishActivityFinished(ctx, "hc", "tmpl", t0) }, id: "activity:tmpl:finished"},
		{name: "survey", publish: func() error { return svc.PublishSurveyFinished(ctx, "hc", "sv", t0) }, id: "survey:sv:finished"},
		{name: "question", publish: func() error { return svc.PublishQuestionAnswered(ctx, "hc", "q1", t0) }, id: "question:q1:answered"},
	}
	for _, tt := range tests {
		tt := tt
		if err := tt.publish(); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
	}
	m, _ := svc.GetEventMap(ctx, "hc")
	for _, tt := range tests {
		tt := tt
		if !m[tt.id].Equal(t0) {
			t.Fatalf("%s = %v, want %v", tt.id, m[tt.id], t0)
		}
	}
}
