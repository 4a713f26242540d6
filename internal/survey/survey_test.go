package survey

import (
	"context"
	"errors"
	"testing"
	"time"

	"studysched/internal/schedule"
)

type countingCatalog struct {
	surveys []Survey
	calls   int
}

func (c *countingCatalog) GetMostRecentlyPublished(_ context.Context, guid string) (Survey, error) {
	c.calls++
	var best *Survey
	for i := range c.surveys {
		s := &c.surveys[i]
		if s.Guid == guid && s.Published && (best == nil || s.CreatedOn.After(best.CreatedOn)) {
			best = s
		}
	}
	if best == nil {
		return Survey{}, ErrNotFound
	}
	return *best, nil
}

func (c *countingCatalog) GetSurvey(_ context.Context, guid string, createdOn time.Time) (Survey, error) {
	c.calls++
	for _, s := range c.surveys {
		if s.Guid == guid && s.CreatedOn.Equal(createdOn) {
			return s, nil
		}
	}
	return Survey{}, ErrNotFound
}

func TestResolverLookup(t *testing.T) {
	t.Parallel()
	v1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	v2 := v1.Add(24 * time.Hour)
	cat := &countingCatalog{surveys: []Survey{
		{Guid: "sv", CreatedOn: v1, Identifier: "mood-v1", Published: true},
		{Guid: "sv", CreatedOn: v2, Identifier: "mood-v2", Published: true},
	}}
	r := NewResolver(cat)
	ctx := context.Background()

	got, err := r.Lookup(ctx, schedule.SurveyReference{Guid: "sv", Identifier: "client-supplied"})
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if got.Identifier != "mood-v2" {
		t.Fatalf("indirect Identifier = %s, want mood-v2", got.Identifier)
	}

	got, err = r.Lookup(ctx, schedule.SurveyReference{Guid: "sv", CreatedOn: &v1})
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if got.Identifier != "mood-v1" {
		t.Fatalf("absolute Identifier = %s, want mood-v1", got.Identifier)
	}

	_, _ = r.Lookup(ctx, schedule.SurveyReference{Guid: "sv"})
	if cat.calls != 2 {
		t.Fatalf("catalog calls = %d, want 2 (cached)", cat.calls)
	}

	_, err = r.Lookup(ctx, schedule.SurveyReference{Guid: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup(missing) error = %v, want ErrNotFound", err)
	}
}
