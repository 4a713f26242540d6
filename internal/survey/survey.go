// Package survey is the survey catalog collaborator: versioned surveys, the
// "most recently published" lookup, and a per-request resolution cache.
package survey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studysched/internal/schedule"
)

var ErrNotFound = errors.New("survey not found")

// Survey is one version of a survey. Versions are keyed by (Guid, CreatedOn).
type Survey struct {
	Guid       string    `json:"guid"`
	CreatedOn  time.Time `json:"createdOn"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	Published  bool      `json:"published"`
}

// Catalog is the read side used by scheduling.
type Catalog interface {
	GetMostRecentlyPublished(ctx context.Context, guid string) (Survey, error)
	GetSurvey(ctx context.Context, guid string, createdOn time.Time) (Survey, error)
}

// Store adds authoring operations to the catalog.
type Store interface {
	Catalog
	PutSurvey(ctx context.Context, s Survey) error
	PublishSurvey(ctx context.Context, guid string, createdOn time.Time) error
	ListSurveys(ctx context.Context) ([]Survey, error)
}

// Resolver looks up survey references against a catalog and caches the
// results for its lifetime. Create one per request.
type Resolver struct {
	catalog Catalog

	mu    sync.Mutex
	cache map[string]Survey
}

func NewResolver(c Catalog) *Resolver {
	return &Resolver{catalog: c, cache: map[string]Survey{}}
}

// Lookup resolves ref: indirect references to the most recently published
// version, absolute references to the pinned version. The reference's own
// Identifier is never consulted.
func (r *Resolver) Lookup(ctx context.Context, ref schedule.SurveyReference) (Survey, error) {
	key := ref.Guid
	if !ref.Indirect() {
		key += "@" + ref.CreatedOn.UTC().Format(time.RFC3339Nano)
	}
	r.mu.Lock()
	s, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return s, nil
	}

	var err error
	if ref.Indirect() {
		s, err = r.catalog.GetMostRecentlyPublished(ctx, ref.Guid)
	} else {
		s, err = r.catalog.GetSurvey(ctx, ref.Guid, *ref.CreatedOn)
	}
	if err != nil {
		return Survey{}, fmt.Errorf("survey %s: %w", ref.Guid, err)
	}

	r.mu.Lock()
	r.cache[key] = s
	r.mu.Unlock()
	return s, nil
}
