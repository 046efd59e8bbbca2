package rag

import (
	"context"
	"log/slog"

	"github.com/54b3r/courserag-go/internal/logging"
)

// CatalogQuerier finds the closest catalog entry to a name.
type CatalogQuerier interface {
	ResolveCourse(ctx context.Context, name string) (Match, bool, error)
}

// Resolver maps a partial or misspelled course name to a canonical title.
//
// With MaxDistance unset it always returns the closest course when the
// catalog is non-empty, so a name unrelated to every course still resolves
// to something.
type Resolver struct {
	catalog     CatalogQuerier
	maxDistance float32
}

// NewResolver returns a Resolver over catalog. maxDistance > 0 rejects best
// matches farther than that cosine distance; 0 disables the threshold.
func NewResolver(catalog CatalogQuerier, maxDistance float32) *Resolver {
	return &Resolver{catalog: catalog, maxDistance: maxDistance}
}

// Resolve returns the canonical title for name. ok is false when nothing
// matched.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, bool, error) {
	m, ok, err := r.catalog.ResolveCourse(ctx, name)
	if err != nil || !ok {
		return "", false, err
	}
	if r.maxDistance > 0 && m.Distance > r.maxDistance {
		logging.FromContext(ctx).Debug("rag: course match rejected by threshold",
			slog.String("name", name),
			slog.String("best", m.Title),
			slog.Float64("distance", float64(m.Distance)),
		)
		return "", false, nil
	}
	return m.Title, true, nil
}
