package query

import (
	"context"
	"log/slog"
	"time"

	"flight_fence/internal/database"
	"flight_fence/internal/geofilter"
	"flight_fence/internal/metrics"
	"flight_fence/internal/models"
	"flight_fence/internal/opensky"
)

// Source tells clients how fresh a result is
type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
	SourceError    Source = "error"
)

// DefaultFallbackLimit is the number of stored records served on fallback
const DefaultFallbackLimit = 20

// Result is the answer to one read request
type Result struct {
	Source   Source
	Aircraft []models.AircraftRecord
}

// Store is what the service needs from persistence
type Store interface {
	database.RecordReader
	database.RecordAppender
}

// Options tunes the service
type Options struct {
	FallbackLimit int
	// PersistLive also appends every live snapshot served to a client
	PersistLive bool
}

// Service answers read requests from the live feed, falling back to the
// last persisted records when the feed is unavailable
type Service struct {
	feed    opensky.Fetcher
	filter  *geofilter.Filter
	store   Store
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time
}

// NewService creates a query service
func NewService(feed opensky.Fetcher, filter *geofilter.Filter, store Store, m *metrics.Metrics, opts Options) *Service {
	if opts.FallbackLimit <= 0 {
		opts.FallbackLimit = DefaultFallbackLimit
	}
	return &Service{
		feed:    feed,
		filter:  filter,
		store:   store,
		metrics: m,
		opts:    opts,
		now:     time.Now,
	}
}

// Query makes one live-or-fallback decision. Live and stored data are never
// mixed in one result.
func (s *Service) Query(ctx context.Context) Result {
	result := s.query(ctx)
	s.metrics.RecordQuery(string(result.Source))
	return result
}

func (s *Service) query(ctx context.Context) Result {
	if states, ok := s.feed.Fetch(ctx); ok {
		snap := s.filter.Apply(states)
		snap.RetrievedAt = s.now().UTC()

		if s.opts.PersistLive && len(snap.Vectors) > 0 {
			if _, err := s.store.Append(ctx, snap); err != nil {
				slog.Warn("Failed to persist live snapshot", "error", err)
			}
		}

		return Result{Source: SourceLive, Aircraft: snap.Records()}
	}

	records, err := s.store.Latest(ctx, s.opts.FallbackLimit)
	if err != nil {
		slog.Error("Fallback read failed", "limit", s.opts.FallbackLimit, "error", err)
		return Result{Source: SourceError, Aircraft: []models.AircraftRecord{}}
	}

	slog.Info("Serving stored aircraft", "count", len(records))
	return Result{Source: SourceFallback, Aircraft: records}
}
