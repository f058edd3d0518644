package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"flight_fence/internal/database"
	"flight_fence/internal/geofilter"
	"flight_fence/internal/metrics"
	"flight_fence/internal/opensky"

	"github.com/google/uuid"
)

// DefaultPollInterval is used when no positive interval is configured
const DefaultPollInterval = 60 * time.Second

// Collector fetches the feed, filters it to the region and appends the
// accepted aircraft to the store, once per scheduler tick
type Collector struct {
	feed     opensky.Fetcher
	filter   *geofilter.Filter
	store    database.RecordAppender
	metrics  *metrics.Metrics
	interval time.Duration
	now      func() time.Time
}

// NewCollector creates a collector task
func NewCollector(feed opensky.Fetcher, filter *geofilter.Filter, store database.RecordAppender, m *metrics.Metrics, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Collector{
		feed:     feed,
		filter:   filter,
		store:    store,
		metrics:  m,
		interval: interval,
		now:      time.Now,
	}
}

// Name implements scheduler.Task
func (c *Collector) Name() string {
	return "aircraft_collector"
}

// Interval implements scheduler.Task
func (c *Collector) Interval() time.Duration {
	return c.interval
}

// Run performs one fetch, filter, persist tick.
// Only a storage outage is returned as an error; every other outcome is a
// logged no-op and the next tick proceeds normally.
func (c *Collector) Run(ctx context.Context) error {
	start := c.now()
	log := slog.With("task", c.Name(), "tick_id", uuid.NewString())

	log.Debug("Fetching aircraft states")
	states, ok := c.feed.Fetch(ctx)
	if !ok {
		log.Warn("No feed data this tick", "stage", "fetch")
		c.metrics.RecordTick(metrics.TickNoData, time.Since(start))
		return nil
	}
	retrievedAt := c.now().UTC()

	snap := c.filter.Apply(states)
	snap.RetrievedAt = retrievedAt
	c.metrics.RecordSnapshotSize(len(snap.Vectors))

	if len(snap.Vectors) == 0 {
		log.Info("No aircraft in region", "stage", "filter", "states", len(states))
		c.metrics.RecordTick(metrics.TickEmpty, time.Since(start))
		return nil
	}

	result, err := c.store.Append(ctx, snap)
	if err != nil {
		c.metrics.RecordTick(metrics.TickFailed, time.Since(start))
		return fmt.Errorf("persist stage: %w", err)
	}
	c.metrics.RecordStored(result.Inserted, result.Failed, retrievedAt)
	c.metrics.RecordTick(metrics.TickPersisted, time.Since(start))

	log.Info("Saved aircraft snapshot",
		"states", len(states),
		"accepted", len(snap.Vectors),
		"inserted", result.Inserted,
		"failed", result.Failed,
		"duration", time.Since(start),
	)
	return nil
}
