package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"flight_fence/internal/api"
	"flight_fence/internal/config"
	"flight_fence/internal/database"
	"flight_fence/internal/geofilter"
	"flight_fence/internal/metrics"
	"flight_fence/internal/opensky"
	"flight_fence/internal/query"
	"flight_fence/internal/scheduler"
	"flight_fence/internal/tasks"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Daemon owns the collector loop and the read endpoint
type Daemon struct {
	store     database.Store
	collector *tasks.Collector
	server    *http.Server
}

// New wires every component from configuration. The store is opened here and
// closed by Close.
func New(cfg *config.Config) (*Daemon, error) {
	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	reg, m := metrics.NewRegistry()

	d, err := newWithStore(cfg, store, reg, m)
	if err != nil {
		store.Close()
		return nil, err
	}
	return d, nil
}

func newWithStore(cfg *config.Config, store database.Store, reg *prometheus.Registry, m *metrics.Metrics) (*Daemon, error) {
	feedOpts := opensky.Options{
		URL:                  cfg.Feed.URL,
		Timeout:              cfg.Feed.Timeout,
		MaxRequestsPerMinute: cfg.Feed.MaxRequestsPerMinute,
	}
	if cfg.Feed.ServerSideBBox {
		region := cfg.Region
		feedOpts.BBox = &region
	}
	// Separate clients give the collector and the read path separate
	// request budgets
	collectorFeed, err := opensky.NewClient(feedOpts, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed client: %w", err)
	}
	readFeed, err := opensky.NewClient(feedOpts, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed client: %w", err)
	}

	filter := geofilter.New(cfg.Region, cfg.SnapshotCap)
	collector := tasks.NewCollector(collectorFeed, filter, store, m, cfg.PollInterval)
	svc := query.NewService(readFeed, filter, store, m, query.Options{
		FallbackLimit: cfg.FallbackLimit,
		PersistLive:   cfg.PersistLive,
	})

	handler := api.NewHandler(svc, store)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Router(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Daemon{
		store:     store,
		collector: collector,
		server:    server,
	}, nil
}

func openStore(cfg config.StorageConfig) (database.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return database.ConnectPostgres(cfg.PostgresDSN, cfg.ConnectRetries, cfg.ConnectDelay)
	default:
		return database.New(cfg.SQLitePath)
	}
}

// Run starts the collector and the HTTP server and blocks until ctx is
// cancelled or the server fails
func (d *Daemon) Run(ctx context.Context) error {
	slog.Info("Starting daemon", "addr", d.server.Addr, "poll_interval", d.collector.Interval())

	g, gctx := errgroup.WithContext(ctx)

	sched := scheduler.New(gctx)
	sched.AddTask(d.collector)

	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	g.Go(func() error {
		slog.Info("Read endpoint listening", "addr", d.server.Addr)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	slog.Info("Daemon stopped")
	return err
}

// Close releases the store
func (d *Daemon) Close() error {
	if err := d.store.Close(); err != nil {
		return fmt.Errorf("error closing database: %w", err)
	}
	return nil
}
