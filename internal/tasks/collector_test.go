package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flight_fence/internal/database"
	"flight_fence/internal/geofilter"
	"flight_fence/internal/metrics"
	"flight_fence/internal/models"
	"flight_fence/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRegion = models.Region{MinLat: 6, MaxLat: 38, MinLon: 68, MaxLon: 97}

// mockFeed replays canned responses; nil means absence
type mockFeed struct {
	mu        sync.Mutex
	responses [][]json.RawMessage
	calls     int
}

func (m *mockFeed) Fetch(ctx context.Context) ([]json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.responses) == 0 {
		return nil, false
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	if resp == nil {
		return nil, false
	}
	return resp, true
}

// mockRepository records appended snapshots
type mockRepository struct {
	mu        sync.Mutex
	snapshots []models.Snapshot
	errors    []error
}

func (m *mockRepository) Append(ctx context.Context, snap models.Snapshot) (database.AppendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.errors) > 0 {
		err := m.errors[0]
		m.errors = m.errors[1:]
		if err != nil {
			return database.AppendResult{}, err
		}
	}
	m.snapshots = append(m.snapshots, snap)
	return database.AppendResult{Inserted: len(snap.Vectors)}, nil
}

func (m *mockRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

func state(icao string, lon, lat float64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`[%q,"TEST    ","India",1690000000,1690000005,%g,%g,null,false,null,null,null,null,null,null,false,0]`,
		icao, lon, lat))
}

func newTestCollector(feed *mockFeed, repo *mockRepository) (*Collector, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	return NewCollector(feed, geofilter.New(testRegion, 20), repo, m, 10*time.Millisecond), m
}

func tickCount(m *metrics.Metrics, outcome string) float64 {
	return testutil.ToFloat64(m.CollectorTicks.WithLabelValues(outcome))
}

func TestNewCollector(t *testing.T) {
	c := NewCollector(&mockFeed{}, geofilter.New(testRegion, 20), &mockRepository{}, metrics.New(prometheus.NewRegistry()), 0)

	require.NotNil(t, c)
	assert.Equal(t, DefaultPollInterval, c.Interval())
	assert.Equal(t, "aircraft_collector", c.Name())
}

func TestCollector_PersistsFilteredSnapshot(t *testing.T) {
	feed := &mockFeed{responses: [][]json.RawMessage{{
		state("ABC123", 77.5, 20.0),
		state("FAR001", 10, 10),
		state("ABC123", 78, 21),
		state("DEF456", 80, 30),
	}}}
	repo := &mockRepository{}
	c, m := newTestCollector(feed, repo)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("IST", 19800))
	c.now = func() time.Time { return fixed }

	err := c.Run(context.Background())

	require.NoError(t, err)
	require.Equal(t, 1, repo.count())
	snap := repo.snapshots[0]
	require.Len(t, snap.Vectors, 2)
	assert.Equal(t, "ABC123", snap.Vectors[0].ICAO24)
	assert.Equal(t, "DEF456", snap.Vectors[1].ICAO24)
	assert.True(t, fixed.Equal(snap.RetrievedAt))
	assert.Equal(t, time.UTC, snap.RetrievedAt.Location())
	assert.Equal(t, 1.0, tickCount(m, metrics.TickPersisted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsStored.WithLabelValues("inserted")))
}

func TestCollector_FeedAbsenceIsNoop(t *testing.T) {
	feed := &mockFeed{responses: [][]json.RawMessage{nil}}
	repo := &mockRepository{}
	c, m := newTestCollector(feed, repo)

	err := c.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, repo.count())
	assert.Equal(t, 1.0, tickCount(m, metrics.TickNoData))
}

func TestCollector_NothingInRegionSkipsWrite(t *testing.T) {
	feed := &mockFeed{responses: [][]json.RawMessage{{state("FAR001", 10, 10)}}}
	repo := &mockRepository{}
	c, m := newTestCollector(feed, repo)

	err := c.Run(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 0, repo.count())
	assert.Equal(t, 1.0, tickCount(m, metrics.TickEmpty))
}

func TestCollector_StoreUnavailable(t *testing.T) {
	feed := &mockFeed{responses: [][]json.RawMessage{{state("ABC123", 77.5, 20.0)}}}
	repo := &mockRepository{errors: []error{fmt.Errorf("%w: connection refused", database.ErrStorageUnavailable)}}
	c, m := newTestCollector(feed, repo)

	err := c.Run(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrStorageUnavailable))
	assert.Contains(t, err.Error(), "persist stage")
	assert.Equal(t, 1.0, tickCount(m, metrics.TickFailed))
}

func TestCollector_SurvivesFailuresUnderScheduler(t *testing.T) {
	feed := &mockFeed{responses: [][]json.RawMessage{
		nil,
		{state("ABC123", 77.5, 20.0)},
		{state("DEF456", 77.5, 20.0)},
		{state("GHI789", 77.5, 20.0)},
	}}
	repo := &mockRepository{errors: []error{database.ErrStorageUnavailable}}
	c, _ := newTestCollector(feed, repo)

	s := scheduler.New(context.Background())
	s.AddTask(c)
	s.Start()
	defer s.Stop()

	// tick 1: absence, tick 2: store down, ticks 3 and 4: persisted
	require.Eventually(t, func() bool { return repo.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "DEF456", repo.snapshots[0].Vectors[0].ICAO24)
	assert.Equal(t, "GHI789", repo.snapshots[1].Vectors[0].ICAO24)
}

func TestCollector_WithSQLiteStore(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "collector.db"))
	require.NoError(t, err)
	defer db.Close()

	feed := &mockFeed{responses: [][]json.RawMessage{{
		state("AAA001", 70, 10),
		state("BBB002", 71, 11),
	}}}
	m := metrics.New(prometheus.NewRegistry())
	c := NewCollector(feed, geofilter.New(testRegion, 20), db, m, time.Minute)

	require.NoError(t, c.Run(context.Background()))

	records, err := db.Latest(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "BBB002", records[0].ICAO24)
}
