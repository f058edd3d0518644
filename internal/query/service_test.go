package query

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"flight_fence/internal/database"
	"flight_fence/internal/geofilter"
	"flight_fence/internal/metrics"
	"flight_fence/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRegion = models.Region{MinLat: 6, MaxLat: 38, MinLon: 68, MaxLon: 97}

type stubFeed struct {
	states []json.RawMessage
	ok     bool
	calls  int
}

func (f *stubFeed) Fetch(ctx context.Context) ([]json.RawMessage, bool) {
	f.calls++
	return f.states, f.ok
}

type stubStore struct {
	records  []models.AircraftRecord
	err      error
	appended []models.Snapshot
	lastN    int
}

func (s *stubStore) Latest(ctx context.Context, n int) ([]models.AircraftRecord, error) {
	s.lastN = n
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func (s *stubStore) Append(ctx context.Context, snap models.Snapshot) (database.AppendResult, error) {
	s.appended = append(s.appended, snap)
	return database.AppendResult{Inserted: len(snap.Vectors)}, nil
}

func state(icao string, lon, lat float64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`[%q,"TEST    ","India",1690000000,1690000005,%g,%g,null,false,null,null,null,null,null,null,false,0]`,
		icao, lon, lat))
}

func newTestService(feed *stubFeed, store Store, opts Options) (*Service, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	return NewService(feed, geofilter.New(testRegion, 20), store, m, opts), m
}

func TestQuery_Live(t *testing.T) {
	feed := &stubFeed{ok: true, states: []json.RawMessage{
		state("ABC123", 77.5, 20),
		state("FAR001", 10, 10),
		state("ABC123", 78, 21),
	}}
	store := &stubStore{}
	svc, m := newTestService(feed, store, Options{})

	result := svc.Query(context.Background())

	assert.Equal(t, SourceLive, result.Source)
	require.Len(t, result.Aircraft, 1)
	assert.Equal(t, "ABC123", result.Aircraft[0].ICAO24)
	assert.False(t, result.Aircraft[0].RetrievedAt.IsZero())
	assert.Equal(t, 1, feed.calls)
	assert.Empty(t, store.appended, "live reads do not write by default")
	assert.Zero(t, store.lastN, "store not read when feed answered")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryResults.WithLabelValues("live")))
}

func TestQuery_LiveEmptyIsStillLive(t *testing.T) {
	feed := &stubFeed{ok: true, states: []json.RawMessage{}}
	store := &stubStore{records: []models.AircraftRecord{{StateVector: models.StateVector{ICAO24: "OLD001"}}}}
	svc, _ := newTestService(feed, store, Options{})

	result := svc.Query(context.Background())

	assert.Equal(t, SourceLive, result.Source)
	assert.NotNil(t, result.Aircraft)
	assert.Empty(t, result.Aircraft)
}

func TestQuery_Fallback(t *testing.T) {
	stored := []models.AircraftRecord{
		{StateVector: models.StateVector{ICAO24: "NEW001"}},
		{StateVector: models.StateVector{ICAO24: "OLD001"}},
	}
	feed := &stubFeed{ok: false}
	store := &stubStore{records: stored}
	svc, m := newTestService(feed, store, Options{FallbackLimit: 5})

	result := svc.Query(context.Background())

	assert.Equal(t, SourceFallback, result.Source)
	assert.Equal(t, stored, result.Aircraft)
	assert.Equal(t, 5, store.lastN)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryResults.WithLabelValues("fallback")))
}

func TestQuery_FallbackDefaultLimit(t *testing.T) {
	store := &stubStore{}
	svc, _ := newTestService(&stubFeed{}, store, Options{})

	svc.Query(context.Background())

	assert.Equal(t, DefaultFallbackLimit, store.lastN)
}

func TestQuery_FallbackReadFails(t *testing.T) {
	store := &stubStore{err: database.ErrStorageUnavailable}
	svc, m := newTestService(&stubFeed{}, store, Options{})

	result := svc.Query(context.Background())

	assert.Equal(t, SourceError, result.Source)
	assert.NotNil(t, result.Aircraft)
	assert.Empty(t, result.Aircraft)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryResults.WithLabelValues("error")))
}

func TestQuery_PersistLive(t *testing.T) {
	feed := &stubFeed{ok: true, states: []json.RawMessage{state("ABC123", 77.5, 20)}}
	store := &stubStore{}
	svc, _ := newTestService(feed, store, Options{PersistLive: true})

	result := svc.Query(context.Background())

	assert.Equal(t, SourceLive, result.Source)
	require.Len(t, store.appended, 1)
	assert.Equal(t, "ABC123", store.appended[0].Vectors[0].ICAO24)
}

func TestQuery_FallbackMatchesLastAppend(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "query.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	// Empty store: fallback with nothing in it
	svc, _ := newTestService(&stubFeed{}, db, Options{FallbackLimit: 20})
	result := svc.Query(ctx)
	assert.Equal(t, SourceFallback, result.Source)
	assert.Empty(t, result.Aircraft)

	lat, lon := 20.0, 77.5
	snap := models.Snapshot{
		RetrievedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Vectors: []models.StateVector{
			{ICAO24: "abc123", OriginCountry: "India", LastContact: 1690000005, Latitude: &lat, Longitude: &lon},
			{ICAO24: "def456", OriginCountry: "India", LastContact: 1690000006, Latitude: &lat, Longitude: &lon},
			{ICAO24: "0a1b2c", OriginCountry: "Nepal", LastContact: 1690000007, Latitude: &lat, Longitude: &lon},
		},
	}
	_, err = db.Append(ctx, snap)
	require.NoError(t, err)

	result = svc.Query(ctx)
	assert.Equal(t, SourceFallback, result.Source)
	assert.Equal(t, snap.Records(), result.Aircraft)
}
