package geofilter

import (
	"encoding/json"
	"log/slog"

	"flight_fence/internal/models"
)

// DefaultCap is the snapshot size used when no positive cap is configured
const DefaultCap = 20

// Filter restricts raw feed states to a region and removes duplicate aircraft.
// It holds only immutable settings and is safe for concurrent use.
type Filter struct {
	region  models.Region
	maxSize int
}

// New creates a filter for the given region and snapshot cap
func New(region models.Region, snapshotCap int) *Filter {
	if snapshotCap <= 0 {
		snapshotCap = DefaultCap
	}
	return &Filter{region: region, maxSize: snapshotCap}
}

// Region returns the bounding box used by the filter
func (f *Filter) Region() models.Region {
	return f.region
}

// Cap returns the maximum snapshot size
func (f *Filter) Cap() int {
	return f.maxSize
}

// Apply walks the states in feed order and keeps the first occurrence of each
// aircraft that has a position inside the region, stopping at the cap.
// Malformed states are skipped. The returned snapshot has no RetrievedAt set.
func (f *Filter) Apply(states []json.RawMessage) models.Snapshot {
	snap := models.Snapshot{Vectors: make([]models.StateVector, 0, min(len(states), f.maxSize))}
	seen := make(map[string]struct{}, f.maxSize)

	for i, raw := range states {
		if len(snap.Vectors) >= f.maxSize {
			break
		}

		sv, err := models.ParseStateVector(raw)
		if err != nil {
			slog.Debug("Rejected malformed state", "index", i, "error", err)
			continue
		}

		// Absent is not the same as 0.0
		if !sv.HasPosition() {
			continue
		}
		if !f.region.Contains(*sv.Latitude, *sv.Longitude) {
			continue
		}
		if _, dup := seen[sv.ICAO24]; dup {
			continue
		}

		seen[sv.ICAO24] = struct{}{}
		snap.Vectors = append(snap.Vectors, *sv)
	}

	return snap
}
