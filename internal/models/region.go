package models

import "fmt"

// Region is an inclusive latitude/longitude bounding box
type Region struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether the point lies inside the box, edges included
func (r Region) Contains(lat, lon float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}

// Validate checks that the bounds are ordered and within WGS-84 ranges
func (r Region) Validate() error {
	if r.MinLat < -90 || r.MaxLat > 90 {
		return fmt.Errorf("latitude bounds must be within [-90, 90]")
	}
	if r.MinLon < -180 || r.MaxLon > 180 {
		return fmt.Errorf("longitude bounds must be within [-180, 180]")
	}
	if r.MinLat > r.MaxLat {
		return fmt.Errorf("min_lat %.4f is greater than max_lat %.4f", r.MinLat, r.MaxLat)
	}
	if r.MinLon > r.MaxLon {
		return fmt.Errorf("min_lon %.4f is greater than max_lon %.4f", r.MinLon, r.MaxLon)
	}
	return nil
}
