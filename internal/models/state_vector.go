package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Positions of fields inside an OpenSky state array
const (
	idxICAO24         = 0
	idxCallsign       = 1
	idxOriginCountry  = 2
	idxTimePosition   = 3
	idxLastContact    = 4
	idxLongitude      = 5
	idxLatitude       = 6
	idxBaroAltitude   = 7
	idxOnGround       = 8
	idxVelocity       = 9
	idxTrueTrack      = 10
	idxVerticalRate   = 11
	idxGeoAltitude    = 13
	idxSquawk         = 14
	idxSPI            = 15
	idxPositionSource = 16

	// StateFieldCount is the minimum number of slots in a well-formed state array
	StateFieldCount = 17
)

// StateVector represents one aircraft's telemetry as published by the feed.
// Nil pointers mean the feed sent null for that slot.
type StateVector struct {
	ICAO24         string   `json:"icao24"`          // 24-bit transponder address, hex
	Callsign       *string  `json:"callsign"`        // Trimmed callsign
	OriginCountry  string   `json:"origin_country"`  // Country inferred from the ICAO address
	TimePosition   *int64   `json:"time_position"`   // Unix seconds of last position update
	LastContact    int64    `json:"last_contact"`    // Unix seconds of last message
	Longitude      *float64 `json:"longitude"`       // WGS-84 degrees
	Latitude       *float64 `json:"latitude"`        // WGS-84 degrees
	BaroAltitude   *float64 `json:"baro_altitude"`   // Meters
	OnGround       bool     `json:"on_ground"`       // Surface position report
	Velocity       *float64 `json:"velocity"`        // Ground speed, m/s
	TrueTrack      *float64 `json:"true_track"`      // Degrees clockwise from north
	VerticalRate   *float64 `json:"vertical_rate"`   // m/s, positive is climbing
	GeoAltitude    *float64 `json:"geo_altitude"`    // Meters
	Squawk         *string  `json:"squawk"`          // Transponder code
	SPI            bool     `json:"spi"`             // Special purpose indicator
	PositionSource int      `json:"position_source"` // 0=ADS-B 1=ASTERIX 2=MLAT 3=FLARM
}

// HasPosition reports whether both coordinates were present in the feed
func (s *StateVector) HasPosition() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// AircraftRecord is the persisted form of a StateVector
type AircraftRecord struct {
	StateVector
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Snapshot is the filtered result of one feed pass
type Snapshot struct {
	RetrievedAt time.Time
	Vectors     []StateVector
}

// Records stamps every vector in the snapshot with the snapshot's retrieval time
func (s Snapshot) Records() []AircraftRecord {
	records := make([]AircraftRecord, 0, len(s.Vectors))
	for _, v := range s.Vectors {
		records = append(records, AircraftRecord{StateVector: v, RetrievedAt: s.RetrievedAt})
	}
	return records
}

// ParseStateVector decodes a single state array.
// Format: [icao24, callsign, origin_country, time_position, last_contact,
// longitude, latitude, baro_altitude, on_ground, velocity, true_track,
// vertical_rate, sensors, geo_altitude, squawk, spi, position_source, ...]
func ParseStateVector(raw json.RawMessage) (*StateVector, error) {
	var slots []json.RawMessage
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, fmt.Errorf("state is not an array: %w", err)
	}
	if len(slots) < StateFieldCount {
		return nil, fmt.Errorf("state too short: %d fields", len(slots))
	}

	sv := &StateVector{}
	p := slotParser{slots: slots}

	p.required(idxICAO24, &sv.ICAO24)
	p.optional(idxCallsign, &sv.Callsign)
	p.required(idxOriginCountry, &sv.OriginCountry)
	p.optional(idxTimePosition, &sv.TimePosition)
	p.required(idxLastContact, &sv.LastContact)
	p.optional(idxLongitude, &sv.Longitude)
	p.optional(idxLatitude, &sv.Latitude)
	p.optional(idxBaroAltitude, &sv.BaroAltitude)
	p.required(idxOnGround, &sv.OnGround)
	p.optional(idxVelocity, &sv.Velocity)
	p.optional(idxTrueTrack, &sv.TrueTrack)
	p.optional(idxVerticalRate, &sv.VerticalRate)
	p.optional(idxGeoAltitude, &sv.GeoAltitude)
	p.optional(idxSquawk, &sv.Squawk)
	p.required(idxSPI, &sv.SPI)
	p.required(idxPositionSource, &sv.PositionSource)

	if p.err != nil {
		return nil, p.err
	}

	sv.ICAO24 = strings.TrimSpace(sv.ICAO24)
	if sv.ICAO24 == "" {
		return nil, fmt.Errorf("state has empty icao24")
	}

	// Callsigns are space padded to 8 characters
	if sv.Callsign != nil {
		trimmed := strings.TrimSpace(*sv.Callsign)
		if trimmed == "" {
			sv.Callsign = nil
		} else {
			sv.Callsign = &trimmed
		}
	}

	return sv, nil
}

// slotParser decodes positional slots and keeps the first error
type slotParser struct {
	slots []json.RawMessage
	err   error
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func (p *slotParser) required(idx int, dst any) {
	if p.err != nil {
		return
	}
	if isNull(p.slots[idx]) {
		p.err = fmt.Errorf("state field %d is null", idx)
		return
	}
	if err := json.Unmarshal(p.slots[idx], dst); err != nil {
		p.err = fmt.Errorf("state field %d: %w", idx, err)
	}
}

// optional leaves dst nil when the slot is null
func (p *slotParser) optional(idx int, dst any) {
	if p.err != nil || isNull(p.slots[idx]) {
		return
	}
	if err := json.Unmarshal(p.slots[idx], dst); err != nil {
		p.err = fmt.Errorf("state field %d: %w", idx, err)
	}
}
