package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"flight_fence/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// recordRow is the Postgres row layout of an AircraftRecord
type recordRow struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	ICAO24         string    `gorm:"column:icao24;not null;uniqueIndex:idx_aircraft_records_icao_time,priority:1;check:chk_icao24_not_empty,icao24 <> ''"`
	Callsign       *string   `gorm:"column:callsign"`
	OriginCountry  string    `gorm:"column:origin_country;not null"`
	TimePosition   *int64    `gorm:"column:time_position"`
	LastContact    int64     `gorm:"column:last_contact;not null"`
	Longitude      *float64  `gorm:"column:longitude;check:chk_longitude_range,longitude IS NULL OR longitude BETWEEN -180 AND 180"`
	Latitude       *float64  `gorm:"column:latitude;check:chk_latitude_range,latitude IS NULL OR latitude BETWEEN -90 AND 90"`
	BaroAltitude   *float64  `gorm:"column:baro_altitude"`
	OnGround       bool      `gorm:"column:on_ground;not null"`
	Velocity       *float64  `gorm:"column:velocity"`
	TrueTrack      *float64  `gorm:"column:true_track"`
	VerticalRate   *float64  `gorm:"column:vertical_rate"`
	GeoAltitude    *float64  `gorm:"column:geo_altitude"`
	Squawk         *string   `gorm:"column:squawk"`
	SPI            bool      `gorm:"column:spi;not null"`
	PositionSource int       `gorm:"column:position_source;not null"`
	RetrievedAt    time.Time `gorm:"column:retrieved_at;type:timestamptz;not null;index;uniqueIndex:idx_aircraft_records_icao_time,priority:2"`
}

func (recordRow) TableName() string {
	return "aircraft_records"
}

func newRecordRow(sv models.StateVector, retrievedAt time.Time) recordRow {
	return recordRow{
		ICAO24:         sv.ICAO24,
		Callsign:       sv.Callsign,
		OriginCountry:  sv.OriginCountry,
		TimePosition:   sv.TimePosition,
		LastContact:    sv.LastContact,
		Longitude:      sv.Longitude,
		Latitude:       sv.Latitude,
		BaroAltitude:   sv.BaroAltitude,
		OnGround:       sv.OnGround,
		Velocity:       sv.Velocity,
		TrueTrack:      sv.TrueTrack,
		VerticalRate:   sv.VerticalRate,
		GeoAltitude:    sv.GeoAltitude,
		Squawk:         sv.Squawk,
		SPI:            sv.SPI,
		PositionSource: sv.PositionSource,
		RetrievedAt:    retrievedAt,
	}
}

func (r recordRow) record() models.AircraftRecord {
	return models.AircraftRecord{
		StateVector: models.StateVector{
			ICAO24:         r.ICAO24,
			Callsign:       r.Callsign,
			OriginCountry:  r.OriginCountry,
			TimePosition:   r.TimePosition,
			LastContact:    r.LastContact,
			Longitude:      r.Longitude,
			Latitude:       r.Latitude,
			BaroAltitude:   r.BaroAltitude,
			OnGround:       r.OnGround,
			Velocity:       r.Velocity,
			TrueTrack:      r.TrueTrack,
			VerticalRate:   r.VerticalRate,
			GeoAltitude:    r.GeoAltitude,
			Squawk:         r.Squawk,
			SPI:            r.SPI,
			PositionSource: r.PositionSource,
		},
		RetrievedAt: r.RetrievedAt.UTC(),
	}
}

// PostgresDB implements Store on Postgres through gorm
type PostgresDB struct {
	db *gorm.DB
}

// ConnectPostgres opens a Postgres connection, retrying while the server
// comes up, and ensures the aircraft_records table exists
func ConnectPostgres(dsn string, attempts int, delay time.Duration) (*PostgresDB, error) {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err == nil {
			if err := db.AutoMigrate(&recordRow{}); err != nil {
				return nil, fmt.Errorf("failed to migrate aircraft_records: %w", err)
			}
			return &PostgresDB{db: db}, nil
		}

		lastErr = err
		slog.Warn("Postgres not reachable, retrying", "attempt", i, "max_attempts", attempts, "error", err)
		if i < attempts {
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("db connect failed after %d attempts: %w", attempts, lastErr)
}

// Close closes the underlying connection pool
func (p *PostgresDB) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that a connection can be acquired
func (p *PostgresDB) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Append inserts each record in its own statement on a dedicated connection
func (p *PostgresDB) Append(ctx context.Context, snap models.Snapshot) (AppendResult, error) {
	var result AppendResult
	if len(snap.Vectors) == 0 {
		return result, nil
	}

	retrievedAt := snap.RetrievedAt.UTC()
	err := p.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		s := conn.Session(&gorm.Session{})
		for _, sv := range snap.Vectors {
			row := newRecordRow(sv, retrievedAt)
			if err := s.Create(&row).Error; err != nil {
				result.Failed++
				slog.Error("Failed to insert aircraft record", "icao24", sv.ICAO24, "error", err)
				continue
			}
			result.Inserted++
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("%w: failed to acquire connection: %w", ErrStorageUnavailable, err)
	}

	return result, nil
}

// Latest returns the n most recent records, newest snapshot first and
// feed order within a snapshot
func (p *PostgresDB) Latest(ctx context.Context, n int) ([]models.AircraftRecord, error) {
	records := []models.AircraftRecord{}
	if n <= 0 {
		return records, nil
	}

	var rows []recordRow
	err := p.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		s := conn.Session(&gorm.Session{})
		newest := s.Model(&recordRow{}).Order("retrieved_at DESC").Order("id DESC").Limit(n)
		return s.Table("(?) AS latest", newest).Order("retrieved_at DESC").Order("id ASC").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query records: %w", ErrStorageUnavailable, err)
	}

	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}
