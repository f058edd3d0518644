package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"flight_fence/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStorageUnavailable is returned when no storage handle could be acquired
// or a read could not complete. Per-record insert failures never produce it.
var ErrStorageUnavailable = errors.New("storage unavailable")

// AppendResult reports how many records of a snapshot were written
type AppendResult struct {
	Inserted int
	Failed   int
}

// RecordAppender persists snapshots
type RecordAppender interface {
	// Append persists each record of the snapshot independently
	Append(ctx context.Context, snap models.Snapshot) (AppendResult, error)
}

// RecordReader reads back persisted records
type RecordReader interface {
	// Latest returns up to n records, newest first
	Latest(ctx context.Context, n int) ([]models.AircraftRecord, error)
}

// Store is the append-only aircraft record log.
// Implementations acquire a dedicated handle per call and are safe for
// concurrent use.
type Store interface {
	RecordAppender
	RecordReader
	Ping(ctx context.Context) error
	Close() error
}

// DB implements Store using SQLite
type DB struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at dbPath
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{db: db}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// sqliteDSN applies the pragmas through the DSN so every pooled connection
// gets them, not only the first one
func sqliteDSN(dbPath string) string {
	params := url.Values{}
	// WAL lets the collector write while the read endpoint queries
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_cache_size", "-16000")
	// Escape the path so '?' or '#' in a file name can't end it early
	path := (&url.URL{Path: dbPath}).EscapedPath()
	return "file:" + path + "?" + params.Encode()
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks that a connection can be acquired
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// initSchema creates the database schema if it doesn't exist
func (d *DB) initSchema() error {
	recordsSchema := `CREATE TABLE IF NOT EXISTS aircraft_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		icao24 TEXT NOT NULL CHECK (length(icao24) > 0),
		callsign TEXT,
		origin_country TEXT NOT NULL,
		time_position INTEGER,
		last_contact INTEGER NOT NULL,
		longitude REAL CHECK (longitude IS NULL OR longitude BETWEEN -180 AND 180),
		latitude REAL CHECK (latitude IS NULL OR latitude BETWEEN -90 AND 90),
		baro_altitude REAL,
		on_ground BOOLEAN NOT NULL,
		velocity REAL,
		true_track REAL,
		vertical_rate REAL,
		geo_altitude REAL,
		squawk TEXT,
		spi BOOLEAN NOT NULL,
		position_source INTEGER NOT NULL,
		retrieved_at TIMESTAMP NOT NULL,
		UNIQUE(icao24, retrieved_at)
	);`

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_aircraft_records_retrieved_at ON aircraft_records(retrieved_at)`,
	}

	if _, err := d.db.Exec(recordsSchema); err != nil {
		return fmt.Errorf("failed to create aircraft_records table: %w", err)
	}

	for _, idx := range indexes {
		if _, err := d.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

const insertRecordSQL = `INSERT INTO aircraft_records (
	icao24, callsign, origin_country, time_position, last_contact,
	longitude, latitude, baro_altitude, on_ground, velocity, true_track,
	vertical_rate, geo_altitude, squawk, spi, position_source, retrieved_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// latestRecordsSQL picks the n newest rows, then lists each snapshot's
// rows in insertion order
const latestRecordsSQL = `SELECT
	icao24, callsign, origin_country, time_position, last_contact,
	longitude, latitude, baro_altitude, on_ground, velocity, true_track,
	vertical_rate, geo_altitude, squawk, spi, position_source, retrieved_at
FROM (
	SELECT * FROM aircraft_records
	ORDER BY retrieved_at DESC, id DESC
	LIMIT ?
)
ORDER BY retrieved_at DESC, id ASC`

// Append inserts every record of the snapshot independently; a rejected row
// is logged and counted in Failed
func (d *DB) Append(ctx context.Context, snap models.Snapshot) (AppendResult, error) {
	var result AppendResult
	if len(snap.Vectors) == 0 {
		return result, nil
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return result, fmt.Errorf("%w: failed to acquire connection: %w", ErrStorageUnavailable, err)
	}
	defer conn.Close()

	stmt, err := conn.PrepareContext(ctx, insertRecordSQL)
	if err != nil {
		return result, fmt.Errorf("%w: failed to prepare statement: %w", ErrStorageUnavailable, err)
	}
	defer stmt.Close()

	retrievedAt := snap.RetrievedAt.UTC()
	for _, sv := range snap.Vectors {
		if _, err := stmt.ExecContext(ctx,
			sv.ICAO24, sv.Callsign, sv.OriginCountry, sv.TimePosition, sv.LastContact,
			sv.Longitude, sv.Latitude, sv.BaroAltitude, sv.OnGround, sv.Velocity, sv.TrueTrack,
			sv.VerticalRate, sv.GeoAltitude, sv.Squawk, sv.SPI, sv.PositionSource, retrievedAt,
		); err != nil {
			result.Failed++
			slog.Error("Failed to insert aircraft record", "icao24", sv.ICAO24, "error", err)
			continue
		}
		result.Inserted++
	}

	return result, nil
}

// Latest returns the n most recent records, newest snapshot first and
// feed order within a snapshot
func (d *DB) Latest(ctx context.Context, n int) ([]models.AircraftRecord, error) {
	records := []models.AircraftRecord{}
	if n <= 0 {
		return records, nil
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to acquire connection: %w", ErrStorageUnavailable, err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, latestRecordsSQL, n)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query records: %w", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.AircraftRecord
		if err := rows.Scan(
			&r.ICAO24, &r.Callsign, &r.OriginCountry, &r.TimePosition, &r.LastContact,
			&r.Longitude, &r.Latitude, &r.BaroAltitude, &r.OnGround, &r.Velocity, &r.TrueTrack,
			&r.VerticalRate, &r.GeoAltitude, &r.Squawk, &r.SPI, &r.PositionSource, &r.RetrievedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan record: %w", ErrStorageUnavailable, err)
		}
		r.RetrievedAt = r.RetrievedAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read records: %w", ErrStorageUnavailable, err)
	}

	return records, nil
}
