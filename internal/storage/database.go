// Package storage keeps a local SQLite log of committed readings, watering
// events and uplink attempts. The log is diagnostic: telemetry itself is
// most-recent-wins and never replayed from here.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	conn *sql.DB
}

// Open opens or creates the SQLite database
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the database schema
func (db *DB) migrate() error {
	schema := `
	-- Committed sensor snapshots
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		temperature REAL NOT NULL,
		humidity REAL NOT NULL,
		light_level INTEGER NOT NULL,
		rain_level INTEGER NOT NULL,
		air_quality_raw INTEGER NOT NULL,
		air_quality_ppm REAL NOT NULL,
		soil_moisture INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		time_synced INTEGER NOT NULL DEFAULT 0,
		valid INTEGER NOT NULL DEFAULT 0,
		uplinked INTEGER NOT NULL DEFAULT 0,
		stored_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_readings_stored ON readings(stored_at);
	CREATE INDEX IF NOT EXISTS idx_readings_uplinked ON readings(uplinked);

	-- Watering evaluations (including skips)
	CREATE TABLE IF NOT EXISTS irrigation_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mode TEXT NOT NULL,
		reason TEXT NOT NULL,
		start_soil INTEGER NOT NULL,
		end_soil INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_irrigation_started ON irrigation_events(started_at);

	-- Uplink attempt log
	CREATE TABLE IF NOT EXISTS uplink_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ok INTEGER NOT NULL,
		detail TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_uplink_timestamp ON uplink_log(timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// --- Reading Operations ---

// InsertReading inserts a committed snapshot and returns its row ID.
func (db *DB) InsertReading(r *ReadingRow) (int64, error) {
	query := `INSERT INTO readings
		(temperature, humidity, light_level, rain_level, air_quality_raw,
		 air_quality_ppm, soil_moisture, timestamp, time_synced, valid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := db.conn.Exec(query, r.Temperature, r.Humidity, r.LightLevel,
		r.RainLevel, r.AirQualityRaw, r.AirQualityPPM, r.SoilMoisture,
		r.Timestamp, r.TimeSynced, r.Valid)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetRecentReadings retrieves the newest readings first.
func (db *DB) GetRecentReadings(limit int) ([]*ReadingRow, error) {
	query := `SELECT id, temperature, humidity, light_level, rain_level,
		air_quality_raw, air_quality_ppm, soil_moisture, timestamp,
		time_synced, valid, uplinked, stored_at
		FROM readings ORDER BY id DESC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []*ReadingRow
	for rows.Next() {
		r := &ReadingRow{}
		if err := rows.Scan(&r.ID, &r.Temperature, &r.Humidity, &r.LightLevel,
			&r.RainLevel, &r.AirQualityRaw, &r.AirQualityPPM, &r.SoilMoisture,
			&r.Timestamp, &r.TimeSynced, &r.Valid, &r.Uplinked, &r.StoredAt); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// MarkReadingUplinked marks a reading as accepted by the ingestion service.
func (db *DB) MarkReadingUplinked(id int64) error {
	_, err := db.conn.Exec("UPDATE readings SET uplinked = 1 WHERE id = ?", id)
	return err
}

// --- Irrigation Operations ---

// InsertIrrigationEvent inserts a completed watering evaluation.
func (db *DB) InsertIrrigationEvent(e *IrrigationEventRow) (int64, error) {
	query := `INSERT INTO irrigation_events
		(mode, reason, start_soil, end_soil, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	result, err := db.conn.Exec(query, e.Mode, e.Reason, e.StartSoil,
		e.EndSoil, e.StartedAt, e.EndedAt)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetRecentIrrigationEvents retrieves the newest events first.
func (db *DB) GetRecentIrrigationEvents(limit int) ([]*IrrigationEventRow, error) {
	query := `SELECT id, mode, reason, start_soil, end_soil, started_at, ended_at
		FROM irrigation_events ORDER BY id DESC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*IrrigationEventRow
	for rows.Next() {
		e := &IrrigationEventRow{}
		if err := rows.Scan(&e.ID, &e.Mode, &e.Reason, &e.StartSoil,
			&e.EndSoil, &e.StartedAt, &e.EndedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Uplink Log Operations ---

// RecordUplink logs one transmission attempt.
func (db *DB) RecordUplink(ok bool, detail string) error {
	_, err := db.conn.Exec("INSERT INTO uplink_log (ok, detail) VALUES (?, ?)", ok, detail)
	return err
}

// GetUplinkLog retrieves the newest attempts first.
func (db *DB) GetUplinkLog(limit int) ([]*UplinkRow, error) {
	query := `SELECT id, ok, detail, timestamp FROM uplink_log ORDER BY id DESC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []*UplinkRow
	for rows.Next() {
		u := &UplinkRow{}
		var detail sql.NullString
		if err := rows.Scan(&u.ID, &u.OK, &detail, &u.Timestamp); err != nil {
			return nil, err
		}
		u.Detail = detail.String
		attempts = append(attempts, u)
	}
	return attempts, rows.Err()
}

// --- Maintenance ---

// GetStats summarizes the local store.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM readings").Scan(&s.Readings); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM readings WHERE uplinked = 1").Scan(&s.UplinkedReadings); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM irrigation_events").Scan(&s.IrrigationEvents); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM uplink_log").Scan(&s.UplinkAttempts); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM uplink_log WHERE ok = 0").Scan(&s.UplinkFailures); err != nil {
		return nil, err
	}
	return s, nil
}

// Prune drops log rows stored before the cutoff. The local store is a
// bounded diagnostic window, not an archive.
func (db *DB) Prune(before time.Time) error {
	if _, err := db.conn.Exec("DELETE FROM readings WHERE stored_at < ?", before); err != nil {
		return err
	}
	if _, err := db.conn.Exec("DELETE FROM irrigation_events WHERE ended_at < ?", before); err != nil {
		return err
	}
	_, err := db.conn.Exec("DELETE FROM uplink_log WHERE timestamp < ?", before)
	return err
}
