package storage

import "fmt"

func (db *DB) migrate() error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS agency (
		agency_id       TEXT PRIMARY KEY,
		agency_name     TEXT NOT NULL,
		agency_url      TEXT NOT NULL DEFAULT '',
		agency_timezone TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS routes (
		route_id         TEXT PRIMARY KEY,
		agency_id        TEXT,
		route_short_name TEXT,
		route_long_name  TEXT,
		route_type       INTEGER NOT NULL DEFAULT 2,
		route_color      TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS stops (
		stop_id        TEXT PRIMARY KEY,
		stop_code      TEXT,
		stop_name      TEXT NOT NULL,
		stop_lat       REAL NOT NULL,
		stop_lon       REAL NOT NULL,
		location_type  INTEGER DEFAULT 0,
		parent_station TEXT
	)`,

	// R-Tree over stop coordinates for nearest-stop lookups
	`CREATE VIRTUAL TABLE IF NOT EXISTS stops_rtree USING rtree(
		id,
		min_lat, max_lat,
		min_lon, max_lon
	)`,

	// last_modified, etag, imported_at
	`CREATE TABLE IF NOT EXISTS feed_metadata (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_stops_name ON stops(stop_name COLLATE NOCASE)`,
}
