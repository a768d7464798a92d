package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"nexttrain/internal/geo"
)

// GetMetadata retrieves a value from the feed_metadata table.
func (db *DB) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM feed_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetMetadata stores a key-value pair in the feed_metadata table.
func (db *DB) SetMetadata(ctx context.Context, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO feed_metadata (key, value) VALUES (?, ?)`,
		key, value)
	return err
}

// StopRow is a stop from the static directory.
type StopRow struct {
	StopID         string  `json:"stop_id"`
	StopCode       string  `json:"stop_code,omitempty"`
	StopName       string  `json:"stop_name"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	DistanceMeters float64 `json:"distance_meters,omitempty"` // set by NearbyStops
}

const stopColumns = `stop_id, COALESCE(stop_code, ''), stop_name, stop_lat, stop_lon`

func scanStops(rows *sql.Rows) ([]StopRow, error) {
	defer rows.Close()
	var stops []StopRow
	for rows.Next() {
		var s StopRow
		if err := rows.Scan(&s.StopID, &s.StopCode, &s.StopName, &s.Lat, &s.Lon); err != nil {
			return nil, fmt.Errorf("scan stop: %w", err)
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

// Stop looks up a stop by id. It returns nil without error when the stop is unknown.
func (db *DB) Stop(ctx context.Context, stopID string) (*StopRow, error) {
	var s StopRow
	err := db.QueryRowContext(ctx,
		`SELECT `+stopColumns+` FROM stops WHERE stop_id = ?`, stopID).
		Scan(&s.StopID, &s.StopCode, &s.StopName, &s.Lat, &s.Lon)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stop query: %w", err)
	}
	return &s, nil
}

// SearchStops finds boardable stops whose name contains query, case-insensitively.
// Exact name matches sort first, then names starting with the query.
func (db *DB) SearchStops(ctx context.Context, query string, limit int) ([]StopRow, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT `+stopColumns+`
		FROM stops
		WHERE LOWER(stop_name) LIKE '%' || ? || '%'
		  AND location_type IN (0, 1)
		ORDER BY
		  CASE
		    WHEN LOWER(stop_name) = ? THEN 0
		    WHEN LOWER(stop_name) LIKE ? || '%' THEN 1
		    ELSE 2
		  END,
		  stop_name
		LIMIT ?`, q, q, q, limit)
	if err != nil {
		return nil, fmt.Errorf("search stops: %w", err)
	}
	return scanStops(rows)
}

// NearbyStops returns stops within radiusMeters of (lat, lon), nearest first.
// Candidates come from the R-Tree bounding box and are refined with Haversine.
func (db *DB) NearbyStops(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]StopRow, error) {
	latDeg, lonDeg := geo.BoundingBoxRadius(lat, radiusMeters)
	rows, err := db.QueryContext(ctx, `
		SELECT s.stop_id, COALESCE(s.stop_code, ''), s.stop_name, s.stop_lat, s.stop_lon
		FROM stops_rtree AS r
		JOIN stops AS s ON s.rowid = r.id
		WHERE r.min_lat >= ? AND r.max_lat <= ?
		  AND r.min_lon >= ? AND r.max_lon <= ?`,
		lat-latDeg, lat+latDeg,
		lon-lonDeg, lon+lonDeg,
	)
	if err != nil {
		return nil, fmt.Errorf("nearby stops query: %w", err)
	}
	candidates, err := scanStops(rows)
	if err != nil {
		return nil, err
	}

	var stops []StopRow
	for _, s := range candidates {
		s.DistanceMeters = geo.Haversine(lat, lon, s.Lat, s.Lon)
		if s.DistanceMeters <= radiusMeters {
			stops = append(stops, s)
		}
	}
	sort.Slice(stops, func(i, j int) bool {
		return stops[i].DistanceMeters < stops[j].DistanceMeters
	})
	if limit > 0 && len(stops) > limit {
		stops = stops[:limit]
	}
	return stops, nil
}

// RouteNames maps route_id to its long name, falling back to the short name.
// A nil DB has no names.
func (db *DB) RouteNames(ctx context.Context) (map[string]string, error) {
	if db == nil {
		return nil, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT route_id, COALESCE(NULLIF(route_long_name, ''), route_short_name, '')
		FROM routes`)
	if err != nil {
		return nil, fmt.Errorf("route names query: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		if name != "" {
			names[id] = name
		}
	}
	return names, rows.Err()
}

// HasData returns true if a stop directory has been imported.
func (db *DB) HasData(ctx context.Context) bool {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stops`).Scan(&count)
	return err == nil && count > 0
}

// RebuildRTree repopulates the R-Tree index from the stops table.
func (db *DB) RebuildRTree(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM stops_rtree`); err != nil {
		return fmt.Errorf("clear rtree: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stops_rtree(id, min_lat, max_lat, min_lon, max_lon)
		 SELECT rowid, stop_lat, stop_lat, stop_lon, stop_lon FROM stops`); err != nil {
		return fmt.Errorf("populate rtree: %w", err)
	}
	return nil
}

// StopName returns the stored name of stopID, or fallback when it is unknown
// or db is nil.
func (db *DB) StopName(ctx context.Context, stopID, fallback string) string {
	if db == nil {
		return fallback
	}
	s, err := db.Stop(ctx, stopID)
	if err != nil {
		db.logger.Warn("stop name lookup failed", "stop", stopID, "error", err)
		return fallback
	}
	if s == nil || s.StopName == "" {
		return fallback
	}
	return s.StopName
}
