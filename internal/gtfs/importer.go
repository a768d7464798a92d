package gtfs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"nexttrain/internal/storage"
)

// Importer loads the parsed stop and route directory into SQLite.
type Importer struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(db *storage.DB, logger *slog.Logger) *Importer {
	return &Importer{db: db, logger: logger}
}

// Import replaces the directory with feed in a single transaction.
func (imp *Importer) Import(ctx context.Context, feed *Feed) error {
	start := time.Now()

	tx, err := imp.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range []string{"stops_rtree", "stops", "routes", "agency", "feed_metadata"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}

	if err := imp.importAgencies(ctx, tx, feed.Agencies); err != nil {
		return err
	}
	if err := imp.importRoutes(ctx, tx, feed.Routes); err != nil {
		return err
	}
	if err := imp.importStops(ctx, tx, feed.Stops); err != nil {
		return err
	}
	if err := imp.db.RebuildRTree(ctx, tx); err != nil {
		return fmt.Errorf("rebuild rtree: %w", err)
	}

	meta := map[string]string{
		"imported_at":   time.Now().UTC().Format(time.RFC3339),
		"last_modified": feed.LastModified,
		"etag":          feed.ETag,
	}
	for k, v := range meta {
		if v == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO feed_metadata (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	imp.logger.Info("GTFS import complete",
		"duration", time.Since(start).Round(time.Millisecond),
		"routes", len(feed.Routes),
		"stops", len(feed.Stops),
	)
	return nil
}

func (imp *Importer) importAgencies(ctx context.Context, tx *sql.Tx, agencies []Agency) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO agency (agency_id, agency_name, agency_url, agency_timezone) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare agency: %w", err)
	}
	defer stmt.Close()

	for _, a := range agencies {
		if _, err := stmt.ExecContext(ctx, a.AgencyID, a.AgencyName, a.AgencyURL, a.AgencyTimezone); err != nil {
			return fmt.Errorf("insert agency %s: %w", a.AgencyID, err)
		}
	}
	return nil
}

func (imp *Importer) importRoutes(ctx context.Context, tx *sql.Tx, routes []Route) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO routes (route_id, agency_id, route_short_name, route_long_name, route_type, route_color)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare routes: %w", err)
	}
	defer stmt.Close()

	for _, r := range routes {
		if _, err := stmt.ExecContext(ctx, r.RouteID, r.AgencyID, r.RouteShortName,
			r.RouteLongName, intOr(r.RouteType, 2), r.RouteColor); err != nil {
			return fmt.Errorf("insert route %s: %w", r.RouteID, err)
		}
	}
	return nil
}

// importStops skips rows without a usable id or coordinates.
func (imp *Importer) importStops(ctx context.Context, tx *sql.Tx, stops []Stop) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO stops (stop_id, stop_code, stop_name, stop_lat, stop_lon, location_type, parent_station)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare stops: %w", err)
	}
	defer stmt.Close()

	skipped := 0
	for _, s := range stops {
		lat, latErr := strconv.ParseFloat(s.StopLat, 64)
		lon, lonErr := strconv.ParseFloat(s.StopLon, 64)
		if s.StopID == "" || latErr != nil || lonErr != nil {
			skipped++
			continue
		}
		if _, err := stmt.ExecContext(ctx, s.StopID, s.StopCode, s.StopName,
			lat, lon, intOr(s.LocationType, 0), s.ParentStation); err != nil {
			return fmt.Errorf("insert stop %s: %w", s.StopID, err)
		}
	}
	if skipped > 0 {
		imp.logger.Warn("skipped stops without coordinates", "count", skipped)
	}
	return nil
}

func intOr(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return fallback
}
