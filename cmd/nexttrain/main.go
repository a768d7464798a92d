package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nexttrain/internal/arrivals"
	"nexttrain/internal/config"
	"nexttrain/internal/feed"
	"nexttrain/internal/geo"
	"nexttrain/internal/gtfs"
	"nexttrain/internal/metrics"
	"nexttrain/internal/publisher"
	"nexttrain/internal/realtime"
	"nexttrain/internal/server"
	"nexttrain/internal/storage"
)

const nearRadiusMeters = 5000

func main() {
	configPath := flag.String("config", "", "YAML config file")
	stopID := flag.String("stop", "", "GTFS stop_id to show arrivals for")
	station := flag.String("station", "", "Resolve the stop by name from the static GTFS directory")
	near := flag.String("near", "", "Resolve the nearest stop to lat,lon")
	limit := flag.Int("limit", 0, "Number of arrivals to show")
	tz := flag.String("tz", "", "IANA timezone for displayed times (default: local)")
	watch := flag.Bool("watch", false, "Re-render the board every poll interval")
	serve := flag.Bool("serve", false, "Run the HTTP API")
	importOnly := flag.Bool("import-gtfs", false, "Download and import static GTFS data, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *stopID != "" {
		cfg.StopID = *stopID
		cfg.StopName = ""
	}
	if *limit != 0 {
		cfg.Limit = *limit
	}
	if *tz != "" {
		cfg.Timezone = *tz
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	loc, _ := cfg.Location()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// One-shot runs read an existing directory if there is one but never
	// create it; the other modes own the database.
	needsDB := *serve || *watch || *importOnly || *station != "" || *near != ""
	var db *storage.DB
	if needsDB {
		db, err = storage.Open(cfg.DBPath, logger)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
	} else if db, err = storage.OpenExisting(cfg.DBPath, logger); err != nil {
		logger.Warn("stop directory unavailable", "error", err)
		db = nil
	}
	defer db.Close()

	var scheduler *gtfs.Scheduler
	if needsDB {
		downloader := gtfs.NewDownloader(cfg.GTFSURL, cfg.GTFSDir, logger)
		scheduler = gtfs.NewScheduler(downloader, db, loc, logger)
	}

	if *importOnly {
		logger.Info("force importing GTFS data")
		if err := scheduler.ForceUpdate(ctx); err != nil {
			logger.Error("GTFS import failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if *station != "" || *near != "" {
		if err := scheduler.EnsureData(ctx); err != nil {
			logger.Error("static GTFS data unavailable", "error", err)
			os.Exit(1)
		}
		stop, err := resolveStop(ctx, db, *station, *near)
		if err != nil {
			logger.Error("resolve stop", "error", err)
			os.Exit(1)
		}
		cfg.StopID, cfg.StopName = stop.StopID, stop.StopName
		logger.Info("stop resolved", "stop_id", stop.StopID, "name", stop.StopName)
	}

	collector := metrics.NewCollector(cfg.PollInterval)
	fetcher := realtime.NewFetcher(cfg.FeedURL, cfg.APIKey, cfg.FetchTimeout, collector, logger)

	switch {
	case *serve:
		runServer(ctx, cfg, loc, db, scheduler, fetcher, collector, logger)
	case *watch:
		runWatch(ctx, cfg, loc, db, fetcher, collector, logger)
	default:
		if err := runOnce(ctx, cfg, loc, db, fetcher, os.Stdout, logger); err != nil {
			logger.Error("one-shot run failed", "error", err)
			os.Exit(1)
		}
	}
}

// runOnce fetches the feed and writes the board to w. db may be nil.
func runOnce(ctx context.Context, cfg *config.Config, loc *time.Location, db *storage.DB, fetcher *realtime.Fetcher, w io.Writer, logger *slog.Logger) error {
	snap, err := fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch trip updates: %w", err)
	}

	now := time.Now()
	board := newBoard(ctx, cfg, loc, db, logger)
	if err := board.Render(w, arrivals.Rank(snap.TripUpdates, cfg.StopID, now), now); err != nil {
		return fmt.Errorf("write board: %w", err)
	}
	return nil
}

func runWatch(ctx context.Context, cfg *config.Config, loc *time.Location, db *storage.DB, fetcher *realtime.Fetcher, mc *metrics.Collector, logger *slog.Logger) {
	board := newBoard(ctx, cfg, loc, db, logger)
	pub := connectPublisher(cfg, mc, logger)
	if pub != nil {
		defer pub.Close()
	}

	store := realtime.NewStore()
	fetcher.Start(ctx, cfg.PollInterval, store, func(snap feed.Snapshot) {
		now := time.Now()
		ranked := arrivals.Rank(snap.TripUpdates, cfg.StopID, now)
		fmt.Fprintf(os.Stdout, "\n--- %s ---\n", arrivals.FormatClock(now, loc))
		if err := board.Render(os.Stdout, ranked, now); err != nil {
			logger.Error("write board", "error", err)
		}
		publishBoard(pub, cfg, board, ranked, now, logger)
	})
}

func runServer(ctx context.Context, cfg *config.Config, loc *time.Location, db *storage.DB, scheduler *gtfs.Scheduler, fetcher *realtime.Fetcher, mc *metrics.Collector, logger *slog.Logger) {
	go func() {
		if err := scheduler.EnsureData(ctx); err != nil {
			logger.Error("failed to ensure GTFS data", "error", err)
		}
		scheduler.StartBackground(ctx)
	}()

	pub := connectPublisher(cfg, mc, logger)
	if pub != nil {
		defer pub.Close()
	}

	store := realtime.NewStore()
	go fetcher.Start(ctx, cfg.PollInterval, store, func(snap feed.Snapshot) {
		if pub == nil {
			return
		}
		now := time.Now()
		board := newBoard(ctx, cfg, loc, db, logger)
		publishBoard(pub, cfg, board, arrivals.Rank(snap.TripUpdates, cfg.StopID, now), now, logger)
	})

	srv := server.New(cfg, loc, db, store, mc, logger)
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// newBoard labels the board from the static directory when it has been
// imported. db may be nil.
func newBoard(ctx context.Context, cfg *config.Config, loc *time.Location, db *storage.DB, logger *slog.Logger) arrivals.Board {
	fallback := cfg.StopName
	if fallback == "" {
		fallback = "stop " + cfg.StopID
	}
	routeNames, err := db.RouteNames(ctx)
	if err != nil {
		logger.Warn("route names unavailable", "error", err)
	}
	return arrivals.Board{
		StopName:   db.StopName(ctx, cfg.StopID, fallback),
		Limit:      cfg.Limit,
		Location:   loc,
		RouteNames: routeNames,
	}
}

func resolveStop(ctx context.Context, db *storage.DB, station, near string) (*storage.StopRow, error) {
	if station != "" {
		stops, err := db.SearchStops(ctx, station, 1)
		if err != nil {
			return nil, err
		}
		if len(stops) == 0 {
			return nil, fmt.Errorf("no stop matches %q", station)
		}
		return &stops[0], nil
	}

	p, err := geo.ParsePoint(near)
	if err != nil {
		return nil, err
	}
	stops, err := db.NearbyStops(ctx, p.Lat, p.Lon, nearRadiusMeters, 1)
	if err != nil {
		return nil, err
	}
	if len(stops) == 0 {
		return nil, fmt.Errorf("no stop within %d m of %s", nearRadiusMeters, near)
	}
	return &stops[0], nil
}

// connectPublisher returns nil when NATS is not configured or unreachable.
func connectPublisher(cfg *config.Config, mc *metrics.Collector, logger *slog.Logger) *publisher.NATSPublisher {
	if cfg.NATSURL == "" {
		return nil
	}
	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, mc, logger)
	if err != nil {
		logger.Warn("NATS unavailable, boards will not be published", "error", err)
		return nil
	}
	return pub
}

func publishBoard(pub *publisher.NATSPublisher, cfg *config.Config, board arrivals.Board, ranked []arrivals.Record, now time.Time, logger *slog.Logger) {
	if pub == nil {
		return
	}
	err := pub.PublishBoard(publisher.BoardMessage{
		StopID:      cfg.StopID,
		StopName:    board.StopName,
		GeneratedAt: now.UTC(),
		Arrivals:    board.Lines(ranked, now),
	})
	if err != nil {
		logger.Warn("publish board failed", "error", err)
	}
}
