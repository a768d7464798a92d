package gtfs

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"nexttrain/internal/storage"
)

// Scheduler keeps the stop directory in step with the agency's static feed.
type Scheduler struct {
	downloader *Downloader
	importer   *Importer
	db         *storage.DB
	loc        *time.Location
	logger     *slog.Logger

	mu            sync.Mutex
	lastCheckDate string // YYYY-MM-DD of last check, prevents multiple checks per day
}

// NewScheduler creates a Scheduler. loc sets the wall clock for the daily check.
func NewScheduler(downloader *Downloader, db *storage.DB, loc *time.Location, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		downloader: downloader,
		importer:   NewImporter(db, logger),
		db:         db,
		loc:        loc,
		logger:     logger,
	}
}

// EnsureData imports the directory if the database is empty.
func (s *Scheduler) EnsureData(ctx context.Context) error {
	if s.db.HasData(ctx) {
		s.logger.Debug("GTFS data already present")
		return nil
	}
	s.logger.Info("no GTFS data found, performing initial import")
	return s.update(ctx, "", "")
}

// ForceUpdate downloads and imports unconditionally.
func (s *Scheduler) ForceUpdate(ctx context.Context) error {
	return s.update(ctx, "", "")
}

// CheckAndUpdate re-imports if the feed changed since the last import.
// Only checks once per calendar day.
func (s *Scheduler) CheckAndUpdate(ctx context.Context) error {
	s.mu.Lock()
	today := time.Now().In(s.loc).Format("2006-01-02")
	if s.lastCheckDate == today {
		s.mu.Unlock()
		return nil
	}
	s.lastCheckDate = today
	s.mu.Unlock()

	lastModified, _ := s.db.GetMetadata(ctx, "last_modified")
	etag, _ := s.db.GetMetadata(ctx, "etag")
	return s.update(ctx, lastModified, etag)
}

// StartBackground runs CheckAndUpdate at 3 AM local time every day.
// It blocks until the context is cancelled.
func (s *Scheduler) StartBackground(ctx context.Context) {
	for {
		next := next3AM(time.Now(), s.loc)
		s.logger.Info("next GTFS check scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			if err := s.CheckAndUpdate(ctx); err != nil {
				s.logger.Error("background GTFS update failed", "error", err)
			}
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("GTFS background scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) update(ctx context.Context, lastModified, etag string) error {
	dl, err := s.downloader.Fetch(ctx, lastModified, etag)
	if err != nil {
		return err
	}
	if dl == nil {
		return nil
	}
	defer os.Remove(dl.Path)

	feed, err := ParseZip(dl.Path, s.logger)
	if err != nil {
		return err
	}
	feed.LastModified = dl.LastModified
	feed.ETag = dl.ETag

	return s.importer.Import(ctx, feed)
}

// next3AM returns the first 3:00 AM in loc strictly after now.
func next3AM(now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
