package realtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"nexttrain/internal/feed"
)

// Observer is notified after every fetch attempt.
type Observer interface {
	FetchObserved(d time.Duration, tripUpdates int, age time.Duration, err error)
}

// Fetcher downloads and decodes a GTFS-RT trip-updates feed.
type Fetcher struct {
	url      string
	apiKey   string
	client   *http.Client
	observer Observer
	logger   *slog.Logger
}

// NewFetcher creates a trip-updates fetcher. apiKey is sent as x-api-key
// when non-empty; obs may be nil.
func NewFetcher(url, apiKey string, timeout time.Duration, obs Observer, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		url:      url,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		observer: obs,
		logger:   logger,
	}
}

// Fetch downloads the feed once and decodes its trip updates.
func (f *Fetcher) Fetch(ctx context.Context) (feed.Snapshot, error) {
	start := time.Now()
	snap, err := f.fetch(ctx)
	if f.observer != nil {
		var age time.Duration
		if ts, ok := snap.Timestamp.Get(); ok {
			age = start.Sub(ts)
		}
		f.observer.FetchObserved(time.Since(start), len(snap.TripUpdates), age, err)
	}
	return snap, err
}

func (f *Fetcher) fetch(ctx context.Context) (feed.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", f.url, nil)
	if err != nil {
		return feed.Snapshot{}, fmt.Errorf("create feed request: %w", err)
	}
	req.Header.Set("Accept", "application/x-protobuf")
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return feed.Snapshot{}, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return feed.Snapshot{}, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return feed.Snapshot{}, fmt.Errorf("read feed body: %w", err)
	}

	return feed.Decode(body)
}

// Start polls the feed into store until ctx is cancelled. onUpdate, if set,
// runs after each successful fetch. Failed fetches are logged and retried
// on the next tick.
func (f *Fetcher) Start(ctx context.Context, interval time.Duration, store *Store, onUpdate func(feed.Snapshot)) {
	poll := func() {
		snap, err := f.Fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("fetch trip updates failed", "error", err)
			}
			return
		}
		store.Set(snap, time.Now())
		f.logger.Info("GTFS-RT trip updates updated", "trips", len(snap.TripUpdates))
		if onUpdate != nil {
			onUpdate(snap)
		}
	}

	poll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			poll()
		case <-ctx.Done():
			f.logger.Info("GTFS-RT fetcher stopped")
			return
		}
	}
}
