package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nexttrain/internal/config"
	"nexttrain/internal/metrics"
	"nexttrain/internal/realtime"
	"nexttrain/internal/storage"
)

// Server is the HTTP JSON API over the latest feed snapshot.
type Server struct {
	mux     *http.ServeMux
	cfg     *config.Config
	loc     *time.Location
	db      *storage.DB
	store   *realtime.Store
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Server with all routes registered.
func New(cfg *config.Config, loc *time.Location, db *storage.DB, store *realtime.Store, mc *metrics.Collector, logger *slog.Logger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		cfg:     cfg,
		loc:     loc,
		db:      db,
		store:   store,
		metrics: mc,
		logger:  logger,
		now:     time.Now,
	}

	s.mux.HandleFunc("GET /healthz", s.health)
	s.mux.Handle("GET /metrics", mc.Handler())
	s.mux.HandleFunc("GET /stops", s.searchStops)
	s.mux.HandleFunc("GET /stops/nearby", s.nearbyStops)
	s.mux.Handle("GET /stops/{id}/arrivals", waitForFeed(http.HandlerFunc(s.stopArrivals), store.Ready()))

	return s
}

// Handler returns the routes wrapped in middleware.
func (s *Server) Handler() http.Handler {
	return withMiddleware(s.mux, s.logger)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
