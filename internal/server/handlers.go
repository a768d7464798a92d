package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"nexttrain/internal/arrivals"
	"nexttrain/internal/metrics"
	"nexttrain/internal/storage"
)

const (
	defaultNearbyRadius = 1500.0 // meters
	maxNearbyRadius     = 20000.0
)

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status        string     `json:"status"`
	FeedFetchedAt *time.Time `json:"feed_fetched_at,omitempty"`
	TripUpdates   int        `json:"trip_updates"`
}

type arrivalsResponse struct {
	StopID        string          `json:"stop_id"`
	StopName      string          `json:"stop_name"`
	GeneratedAt   time.Time       `json:"generated_at"`
	FeedTimestamp *time.Time      `json:"feed_timestamp,omitempty"`
	Arrivals      []arrivals.Line `json:"arrivals"`
	Message       string          `json:"message,omitempty"`
}

type stopsResponse struct {
	Stops []storage.StopRow `json:"stops"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	snap, fetchedAt := s.store.Snapshot()
	resp := healthResponse{Status: "ok", TripUpdates: len(snap.TripUpdates)}
	if !fetchedAt.IsZero() {
		resp.FeedFetchedAt = &fetchedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// stopArrivals serves the ranked board for one stop.
func (s *Server) stopArrivals(w http.ResponseWriter, r *http.Request) {
	stopID := r.PathValue("id")
	ctx := r.Context()
	now := s.now()

	limit := s.cfg.Limit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > arrivals.MaxLimit {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("limit must be 1-%d", arrivals.MaxLimit)})
			return
		}
		limit = n
	}

	stop, err := s.db.Stop(ctx, stopID)
	if err != nil {
		s.logger.Warn("stop lookup failed", "stop", stopID, "error", err)
	}

	// Only configured or known stops get their own series.
	label := metrics.OtherStop
	if stopID == s.cfg.StopID || stop != nil {
		label = stopID
	}
	s.metrics.ArrivalsRequested(label)

	stopName := stopID
	switch {
	case stop != nil && stop.StopName != "":
		stopName = stop.StopName
	case stopID == s.cfg.StopID && s.cfg.StopName != "":
		stopName = s.cfg.StopName
	}

	routeNames, err := s.db.RouteNames(ctx)
	if err != nil {
		s.logger.Warn("route names unavailable", "error", err)
	}

	snap, _ := s.store.Snapshot()
	ranked := arrivals.Rank(snap.TripUpdates, stopID, now)
	board := arrivals.Board{StopName: stopName, Limit: limit, Location: s.loc, RouteNames: routeNames}

	resp := arrivalsResponse{
		StopID:      stopID,
		StopName:    stopName,
		GeneratedAt: now.UTC(),
		Arrivals:    board.Lines(ranked, now),
	}
	if ts, ok := snap.Timestamp.Get(); ok {
		resp.FeedTimestamp = &ts
	}
	if len(resp.Arrivals) == 0 {
		resp.Message = fmt.Sprintf("No upcoming trains found to %s", stopName)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) searchStops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing q"})
		return
	}

	stops, err := s.db.SearchStops(r.Context(), q, 20)
	if err != nil {
		s.logger.Error("searching stops", "query", q, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, stopsResponse{Stops: nonNil(stops)})
}

func (s *Server) nearbyStops(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
	lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
	if latErr != nil || lonErr != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "lat and lon are required"})
		return
	}

	radius := defaultNearbyRadius
	if v := q.Get("radius"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > maxNearbyRadius {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "radius must be 1-20000 meters"})
			return
		}
		radius = f
	}

	stops, err := s.db.NearbyStops(r.Context(), lat, lon, radius, 10)
	if err != nil {
		s.logger.Error("nearby stops", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, stopsResponse{Stops: nonNil(stops)})
}

func nonNil(stops []storage.StopRow) []storage.StopRow {
	if stops == nil {
		return []storage.StopRow{}
	}
	return stops
}
