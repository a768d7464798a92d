package arrivals

import (
	"sort"
	"time"

	"nexttrain/internal/feed"
)

// RouteNotAvailable stands in for a route id the feed did not provide.
const RouteNotAvailable = "N/A"

// Record is one upcoming arrival at a stop.
type Record struct {
	TripID      string    `json:"trip_id"`
	RouteID     string    `json:"route_id"`
	StopID      string    `json:"stop_id"`
	ArrivalTime int64     `json:"arrival_time"` // seconds since epoch
	Arrival     time.Time `json:"arrival"`      // UTC
}

// Rank returns the arrivals at stopID that are strictly later than now,
// earliest first. Updates without an arrival prediction are ignored.
// Equal arrival times keep their feed order.
func Rank(updates []feed.TripUpdate, stopID string, now time.Time) []Record {
	var out []Record
	for _, tu := range updates {
		for _, stu := range tu.StopTimeUpdates {
			at, ok := stu.Arrival.Get()
			if !ok || stu.StopID != stopID {
				continue
			}
			arrival := time.Unix(at, 0).UTC()
			if !arrival.After(now) {
				continue
			}
			out = append(out, Record{
				TripID:      tu.TripID,
				RouteID:     tu.RouteID.OrElse(RouteNotAvailable),
				StopID:      stu.StopID,
				ArrivalTime: at,
				Arrival:     arrival,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ArrivalTime < out[j].ArrivalTime
	})
	return out
}
