package arrivals

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

const (
	// DefaultLimit is how many arrivals a board shows when no limit is set.
	DefaultLimit = 5
	// MaxLimit bounds both the configured limit and ?limit= on the API.
	MaxLimit = 50
)

// Board renders ranked arrivals for display.
type Board struct {
	StopName   string
	Limit      int
	Location   *time.Location    // nil means time.Local
	RouteNames map[string]string // route_id -> long name, optional
}

// Line is one displayed arrival.
type Line struct {
	Position    int       `json:"position"`
	TripID      string    `json:"trip_id"`
	RouteID     string    `json:"route_id"`
	RouteName   string    `json:"route_name,omitempty"`
	StopID      string    `json:"stop_id"`
	Arrival     time.Time `json:"arrival"`
	LocalTime   string    `json:"local_time"`
	MinutesAway int       `json:"minutes_away"`
}

// Lines converts the first Limit records into display lines.
func (b Board) Lines(records []Record, now time.Time) []Line {
	limit := b.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(records) > limit {
		records = records[:limit]
	}

	lines := make([]Line, 0, len(records))
	for i, r := range records {
		lines = append(lines, Line{
			Position:    i + 1,
			TripID:      r.TripID,
			RouteID:     r.RouteID,
			RouteName:   b.RouteNames[r.RouteID],
			StopID:      r.StopID,
			Arrival:     r.Arrival,
			LocalTime:   FormatClock(r.Arrival, b.location()),
			MinutesAway: MinutesAway(r.Arrival, now),
		})
	}
	return lines
}

// Render writes the board to w, or the no-trains message when records is empty.
func (b Board) Render(w io.Writer, records []Record, now time.Time) error {
	bw := bufio.NewWriter(w)
	if len(records) == 0 {
		fmt.Fprintf(bw, "No upcoming trains found to %s\n", b.StopName)
		return bw.Flush()
	}

	fmt.Fprintf(bw, "🚂 Next trains to %s:\n\n", b.StopName)
	for _, l := range b.Lines(records, now) {
		if l.RouteName != "" {
			fmt.Fprintf(bw, "%d. Trip %s (%s)\n", l.Position, l.TripID, l.RouteName)
		} else {
			fmt.Fprintf(bw, "%d. Trip %s\n", l.Position, l.TripID)
		}
		fmt.Fprintf(bw, "   Arrives: %s (in %d minutes)\n\n", l.LocalTime, l.MinutesAway)
	}
	return bw.Flush()
}

func (b Board) location() *time.Location {
	if b.Location == nil {
		return time.Local
	}
	return b.Location
}

// FormatClock formats t as a zero-padded 12-hour clock in loc, e.g. "03:04 PM".
func FormatClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("03:04 PM")
}

// MinutesAway returns whole minutes from now until arrival, rounded down.
func MinutesAway(arrival, now time.Time) int {
	d := arrival.Sub(now)
	m := int(d / time.Minute)
	if d < 0 && d%time.Minute != 0 {
		m--
	}
	return m
}
