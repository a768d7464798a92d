package feed

import "time"

// Optional holds a value that a feed may omit.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// Present reports whether the value was set.
func (o Optional[T]) Present() bool {
	return o.ok
}

// OrElse returns the value, or fallback when absent.
func (o Optional[T]) OrElse(fallback T) T {
	if !o.ok {
		return fallback
	}
	return o.value
}

// TripUpdate is the predicted schedule of one trip.
type TripUpdate struct {
	TripID          string
	RouteID         Optional[string]
	StopTimeUpdates []StopTimeUpdate
}

// StopTimeUpdate is one predicted stop visit within a trip.
type StopTimeUpdate struct {
	StopID  string
	Arrival Optional[int64] // seconds since epoch, UTC
}

// Snapshot is one decoded fetch of a trip-updates feed.
type Snapshot struct {
	Timestamp   Optional[time.Time] // feed header timestamp
	TripUpdates []TripUpdate
}
