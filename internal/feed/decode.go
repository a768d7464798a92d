package feed

import (
	"fmt"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// Decode parses a GTFS-realtime FeedMessage and extracts its trip updates.
func Decode(body []byte) (Snapshot, error) {
	msg := &gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, msg); err != nil {
		return Snapshot{}, fmt.Errorf("parse feed protobuf: %w", err)
	}
	return FromMessage(msg), nil
}

// FromMessage converts the trip-update entities of msg. Entities carrying
// only alerts or vehicle positions are skipped.
func FromMessage(msg *gtfs.FeedMessage) Snapshot {
	var snap Snapshot
	if ts := msg.GetHeader().Timestamp; ts != nil {
		snap.Timestamp = Some(time.Unix(int64(*ts), 0).UTC())
	}

	for _, entity := range msg.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}
		snap.TripUpdates = append(snap.TripUpdates, tripUpdate(tu))
	}
	return snap
}

func tripUpdate(tu *gtfs.TripUpdate) TripUpdate {
	desc := tu.GetTrip()
	out := TripUpdate{
		TripID:          desc.GetTripId(),
		StopTimeUpdates: make([]StopTimeUpdate, 0, len(tu.GetStopTimeUpdate())),
	}
	if desc != nil && desc.RouteId != nil {
		out.RouteID = Some(*desc.RouteId)
	}

	for _, stu := range tu.GetStopTimeUpdate() {
		u := StopTimeUpdate{StopID: stu.GetStopId()}
		if arr := stu.GetArrival(); arr != nil && arr.Time != nil {
			u.Arrival = Some(*arr.Time)
		}
		out.StopTimeUpdates = append(out.StopTimeUpdates, u)
	}
	return out
}
