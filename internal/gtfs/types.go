package gtfs

// Feed holds the parts of a static GTFS zip used for the stop and route directory.
type Feed struct {
	Agencies     []Agency
	Routes       []Route
	Stops        []Stop
	LastModified string // From HTTP response header
	ETag         string // From HTTP response header
}

type Agency struct {
	AgencyID       string `csv:"agency_id"`
	AgencyName     string `csv:"agency_name"`
	AgencyURL      string `csv:"agency_url"`
	AgencyTimezone string `csv:"agency_timezone"`
}

type Route struct {
	RouteID        string `csv:"route_id"`
	AgencyID       string `csv:"agency_id"`
	RouteShortName string `csv:"route_short_name"`
	RouteLongName  string `csv:"route_long_name"`
	RouteType      string `csv:"route_type"`
	RouteColor     string `csv:"route_color"`
}

type Stop struct {
	StopID        string `csv:"stop_id"`
	StopCode      string `csv:"stop_code"`
	StopName      string `csv:"stop_name"`
	StopLat       string `csv:"stop_lat"`
	StopLon       string `csv:"stop_lon"`
	LocationType  string `csv:"location_type"`
	ParentStation string `csv:"parent_station"`
}
