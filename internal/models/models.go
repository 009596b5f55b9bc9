package models

import "time"

// Stop is a single boarding location from the static schedule. Immutable once
// a snapshot is published.
type Stop struct {
	ID   string  `json:"id"`
	Code string  `json:"code,omitempty"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Route is a line operated under a single short name, e.g. the "27" bus.
type Route struct {
	ID         string `json:"id"`
	AgencyName string `json:"agency_name,omitempty"`
	ShortName  string `json:"short_name"`
	LongName   string `json:"long_name,omitempty"`
	Type       int    `json:"type"`
}

// Trip is one scheduled run of a route on the days its service calendar allows.
type Trip struct {
	ID          string `json:"id"`
	RouteID     string `json:"route_id"`
	ServiceID   string `json:"service_id"`
	DirectionID int    `json:"direction_id"`
	Headsign    string `json:"headsign,omitempty"`
}

// StopTime is one scheduled call of a trip at a stop. Arrival and departure
// are seconds after service-date midnight and may exceed 24h for trips that
// run past midnight. The stop id is the storage key, so it is not repeated in
// the value.
type StopTime struct {
	TripID        string `json:"trip_id"`
	StopSequence  int    `json:"seq"`
	ArrivalSecs   int    `json:"arr"`
	DepartureSecs int    `json:"dep"`
}

// ServiceCalendar describes which service dates a service id runs on.
// Dates are YYYYMMDD strings so comparisons are lexicographic and
// timezone-free. Weekdays are indexed Monday through Sunday.
type ServiceCalendar struct {
	ServiceID    string   `json:"service_id"`
	Weekdays     [7]bool  `json:"weekdays"`
	StartDate    string   `json:"start_date"`
	EndDate      string   `json:"end_date"`
	AddedDates   []string `json:"added_dates,omitempty"`
	RemovedDates []string `json:"removed_dates,omitempty"`
}

// RunsOn reports whether the service operates on the given service date.
// Calendar exceptions take precedence over the weekday pattern.
func (c ServiceCalendar) RunsOn(serviceDate time.Time) bool {
	day := serviceDate.Format("20060102")
	for _, added := range c.AddedDates {
		if added == day {
			return true
		}
	}
	for _, removed := range c.RemovedDates {
		if removed == day {
			return false
		}
	}
	if day < c.StartDate || day > c.EndDate {
		return false
	}
	// time.Weekday counts from Sunday, the calendar from Monday.
	return c.Weekdays[(int(serviceDate.Weekday())+6)%7]
}

// UpdateStatus is the reconciled state of a live feed record.
type UpdateStatus string

const (
	StatusOnTime    UpdateStatus = "on-time"
	StatusCancelled UpdateStatus = "cancelled"
	StatusSkipped   UpdateStatus = "skipped"
	StatusAdded     UpdateStatus = "added"
)

// LiveUpdate is one reconciled real-time record for a (trip, stop) pair. It is
// continuously overwritten by polling and ages out of the store when the feed
// stops refreshing it.
//
// Added trips carry no static schedule, so the update itself holds the minimal
// passthrough schema: the route reference and the predicted arrival instant.
type LiveUpdate struct {
	TripID     string       `json:"trip_id"`
	StopID     string       `json:"stop_id"`
	DelaySecs  int          `json:"delay_secs"`
	Status     UpdateStatus `json:"status"`
	ObservedAt time.Time    `json:"observed_at"`

	RouteID          string `json:"route_id,omitempty"`
	RouteName        string `json:"route_name,omitempty"`
	PredictedArrival int64  `json:"predicted_arrival,omitempty"`
}

// Arrival is a single upcoming arrival at a stop, derived on query and never
// persisted. The scheduled time is zero for trips sourced purely from the
// live feed.
type Arrival struct {
	StopID           string       `json:"stop_id"`
	StopName         string       `json:"stop_name,omitempty"`
	RouteID          string       `json:"route_id"`
	Route            string       `json:"route"`
	Agency           string       `json:"agency,omitempty"`
	Headsign         string       `json:"headsign,omitempty"`
	TripID           string       `json:"trip_id"`
	StopSequence     int          `json:"stop_sequence,omitempty"`
	ScheduledArrival time.Time    `json:"scheduled_arrival,omitzero"`
	PredictedArrival time.Time    `json:"real_time_arrival"`
	Status           UpdateStatus `json:"status"`
}

// SnapshotMeta identifies one published load of the static schedule.
// Fingerprint is a content hash of the source archive; RemoteTag is whatever
// cheap validator the source offered (ETag or Last-Modified) at fetch time and
// is only used for freshness checks, never for identity.
type SnapshotMeta struct {
	FormatVersion int      `json:"format_version"`
	Fingerprint   string   `json:"fingerprint"`
	RemoteTag     string   `json:"remote_tag,omitempty"`
	StopFilter    []string `json:"stop_filter,omitempty"`
	Version       string   `json:"version"`
}
