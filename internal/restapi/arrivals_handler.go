package restapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"stopboard.transitkit.org/internal/gtfs"
	"stopboard.transitkit.org/internal/models"
	"stopboard.transitkit.org/internal/store"
)

// stopArrivals groups the arrivals response by stop.
type stopArrivals struct {
	StopName string           `json:"stop_name,omitempty"`
	Arrivals []models.Arrival `json:"arrivals"`
}

// arrivalsHandler serves GET /api/v1/arrivals?stop=2189&stop=2200&minutes=30.
// Unknown stops come back with an empty arrivals list rather than an error.
func (api *RestAPI) arrivalsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	stopIDs := dedupe(query["stop"])
	if len(stopIDs) == 0 {
		api.badRequestResponse(w, r, "at least one stop parameter is required")
		return
	}

	minutes := api.GtfsConfig.HorizonMinutes
	if raw := query.Get("minutes"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			api.badRequestResponse(w, r, "minutes must be a positive integer")
			return
		}
		minutes = parsed
	}

	arrivals, err := api.Manager.ArrivalsFor(r.Context(), stopIDs, time.Now(), minutes)
	if err != nil {
		switch {
		case errors.Is(err, gtfs.ErrNoSnapshot):
			api.serviceUnavailableResponse(w, r, "schedule data not loaded yet")
		case errors.Is(err, store.ErrUnavailable):
			api.serviceUnavailableResponse(w, r, "storage backend unavailable")
		default:
			api.serverErrorResponse(w, r, err)
		}
		return
	}

	response := make(map[string]*stopArrivals, len(stopIDs))
	for _, stopID := range stopIDs {
		response[stopID] = &stopArrivals{Arrivals: []models.Arrival{}}
	}
	for _, arrival := range arrivals {
		entry := response[arrival.StopID]
		if entry == nil {
			continue
		}
		entry.StopName = arrival.StopName
		entry.Arrivals = append(entry.Arrivals, arrival)
	}

	api.sendResponse(w, r, response)
}

// dedupe drops repeated values, keeping first-seen order.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
