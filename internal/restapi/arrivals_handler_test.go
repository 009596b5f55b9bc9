package restapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stopboard.transitkit.org/internal/app"
	"stopboard.transitkit.org/internal/gtfs"
	"stopboard.transitkit.org/internal/models"
	"stopboard.transitkit.org/internal/store"
)

func testSnapshot() *gtfs.Snapshot {
	// Calls at 2189 within the next hour relative to test time are not
	// possible with a fixed clock, so schedule trips around time.Now.
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	arrivalSecs := func(offset time.Duration) int {
		// Relative to today's midnight even past 24h, matching the
		// past-midnight stop time convention.
		return int(now.Add(offset).Sub(midnight) / time.Second)
	}

	return &gtfs.Snapshot{
		Meta: models.SnapshotMeta{
			FormatVersion: gtfs.FormatVersion,
			Fingerprint:   "handler-test",
			Version:       "handlertest01",
		},
		Stops: []models.Stop{
			{ID: "2189", Code: "2189", Name: "Main St & 5th", Lat: 40.11, Lon: -88.22},
		},
		Routes: []models.Route{
			{ID: "R27", AgencyName: "Metro Transit", ShortName: "27", Type: 3},
		},
		Trips: []models.Trip{
			{ID: "T1", RouteID: "R27", ServiceID: "ALL", Headsign: "Downtown"},
		},
		Calendars: []models.ServiceCalendar{
			{
				ServiceID: "ALL",
				Weekdays:  [7]bool{true, true, true, true, true, true, true},
				StartDate: "20200101",
				EndDate:   "20301231",
			},
		},
		StopTimes: map[string][]models.StopTime{
			"2189": {
				{TripID: "T1", StopSequence: 1, ArrivalSecs: arrivalSecs(10 * time.Minute), DepartureSecs: arrivalSecs(10 * time.Minute)},
			},
		},
	}
}

func newTestAPI(t *testing.T, adopt bool) *RestAPI {
	t.Helper()
	cfg := gtfs.Config{
		PollingPeriod:  time.Minute,
		HorizonMinutes: 30,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemoryStore(gtfs.DefaultRules(cfg))
	manager := gtfs.NewManager(st, cfg, logger)

	if adopt {
		require.NoError(t, testSnapshot().Publish(context.Background(), st))
		_, err := manager.Adopt(context.Background())
		require.NoError(t, err)
	}

	return NewRestAPI(&app.Application{
		Config:     app.Config{Env: "test"},
		GtfsConfig: cfg,
		Logger:     logger,
		Store:      st,
		Manager:    manager,
	})
}

func doRequest(t *testing.T, api *RestAPI, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, req)
	return rec
}

func TestArrivalsHandler(t *testing.T) {
	api := newTestAPI(t, true)

	rec := doRequest(t, api, "/api/v1/arrivals?stop=2189&stop=9999")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]struct {
		StopName string           `json:"stop_name"`
		Arrivals []models.Arrival `json:"arrivals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	require.Contains(t, body, "2189")
	require.Contains(t, body, "9999")
	assert.Empty(t, body["9999"].Arrivals)

	require.Len(t, body["2189"].Arrivals, 1)
	a := body["2189"].Arrivals[0]
	assert.Equal(t, "T1", a.TripID)
	assert.Equal(t, "27", a.Route)
	assert.Equal(t, models.StatusOnTime, a.Status)
	assert.Equal(t, "Main St & 5th", body["2189"].StopName)
}

func TestArrivalsHandlerRepeatedStopParameter(t *testing.T) {
	api := newTestAPI(t, true)

	rec := doRequest(t, api, "/api/v1/arrivals?stop=2189&stop=2189")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]struct {
		Arrivals []models.Arrival `json:"arrivals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	require.Contains(t, body, "2189")
	assert.Len(t, body["2189"].Arrivals, 1)
}

func TestArrivalsHandlerValidation(t *testing.T) {
	api := newTestAPI(t, true)

	rec := doRequest(t, api, "/api/v1/arrivals")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, api, "/api/v1/arrivals?stop=2189&minutes=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, api, "/api/v1/arrivals?stop=2189&minutes=-5")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadRequest, body.Code)
	assert.NotZero(t, body.CurrentTime)
}

func TestArrivalsHandlerWithoutSnapshot(t *testing.T) {
	api := newTestAPI(t, false)

	rec := doRequest(t, api, "/api/v1/arrivals?stop=2189")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStopHandler(t *testing.T) {
	api := newTestAPI(t, true)

	rec := doRequest(t, api, "/api/v1/stops/2189")
	require.Equal(t, http.StatusOK, rec.Code)

	var stop models.Stop
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stop))
	assert.Equal(t, "Main St & 5th", stop.Name)
	assert.Equal(t, 40.11, stop.Lat)

	rec = doRequest(t, api, "/api/v1/stops/9999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy with snapshot", func(t *testing.T) {
		api := newTestAPI(t, true)
		rec := doRequest(t, api, "/api/v1/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var status healthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "ok", status.Status)
		assert.Equal(t, "handlertest01", status.SnapshotVersion)
	})

	t.Run("degraded without snapshot", func(t *testing.T) {
		api := newTestAPI(t, false)
		rec := doRequest(t, api, "/api/v1/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var status healthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "degraded", status.Status)
		assert.Empty(t, status.SnapshotVersion)
	})
}
