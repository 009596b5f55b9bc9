package gtfs

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stopboard.transitkit.org/internal/models"
	"stopboard.transitkit.org/internal/store"
)

// fixtureNow is a Wednesday morning inside the fixture calendar's range.
var fixtureNow = time.Date(2024, 5, 15, 7, 45, 0, 0, time.UTC)

// fixtureFeedFiles is a small but complete schedule: route 27 calling at
// stops 2189 and 2200, route 51 calling only at stop 3000.
func fixtureFeedFiles() map[string]string {
	return map[string]string{
		"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\n" +
			"MTD,Metro Transit,https://example.org,America/Chicago\n",
		"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\n" +
			"R27,MTD,27,Downtown Crosstown,3\n" +
			"R51,MTD,51,Airport Express,3\n",
		"stops.txt": "stop_id,stop_code,stop_name,stop_lat,stop_lon\n" +
			"2189,2189,Main St & 5th,40.11,-88.22\n" +
			"2200,2200,Main St & 7th,40.12,-88.23\n" +
			"3000,3000,Terminal Dr,40.20,-88.30\n",
		"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,0,0,20200101,20301231\n",
		"trips.txt": "route_id,service_id,trip_id,trip_headsign,direction_id\n" +
			"R27,WK,T1,Downtown,0\n" +
			"R27,WK,T2,Downtown,0\n" +
			"R51,WK,TX,Airport,0\n",
		"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,07:55:00,07:55:00,2200,1\n" +
			"T1,08:00:00,08:00:00,2189,2\n" +
			"T2,08:40:00,08:40:00,2189,1\n" +
			"TX,08:05:00,08:05:00,3000,1\n",
	}
}

func buildFeedZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(f, content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeFeedFile(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gtfs.zip")
	require.NoError(t, os.WriteFile(path, buildFeedZip(t, files), 0o644))
	return path
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		DataDir:        t.TempDir(),
		PollingPeriod:  time.Minute,
		HorizonMinutes: 30,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager publishes the snapshot into a fresh memory store and adopts
// it, returning the wired manager and store.
func newTestManager(t *testing.T, snap *Snapshot, cfg Config) (*Manager, store.Store) {
	t.Helper()
	st := store.NewMemoryStore(DefaultRules(cfg))
	require.NoError(t, snap.Publish(context.Background(), st))
	m := NewManager(st, cfg, testLogger())
	changed, err := m.Adopt(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
	return m, st
}

// fixtureSnapshot hand-builds the snapshot equivalent of the fixture feed,
// for tests that do not need the parse path.
func fixtureSnapshot(filter []string) *Snapshot {
	allDays := models.ServiceCalendar{
		ServiceID: "WK",
		Weekdays:  [7]bool{true, true, true, true, true, false, false},
		StartDate: "20200101",
		EndDate:   "20301231",
	}
	snap := &Snapshot{
		Meta: models.SnapshotMeta{
			FormatVersion: FormatVersion,
			Fingerprint:   "test-fingerprint",
			StopFilter:    filter,
			Version:       snapshotVersion("test-fingerprint", filter),
		},
		Stops: []models.Stop{
			{ID: "2189", Code: "2189", Name: "Main St & 5th", Lat: 40.11, Lon: -88.22},
			{ID: "2200", Code: "2200", Name: "Main St & 7th", Lat: 40.12, Lon: -88.23},
		},
		Routes: []models.Route{
			{ID: "R27", AgencyName: "Metro Transit", ShortName: "27", LongName: "Downtown Crosstown", Type: 3},
		},
		Trips: []models.Trip{
			{ID: "T1", RouteID: "R27", ServiceID: "WK", Headsign: "Downtown"},
			{ID: "T2", RouteID: "R27", ServiceID: "WK", Headsign: "Downtown"},
		},
		Calendars: []models.ServiceCalendar{allDays},
		StopTimes: map[string][]models.StopTime{
			"2200": {
				{TripID: "T1", StopSequence: 1, ArrivalSecs: 7*3600 + 55*60, DepartureSecs: 7*3600 + 55*60},
			},
			"2189": {
				{TripID: "T1", StopSequence: 2, ArrivalSecs: 8 * 3600, DepartureSecs: 8 * 3600},
				{TripID: "T2", StopSequence: 1, ArrivalSecs: 8*3600 + 40*60, DepartureSecs: 8*3600 + 40*60},
			},
		},
	}
	return snap
}
