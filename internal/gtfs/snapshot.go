package gtfs

import (
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jamespfennell/gtfs"

	"stopboard.transitkit.org/internal/models"
	"stopboard.transitkit.org/internal/store"
)

// FormatVersion changes whenever the snapshot layout changes incompatibly;
// mismatched snapshots are rebuilt rather than read.
const FormatVersion = 1

// Snapshot is one complete, filtered, immutable load of the static schedule.
// StopTimes is keyed by stop id; each slice is sorted by arrival time so the
// query engine can scan it in order.
type Snapshot struct {
	Meta      models.SnapshotMeta
	Stops     []models.Stop
	Routes    []models.Route
	Trips     []models.Trip
	Calendars []models.ServiceCalendar
	StopTimes map[string][]models.StopTime
}

// snapshotVersion derives the deterministic version token: same archive bytes
// plus same canonical filter always produce the same token.
func snapshotVersion(fingerprint string, filter []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s", FormatVersion, fingerprint, strings.Join(filter, ","))
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// BuildSnapshot reduces a parsed static feed to the closure of the stop
// filter: trips calling at a filtered stop, every stop those trips visit, and
// the routes and calendars those trips reference. An empty filter keeps the
// whole feed.
func BuildSnapshot(static *gtfs.Static, fingerprint, remoteTag string, filter []string) *Snapshot {
	wanted := make(map[string]struct{}, len(filter))
	for _, id := range filter {
		wanted[id] = struct{}{}
	}
	matchesFilter := func(stop *gtfs.Stop) bool {
		if len(wanted) == 0 {
			return true
		}
		if _, ok := wanted[stop.Id]; ok {
			return true
		}
		if stop.Code != "" {
			if _, ok := wanted[stop.Code]; ok {
				return true
			}
		}
		return false
	}

	snap := &Snapshot{
		Meta: models.SnapshotMeta{
			FormatVersion: FormatVersion,
			Fingerprint:   fingerprint,
			RemoteTag:     remoteTag,
			StopFilter:    filter,
			Version:       snapshotVersion(fingerprint, filter),
		},
		StopTimes: make(map[string][]models.StopTime),
	}

	keepStops := make(map[string]*gtfs.Stop)
	keepRoutes := make(map[string]*gtfs.Route)
	keepServices := make(map[string]*gtfs.Service)

	for i := range static.Trips {
		trip := &static.Trips[i]
		calls := false
		for j := range trip.StopTimes {
			if trip.StopTimes[j].Stop != nil && matchesFilter(trip.StopTimes[j].Stop) {
				calls = true
				break
			}
		}
		if !calls {
			continue
		}

		routeID := ""
		serviceID := ""
		if trip.Route != nil {
			routeID = trip.Route.Id
			keepRoutes[trip.Route.Id] = trip.Route
		}
		if trip.Service != nil {
			serviceID = trip.Service.Id
			keepServices[trip.Service.Id] = trip.Service
		}
		snap.Trips = append(snap.Trips, models.Trip{
			ID:          trip.ID,
			RouteID:     routeID,
			ServiceID:   serviceID,
			DirectionID: int(trip.DirectionId),
			Headsign:    trip.Headsign,
		})

		for j := range trip.StopTimes {
			st := &trip.StopTimes[j]
			if st.Stop == nil {
				continue
			}
			keepStops[st.Stop.Id] = st.Stop
			snap.StopTimes[st.Stop.Id] = append(snap.StopTimes[st.Stop.Id], models.StopTime{
				TripID:        trip.ID,
				StopSequence:  st.StopSequence,
				ArrivalSecs:   int(st.ArrivalTime.Seconds()),
				DepartureSecs: int(st.DepartureTime.Seconds()),
			})
		}
	}

	for _, stop := range keepStops {
		s := models.Stop{ID: stop.Id, Code: stop.Code, Name: stop.Name}
		if stop.Latitude != nil {
			s.Lat = *stop.Latitude
		}
		if stop.Longitude != nil {
			s.Lon = *stop.Longitude
		}
		snap.Stops = append(snap.Stops, s)
	}
	for _, route := range keepRoutes {
		r := models.Route{
			ID:        route.Id,
			ShortName: route.ShortName,
			LongName:  route.LongName,
			Type:      int(route.Type),
		}
		if route.Agency != nil {
			r.AgencyName = route.Agency.Name
		}
		snap.Routes = append(snap.Routes, r)
	}
	for _, service := range keepServices {
		cal := models.ServiceCalendar{
			ServiceID: service.Id,
			Weekdays: [7]bool{
				service.Monday, service.Tuesday, service.Wednesday,
				service.Thursday, service.Friday, service.Saturday, service.Sunday,
			},
			StartDate: service.StartDate.Format("20060102"),
			EndDate:   service.EndDate.Format("20060102"),
		}
		for _, d := range service.AddedDates {
			cal.AddedDates = append(cal.AddedDates, d.Format("20060102"))
		}
		for _, d := range service.RemovedDates {
			cal.RemovedDates = append(cal.RemovedDates, d.Format("20060102"))
		}
		snap.Calendars = append(snap.Calendars, cal)
	}

	// Deterministic ordering: map iteration must not leak into the bundle.
	sort.Slice(snap.Stops, func(i, j int) bool { return snap.Stops[i].ID < snap.Stops[j].ID })
	sort.Slice(snap.Routes, func(i, j int) bool { return snap.Routes[i].ID < snap.Routes[j].ID })
	sort.Slice(snap.Trips, func(i, j int) bool { return snap.Trips[i].ID < snap.Trips[j].ID })
	sort.Slice(snap.Calendars, func(i, j int) bool { return snap.Calendars[i].ServiceID < snap.Calendars[j].ServiceID })
	for _, times := range snap.StopTimes {
		sort.Slice(times, func(i, j int) bool {
			a, b := times[i], times[j]
			if a.ArrivalSecs != b.ArrivalSecs {
				return a.ArrivalSecs < b.ArrivalSecs
			}
			if a.TripID != b.TripID {
				return a.TripID < b.TripID
			}
			return a.StopSequence < b.StopSequence
		})
	}

	return snap
}

// Validate checks that a snapshot can serve the given configuration.
func (s *Snapshot) Validate(cfg Config) error {
	if s.Meta.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: format version %d, want %d", ErrSnapshotMismatch, s.Meta.FormatVersion, FormatVersion)
	}
	filter := cfg.CanonicalFilter()
	if len(filter) != len(s.Meta.StopFilter) {
		return fmt.Errorf("%w: stop filter changed", ErrSnapshotMismatch)
	}
	for i := range filter {
		if filter[i] != s.Meta.StopFilter[i] {
			return fmt.Errorf("%w: stop filter changed", ErrSnapshotMismatch)
		}
	}
	return nil
}

// WriteBundle persists the snapshot as a gob file, written to a temp file and
// renamed so readers never see a partial bundle.
func WriteBundle(snap *Snapshot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating bundle directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.gob")
	if err != nil {
		return fmt.Errorf("creating bundle temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing bundle temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publishing bundle: %w", err)
	}
	return nil
}

// ReadBundle loads a snapshot bundle written by WriteBundle.
func ReadBundle(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var snap Snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, &ValidationError{Reason: "decoding snapshot bundle", Err: err}
	}
	return &snap, nil
}

// Publish writes every entity of the snapshot into versioned namespaces, then
// records the snapshot meta, and only then flips the current-version pointer.
// A crash partway through leaves the previous version fully intact.
func (s *Snapshot) Publish(ctx context.Context, st store.Store) error {
	v := s.Meta.Version

	for _, stop := range s.Stops {
		if err := setJSON(ctx, st, VersionedNamespace(nsStops, v), stop.ID, stop); err != nil {
			return err
		}
		if err := st.AddToSet(ctx, VersionedNamespace(nsStopIDs, v), stopIDsSetKey, stop.ID); err != nil {
			return fmt.Errorf("publishing stop id %s: %w", stop.ID, err)
		}
	}
	for _, route := range s.Routes {
		if err := setJSON(ctx, st, VersionedNamespace(nsRoutes, v), route.ID, route); err != nil {
			return err
		}
	}
	for _, trip := range s.Trips {
		if err := setJSON(ctx, st, VersionedNamespace(nsTrips, v), trip.ID, trip); err != nil {
			return err
		}
	}
	for _, cal := range s.Calendars {
		if err := setJSON(ctx, st, VersionedNamespace(nsCalendars, v), cal.ServiceID, cal); err != nil {
			return err
		}
	}
	for stopID, times := range s.StopTimes {
		if err := setJSON(ctx, st, VersionedNamespace(nsStopTimes, v), stopID, times); err != nil {
			return err
		}
	}

	if err := setJSON(ctx, st, nsMeta, metaSnapshotPrefix+v, s.Meta); err != nil {
		return err
	}
	if err := st.Set(ctx, nsMeta, metaCurrentKey, []byte(v)); err != nil {
		return fmt.Errorf("flipping current version: %w", err)
	}
	return nil
}

func setJSON(ctx context.Context, st store.Store, namespace, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", namespace, key, err)
	}
	if err := st.Set(ctx, namespace, key, data); err != nil {
		return fmt.Errorf("writing %s/%s: %w", namespace, key, err)
	}
	return nil
}
