package gtfs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"stopboard.transitkit.org/internal/logging"
	"stopboard.transitkit.org/internal/models"
	"stopboard.transitkit.org/internal/store"
)

// liveKey addresses one (trip, stop) live record. The stop part is "*" for
// whole-trip records such as cancellations.
func liveKey(tripID, stopID string) string {
	return tripID + "|" + stopID
}

const wholeTrip = "*"

// addedSetKey indexes added-trip ids by the stop they are predicted to serve.
func addedSetKey(stopID string) string {
	return "added:" + stopID
}

// ArrivalsFor computes upcoming arrivals at the given stops inside
// [now, now+horizon], merging the static schedule with live updates. Unknown
// stop ids contribute nothing. Per-entry store misses and decode failures are
// skipped; backend unavailability aborts the query.
func (m *Manager) ArrivalsFor(ctx context.Context, stopIDs []string, now time.Time, horizonMinutes int) ([]models.Arrival, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.version == "" {
		return nil, ErrNoSnapshot
	}
	v := m.version
	horizon := time.Duration(horizonMinutes) * time.Minute
	windowEnd := now.Add(horizon)

	// A trip past midnight belongs to the previous service date, and a
	// window crossing midnight reaches into tomorrow's schedule, so three
	// candidate dates are tried for every stop time. The [now, windowEnd]
	// filter keeps each entry on at most one of them.
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	serviceDates := []time.Time{today.AddDate(0, 0, -1), today, today.AddDate(0, 0, 1)}

	var arrivals []models.Arrival
	for _, stopID := range stopIDs {
		known, err := m.store.HasMember(ctx, VersionedNamespace(nsStopIDs, v), stopIDsSetKey, stopID)
		if err != nil {
			return nil, err
		}
		if !known {
			continue
		}

		var stop models.Stop
		if err := m.skippable(ctx, VersionedNamespace(nsStops, v), stopID, &stop); err != nil {
			return nil, err
		}
		stop.ID = stopID

		var stopTimes []models.StopTime
		if err := m.skippable(ctx, VersionedNamespace(nsStopTimes, v), stopID, &stopTimes); err != nil {
			return nil, err
		}

		for _, st := range stopTimes {
			for _, serviceDate := range serviceDates {
				scheduled := serviceDate.Add(time.Duration(st.ArrivalSecs) * time.Second)
				if scheduled.Before(now) || scheduled.After(windowEnd) {
					continue
				}

				arrival, ok, err := m.resolveArrival(ctx, v, stop, st, serviceDate, scheduled, now, windowEnd)
				if err != nil {
					return nil, err
				}
				if ok {
					arrivals = append(arrivals, arrival)
				}
			}
		}

		added, err := m.addedArrivals(ctx, stop, now, windowEnd)
		if err != nil {
			return nil, err
		}
		arrivals = append(arrivals, added...)
	}

	sort.Slice(arrivals, func(i, j int) bool {
		a, b := arrivals[i], arrivals[j]
		if !a.PredictedArrival.Equal(b.PredictedArrival) {
			return a.PredictedArrival.Before(b.PredictedArrival)
		}
		if !a.ScheduledArrival.Equal(b.ScheduledArrival) {
			return a.ScheduledArrival.Before(b.ScheduledArrival)
		}
		return a.StopID < b.StopID
	})
	return arrivals, nil
}

// resolveArrival turns one scheduled stop time into an arrival, applying
// calendar rules and any live update. ok is false when the entry does not
// belong in the result.
func (m *Manager) resolveArrival(ctx context.Context, v string, stop models.Stop, st models.StopTime, serviceDate, scheduled, now, windowEnd time.Time) (models.Arrival, bool, error) {
	var trip models.Trip
	if err := m.skippable(ctx, VersionedNamespace(nsTrips, v), st.TripID, &trip); err != nil {
		return models.Arrival{}, false, err
	}
	if trip.ID == "" {
		return models.Arrival{}, false, nil
	}

	var cal models.ServiceCalendar
	if err := m.skippable(ctx, VersionedNamespace(nsCalendars, v), trip.ServiceID, &cal); err != nil {
		return models.Arrival{}, false, err
	}
	if cal.ServiceID == "" || !cal.RunsOn(serviceDate) {
		return models.Arrival{}, false, nil
	}

	var route models.Route
	if err := m.skippable(ctx, VersionedNamespace(nsRoutes, v), trip.RouteID, &route); err != nil {
		return models.Arrival{}, false, err
	}

	arrival := models.Arrival{
		StopID:           stop.ID,
		StopName:         stop.Name,
		RouteID:          route.ID,
		Route:            routeDisplayName(route),
		Agency:           route.AgencyName,
		Headsign:         trip.Headsign,
		TripID:           trip.ID,
		StopSequence:     st.StopSequence,
		ScheduledArrival: scheduled,
		PredictedArrival: scheduled,
		Status:           models.StatusOnTime,
	}

	update, found, err := m.liveUpdate(ctx, trip.ID, stop.ID, now)
	if err != nil {
		return models.Arrival{}, false, err
	}
	if found {
		switch update.Status {
		case models.StatusCancelled, models.StatusSkipped:
			return models.Arrival{}, false, nil
		default:
			arrival.PredictedArrival = scheduled.Add(time.Duration(update.DelaySecs) * time.Second)
			arrival.Status = update.Status
			// The delay may have pushed the arrival out of the window,
			// or an early arrival behind now.
			if arrival.PredictedArrival.Before(now) || arrival.PredictedArrival.After(windowEnd) {
				return models.Arrival{}, false, nil
			}
		}
	}
	return arrival, true, nil
}

// liveUpdate finds the freshest applicable live record for a (trip, stop)
// pair: the exact pair first, then the whole-trip record.
func (m *Manager) liveUpdate(ctx context.Context, tripID, stopID string, now time.Time) (models.LiveUpdate, bool, error) {
	for _, key := range []string{liveKey(tripID, stopID), liveKey(tripID, wholeTrip)} {
		var update models.LiveUpdate
		err := m.skippableErr(m.getJSON(ctx, nsLive, key, &update))
		if err != nil {
			return models.LiveUpdate{}, false, err
		}
		if update.TripID == "" {
			continue
		}
		// Staleness belt on top of the store TTL: an update the feed
		// stopped refreshing is not trusted.
		if now.Sub(update.ObservedAt) > m.cfg.LiveTTL() {
			continue
		}
		return update, true, nil
	}
	return models.LiveUpdate{}, false, nil
}

// addedArrivals surfaces trips present only in the live feed for this stop.
func (m *Manager) addedArrivals(ctx context.Context, stop models.Stop, now, windowEnd time.Time) ([]models.Arrival, error) {
	tripIDs, err := m.store.SetMembers(ctx, nsLiveAdded, addedSetKey(stop.ID))
	if err != nil {
		return nil, err
	}

	var arrivals []models.Arrival
	for _, tripID := range tripIDs {
		var update models.LiveUpdate
		if err := m.skippableLive(ctx, liveKey(tripID, stop.ID), &update); err != nil {
			return nil, err
		}
		if update.TripID == "" || update.Status != models.StatusAdded {
			continue
		}
		if now.Sub(update.ObservedAt) > m.cfg.LiveTTL() {
			continue
		}
		predicted := time.Unix(update.PredictedArrival, 0).In(now.Location())
		if predicted.Before(now) || predicted.After(windowEnd) {
			continue
		}
		arrivals = append(arrivals, models.Arrival{
			StopID:           stop.ID,
			StopName:         stop.Name,
			RouteID:          update.RouteID,
			Route:            update.RouteName,
			TripID:           tripID,
			PredictedArrival: predicted,
			Status:           models.StatusAdded,
		})
	}
	return arrivals, nil
}

func routeDisplayName(route models.Route) string {
	if route.ShortName != "" {
		return route.ShortName
	}
	return route.LongName
}

// skippable reads and decodes one entry, treating missing keys and corrupt
// values as absent so one bad entry never fails a whole query. Backend
// unavailability still propagates.
func (m *Manager) skippable(ctx context.Context, namespace, key string, out any) error {
	return m.skippableErr(m.getJSON(ctx, namespace, key, out))
}

func (m *Manager) skippableLive(ctx context.Context, key string, out *models.LiveUpdate) error {
	return m.skippableErr(m.getJSON(ctx, nsLive, key, out))
}

func (m *Manager) skippableErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return nil
	case errors.Is(err, store.ErrUnavailable):
		return err
	default:
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			logging.LogError(m.logger, "skipping undecodable store entry", err,
				slog.String("component", "arrivals"))
			return nil
		}
		return err
	}
}
