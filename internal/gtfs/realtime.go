package gtfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	gtfsrt "github.com/jamespfennell/gtfs/proto"
	"google.golang.org/protobuf/proto"

	"stopboard.transitkit.org/internal/logging"
	"stopboard.transitkit.org/internal/models"
	"stopboard.transitkit.org/internal/store"
)

// PollResult summarizes one merge pass over the trip updates feed.
type PollResult struct {
	// Updated counts live records written.
	Updated int
	// Dropped counts feed entities or stop time updates that referenced
	// nothing in the snapshot or lacked required fields.
	Dropped int
}

// LiveFeed polls the GTFS-Realtime trip updates feed and reconciles it
// against the adopted snapshot. Writes carry the live namespace's
// refresh-on-write TTL, so records the feed stops mentioning age out on
// their own; a poll never needs to delete anything.
type LiveFeed struct {
	manager *Manager
	store   store.Store
	cfg     Config
	client  *http.Client
	logger  *slog.Logger
}

// NewLiveFeed wires a merger against the manager's adopted snapshot.
func NewLiveFeed(manager *Manager, st store.Store, cfg Config, logger *slog.Logger) *LiveFeed {
	return &LiveFeed{
		manager: manager,
		store:   st,
		cfg:     cfg,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// PollOnce fetches and merges the feed once. It is idempotent: merging the
// same feed content twice leaves the store in the same state.
func (f *LiveFeed) PollOnce(ctx context.Context) (PollResult, error) {
	version := f.manager.Version()
	if version == "" {
		return PollResult{}, ErrNoSnapshot
	}

	feed, err := f.fetch(ctx)
	if err != nil {
		return PollResult{}, err
	}

	now := time.Now()
	headerTime := now
	if ts := feed.GetHeader().GetTimestamp(); ts > 0 {
		headerTime = time.Unix(int64(ts), 0)
	}

	var result PollResult
	for _, entity := range feed.GetEntity() {
		tu := entity.GetTripUpdate()
		if tu == nil {
			continue
		}
		observed := headerTime
		if ts := tu.GetTimestamp(); ts > 0 {
			observed = time.Unix(int64(ts), 0)
		}

		switch tu.GetTrip().GetScheduleRelationship() {
		case gtfsrt.TripDescriptor_ADDED:
			f.mergeAdded(ctx, tu, observed, &result)
		case gtfsrt.TripDescriptor_CANCELED:
			f.mergeCancelled(ctx, version, tu, observed, &result)
		default:
			f.mergeScheduled(ctx, version, tu, observed, &result)
		}
	}

	logging.LogOperation(f.logger, "live_feed_merged",
		slog.Int("updated", result.Updated),
		slog.Int("dropped", result.Dropped),
		slog.String("snapshot_version", version))
	return result, nil
}

func (f *LiveFeed) fetch(ctx context.Context) (*gtfsrt.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.TripUpdatesURL, nil)
	if err != nil {
		return nil, &FetchError{URL: f.cfg.TripUpdatesURL, Err: err}
	}
	if f.cfg.APIKey != "" {
		req.Header.Set("x-api-key", f.cfg.APIKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: f.cfg.TripUpdatesURL, Err: err}
	}
	defer logging.SafeCloseWithLogging(resp.Body, f.logger, "trip_updates_body")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: f.cfg.TripUpdatesURL, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: f.cfg.TripUpdatesURL, Err: err}
	}

	feed := &gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(body, feed); err != nil {
		return nil, &ValidationError{Reason: "decoding trip updates feed", Err: err}
	}
	return feed, nil
}

// mergeScheduled handles updates for trips the snapshot knows. Trips absent
// from the snapshot, including everything outside the stop filter, are
// dropped and counted.
func (f *LiveFeed) mergeScheduled(ctx context.Context, version string, tu *gtfsrt.TripUpdate, observed time.Time, result *PollResult) {
	tripID := tu.GetTrip().GetTripId()
	if tripID == "" || !f.tripKnown(ctx, version, tripID) {
		result.Dropped++
		return
	}

	for _, stu := range tu.GetStopTimeUpdate() {
		stopID := stu.GetStopId()
		if stopID == "" {
			result.Dropped++
			continue
		}

		update := models.LiveUpdate{
			TripID:     tripID,
			StopID:     stopID,
			Status:     models.StatusOnTime,
			ObservedAt: observed,
		}
		switch stu.GetScheduleRelationship() {
		case gtfsrt.TripUpdate_StopTimeUpdate_SKIPPED:
			update.Status = models.StatusSkipped
		case gtfsrt.TripUpdate_StopTimeUpdate_NO_DATA:
			continue
		default:
			update.DelaySecs = int(stopTimeDelay(stu))
		}

		if f.writeLive(ctx, liveKey(tripID, stopID), update) {
			result.Updated++
		} else {
			result.Dropped++
		}
	}
}

// mergeCancelled records a whole-trip cancellation under the trip's wildcard
// key, covering every stop the trip would have served.
func (f *LiveFeed) mergeCancelled(ctx context.Context, version string, tu *gtfsrt.TripUpdate, observed time.Time, result *PollResult) {
	tripID := tu.GetTrip().GetTripId()
	if tripID == "" || !f.tripKnown(ctx, version, tripID) {
		result.Dropped++
		return
	}
	update := models.LiveUpdate{
		TripID:     tripID,
		StopID:     wholeTrip,
		Status:     models.StatusCancelled,
		ObservedAt: observed,
	}
	if f.writeLive(ctx, liveKey(tripID, wholeTrip), update) {
		result.Updated++
	} else {
		result.Dropped++
	}
}

// mergeAdded handles trips with no static schedule: each stop time update
// with a usable stop and arrival time becomes a passthrough record, indexed
// by stop so queries can discover it.
func (f *LiveFeed) mergeAdded(ctx context.Context, tu *gtfsrt.TripUpdate, observed time.Time, result *PollResult) {
	tripID := tu.GetTrip().GetTripId()
	if tripID == "" {
		result.Dropped++
		return
	}
	routeID := tu.GetTrip().GetRouteId()

	for _, stu := range tu.GetStopTimeUpdate() {
		stopID := stu.GetStopId()
		arrival := stu.GetArrival().GetTime()
		if stopID == "" || arrival == 0 {
			result.Dropped++
			continue
		}
		update := models.LiveUpdate{
			TripID:           tripID,
			StopID:           stopID,
			Status:           models.StatusAdded,
			ObservedAt:       observed,
			RouteID:          routeID,
			RouteName:        routeID,
			PredictedArrival: arrival,
		}
		if !f.writeLive(ctx, liveKey(tripID, stopID), update) {
			result.Dropped++
			continue
		}
		if err := f.store.AddToSet(ctx, nsLiveAdded, addedSetKey(stopID), tripID); err != nil {
			logging.LogError(f.logger, "failed to index added trip", err,
				slog.String("trip_id", tripID), slog.String("stop_id", stopID))
			result.Dropped++
			continue
		}
		result.Updated++
	}
}

func (f *LiveFeed) tripKnown(ctx context.Context, version, tripID string) bool {
	_, err := f.store.Get(ctx, VersionedNamespace(nsTrips, version), tripID)
	return err == nil
}

func (f *LiveFeed) writeLive(ctx context.Context, key string, update models.LiveUpdate) bool {
	data, err := json.Marshal(update)
	if err != nil {
		logging.LogError(f.logger, "failed to encode live update", err, slog.String("key", key))
		return false
	}
	if err := f.store.Set(ctx, nsLive, key, data); err != nil {
		logging.LogError(f.logger, "failed to write live update", err, slog.String("key", key))
		return false
	}
	return true
}

// stopTimeDelay prefers the arrival event's delay, then the departure's.
func stopTimeDelay(stu *gtfsrt.TripUpdate_StopTimeUpdate) int32 {
	if arr := stu.GetArrival(); arr != nil && arr.Delay != nil {
		return arr.GetDelay()
	}
	if dep := stu.GetDeparture(); dep != nil && dep.Delay != nil {
		return dep.GetDelay()
	}
	return 0
}
