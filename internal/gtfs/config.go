package gtfs

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"stopboard.transitkit.org/internal/store"
)

// Logical namespace names. Static namespaces carry a version suffix
// ("stops@ab12cd34ef56"); live and meta namespaces do not.
const (
	nsStops     = "stops"
	nsRoutes    = "routes"
	nsTrips     = "trips"
	nsStopTimes = "stoptimes"
	nsCalendars = "calendars"
	nsStopIDs   = "stopids"
	nsLive      = "live"
	nsLiveAdded = "liveadded"
	nsMeta      = "meta"
)

// Keys within the meta namespace and the stopids set key.
const (
	metaCurrentKey     = "current"
	metaSnapshotPrefix = "snapshot:"
	stopIDsSetKey      = "ids"
)

// staticNamespaces are the namespaces written once per snapshot version.
var staticNamespaces = []string{nsStops, nsRoutes, nsTrips, nsStopTimes, nsCalendars, nsStopIDs}

// VersionedNamespace attaches a snapshot version to a logical namespace.
func VersionedNamespace(logical, version string) string {
	return logical + "@" + version
}

// Config carries everything the loader, merger and query engine need. It is
// assembled from flags and environment in cmd and passed down unchanged.
type Config struct {
	// StaticURL is the schedule archive source: an http(s) URL or a local
	// file path.
	StaticURL string

	// TripUpdatesURL is the GTFS-Realtime trip updates feed.
	TripUpdatesURL string

	// APIKey, when set, is sent as the x-api-key header on feed requests.
	APIKey string

	// DataDir holds the snapshot bundle written by the rebuild worker.
	DataDir string

	// StopFilter restricts the snapshot to these stop ids or codes. Empty
	// means keep everything.
	StopFilter []string

	// PollingPeriod is the live feed poll interval.
	PollingPeriod time.Duration

	// HorizonMinutes is the default arrivals lookahead window.
	HorizonMinutes int
}

// LiveTTL is how long a live record outlives its last write: one polling
// period plus an equal grace period.
func (c Config) LiveTTL() time.Duration {
	return 2 * c.PollingPeriod
}

// CanonicalFilter returns the stop filter trimmed, deduplicated and sorted,
// so equal filters always produce equal snapshot versions.
func (c Config) CanonicalFilter() []string {
	seen := make(map[string]struct{}, len(c.StopFilter))
	out := make([]string, 0, len(c.StopFilter))
	for _, raw := range c.StopFilter {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BundlePath is where the rebuild worker leaves the snapshot bundle.
func (c Config) BundlePath() string {
	return filepath.Join(c.DataDir, "snapshot.gob")
}

// DefaultRules declares the expiry rules for every logical namespace this
// package writes. Live records age out unless polling keeps refreshing them;
// everything else lives until its snapshot version is cleared.
func DefaultRules(c Config) store.Rules {
	return store.Rules{
		nsLive:      {Policy: store.RefreshOnWrite, TTL: c.LiveTTL()},
		nsLiveAdded: {Policy: store.RefreshOnWrite, TTL: c.LiveTTL()},
	}
}
