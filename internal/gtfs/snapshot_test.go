package gtfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamespfennell/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stopboard.transitkit.org/internal/store"
)

func parseFixture(t *testing.T) *gtfs.Static {
	t.Helper()
	static, err := gtfs.ParseStatic(buildFeedZip(t, fixtureFeedFiles()), gtfs.ParseStaticOptions{})
	require.NoError(t, err)
	return static
}

func stopIDs(snap *Snapshot) []string {
	ids := make([]string, 0, len(snap.Stops))
	for _, s := range snap.Stops {
		ids = append(ids, s.ID)
	}
	return ids
}

func tripIDs(snap *Snapshot) []string {
	ids := make([]string, 0, len(snap.Trips))
	for _, tr := range snap.Trips {
		ids = append(ids, tr.ID)
	}
	return ids
}

func TestBuildSnapshotKeepsWholeFeedWithoutFilter(t *testing.T) {
	snap := BuildSnapshot(parseFixture(t), "fp", "tag", nil)

	assert.Equal(t, []string{"2189", "2200", "3000"}, stopIDs(snap))
	assert.Equal(t, []string{"T1", "T2", "TX"}, tripIDs(snap))
	assert.Len(t, snap.Routes, 2)
	assert.Len(t, snap.Calendars, 1)
}

func TestBuildSnapshotFilterClosure(t *testing.T) {
	snap := BuildSnapshot(parseFixture(t), "fp", "tag", []string{"2189"})

	// Trips calling at 2189 bring every stop they visit; route 51's trip
	// and its stop vanish entirely.
	assert.Equal(t, []string{"T1", "T2"}, tripIDs(snap))
	assert.Equal(t, []string{"2189", "2200"}, stopIDs(snap))
	require.Len(t, snap.Routes, 1)
	assert.Equal(t, "R27", snap.Routes[0].ID)

	assert.Contains(t, snap.StopTimes, "2200")
	assert.NotContains(t, snap.StopTimes, "3000")
}

func TestBuildSnapshotFilterMatchesStopCode(t *testing.T) {
	files := fixtureFeedFiles()
	files["stops.txt"] = "stop_id,stop_code,stop_name,stop_lat,stop_lon\n" +
		"S-2189,2189,Main St & 5th,40.11,-88.22\n" +
		"2200,2200,Main St & 7th,40.12,-88.23\n" +
		"3000,3000,Terminal Dr,40.20,-88.30\n"
	files["stop_times.txt"] = "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,08:00:00,08:00:00,S-2189,1\n" +
		"T2,08:40:00,08:40:00,S-2189,1\n" +
		"TX,08:05:00,08:05:00,3000,1\n"
	static, err := gtfs.ParseStatic(buildFeedZip(t, files), gtfs.ParseStaticOptions{})
	require.NoError(t, err)

	snap := BuildSnapshot(static, "fp", "", []string{"2189"})
	assert.Equal(t, []string{"S-2189"}, stopIDs(snap))
	assert.Equal(t, []string{"T1", "T2"}, tripIDs(snap))
}

func TestBuildSnapshotDeterministic(t *testing.T) {
	a := BuildSnapshot(parseFixture(t), "fp", "tag-a", []string{"2189"})
	b := BuildSnapshot(parseFixture(t), "fp", "tag-b", []string{"2189"})

	// The remote tag is freshness metadata, not identity.
	assert.Equal(t, a.Meta.Version, b.Meta.Version)
	assert.Equal(t, a.Stops, b.Stops)
	assert.Equal(t, a.Routes, b.Routes)
	assert.Equal(t, a.Trips, b.Trips)
	assert.Equal(t, a.Calendars, b.Calendars)
	assert.Equal(t, a.StopTimes, b.StopTimes)
}

func TestSnapshotVersionInputs(t *testing.T) {
	base := snapshotVersion("fp", []string{"2189"})
	assert.Equal(t, base, snapshotVersion("fp", []string{"2189"}))
	assert.NotEqual(t, base, snapshotVersion("fp2", []string{"2189"}))
	assert.NotEqual(t, base, snapshotVersion("fp", []string{"2189", "2200"}))
	assert.Len(t, base, 12)
}

func TestBundleRoundTrip(t *testing.T) {
	snap := fixtureSnapshot([]string{"2189"})
	path := filepath.Join(t.TempDir(), "snapshot.gob")

	require.NoError(t, WriteBundle(snap, path))
	loaded, err := ReadBundle(path)
	require.NoError(t, err)

	assert.Equal(t, snap.Meta, loaded.Meta)
	assert.Equal(t, snap.Stops, loaded.Stops)
	assert.Equal(t, snap.StopTimes, loaded.StopTimes)
}

func TestReadBundleMissing(t *testing.T) {
	_, err := ReadBundle(filepath.Join(t.TempDir(), "absent.gob"))
	assert.Error(t, err)
}

func TestSnapshotValidate(t *testing.T) {
	snap := fixtureSnapshot([]string{"2189"})

	cfg := testConfig(t)
	cfg.StopFilter = []string{"2189"}
	assert.NoError(t, snap.Validate(cfg))

	cfg.StopFilter = []string{"2189", "2200"}
	assert.ErrorIs(t, snap.Validate(cfg), ErrSnapshotMismatch)

	cfg.StopFilter = []string{"2189"}
	snap.Meta.FormatVersion = FormatVersion + 1
	assert.ErrorIs(t, snap.Validate(cfg), ErrSnapshotMismatch)
}

func TestPublishAndAdopt(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.StopFilter = []string{"2189"}
	snap := fixtureSnapshot([]string{"2189"})
	m, st := newTestManager(t, snap, cfg)

	assert.Equal(t, snap.Meta.Version, m.Version())
	meta, ok := m.CurrentMeta()
	require.True(t, ok)
	assert.Equal(t, snap.Meta, meta)

	stop, err := m.StopByID(ctx, "2189")
	require.NoError(t, err)
	assert.Equal(t, "Main St & 5th", stop.Name)

	known, err := st.HasMember(ctx, VersionedNamespace(nsStopIDs, snap.Meta.Version), stopIDsSetKey, "2189")
	require.NoError(t, err)
	assert.True(t, known)

	// Re-adopting the same version is a no-op.
	changed, err := m.Adopt(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestAdoptWithoutSnapshot(t *testing.T) {
	cfg := testConfig(t)
	st := store.NewMemoryStore(DefaultRules(cfg))
	m := NewManager(st, cfg, testLogger())

	_, err := m.Adopt(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.Equal(t, "", m.Version())
}

func TestAdoptRejectsMismatchedSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.StopFilter = []string{"2200"}
	snap := fixtureSnapshot([]string{"2189"})

	st := store.NewMemoryStore(DefaultRules(cfg))
	require.NoError(t, snap.Publish(context.Background(), st))
	m := NewManager(st, cfg, testLogger())

	_, err := m.Adopt(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotMismatch)
	assert.Equal(t, "", m.Version())
}

func TestAdoptClearsSupersededVersion(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	first := fixtureSnapshot(nil)
	m, st := newTestManager(t, first, cfg)

	second := fixtureSnapshot(nil)
	second.Meta.Fingerprint = "second-fingerprint"
	second.Meta.Version = snapshotVersion(second.Meta.Fingerprint, nil)
	for i := range second.Stops {
		second.Stops[i].Name += " (v2)"
	}
	require.NoError(t, second.Publish(ctx, st))

	changed, err := m.Adopt(ctx)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, second.Meta.Version, m.Version())

	stop, err := m.StopByID(ctx, "2189")
	require.NoError(t, err)
	assert.Equal(t, "Main St & 5th (v2)", stop.Name)

	_, err = st.Get(ctx, VersionedNamespace(nsStops, first.Meta.Version), "2189")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(ctx, nsMeta, metaSnapshotPrefix+first.Meta.Version)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoadFromLocalFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.StaticURL = writeFeedFile(t, fixtureFeedFiles())
	cfg.StopFilter = []string{"2189"}

	snap, err := Load(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2"}, tripIDs(snap))
	assert.NotEmpty(t, snap.Meta.Fingerprint)
	assert.NotEmpty(t, snap.Meta.RemoteTag)
	assert.Equal(t, []string{"2189"}, snap.Meta.StopFilter)

	// Same bytes, same filter: same version.
	again, err := Load(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, snap.Meta.Version, again.Meta.Version)
}

func TestLoadRejectsGarbage(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "bogus.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip"), 0o644))
	cfg.StaticURL = path

	_, err := Load(context.Background(), cfg)
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestLoadMissingFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.StaticURL = filepath.Join(t.TempDir(), "absent.zip")

	_, err := Load(context.Background(), cfg)
	var fErr *FetchError
	assert.ErrorAs(t, err, &fErr)
}

func TestCanonicalFilter(t *testing.T) {
	cfg := Config{StopFilter: []string{" 2200", "2189", "2189", "", "0100"}}
	assert.Equal(t, []string{"0100", "2189", "2200"}, cfg.CanonicalFilter())

	assert.Empty(t, Config{}.CanonicalFilter())
}
