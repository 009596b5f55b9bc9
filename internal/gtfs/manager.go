package gtfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"stopboard.transitkit.org/internal/logging"
	"stopboard.transitkit.org/internal/models"
	"stopboard.transitkit.org/internal/store"
)

// Manager owns the adopted snapshot version. Queries take the read lock for
// their whole read so every key they touch comes from one version; Adopt
// holds the write lock only for the pointer swap.
type Manager struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	version string
	meta    models.SnapshotMeta
}

// NewManager returns a manager with no snapshot adopted yet.
func NewManager(st store.Store, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{store: st, cfg: cfg, logger: logger}
}

// Version returns the adopted snapshot version, empty if none.
func (m *Manager) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// CurrentMeta returns the adopted snapshot's metadata.
func (m *Manager) CurrentMeta() (models.SnapshotMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta, m.version != ""
}

// Adopt reads the store's current-version pointer and switches to it if it
// differs from the adopted version. Returns whether a switch happened. The
// superseded version's namespaces are cleared after the swap; in-flight
// queries that started before the swap have already finished their reads.
func (m *Manager) Adopt(ctx context.Context) (bool, error) {
	raw, err := m.store.Get(ctx, nsMeta, metaCurrentKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrNoSnapshot
		}
		return false, fmt.Errorf("reading current version: %w", err)
	}
	next := string(raw)

	metaRaw, err := m.store.Get(ctx, nsMeta, metaSnapshotPrefix+next)
	if err != nil {
		return false, fmt.Errorf("reading snapshot meta %s: %w", next, err)
	}
	var meta models.SnapshotMeta
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return false, &ValidationError{Reason: "decoding snapshot meta", Err: err}
	}
	if err := (&Snapshot{Meta: meta}).Validate(m.cfg); err != nil {
		return false, err
	}

	m.mu.Lock()
	if next == m.version {
		// Same content, but a re-publish may carry a newer freshness tag;
		// keep the cached meta current so the checker does not keep
		// rebuilding an up-to-date snapshot.
		m.meta = meta
		m.mu.Unlock()
		return false, nil
	}
	previous := m.version
	m.version = next
	m.meta = meta
	m.mu.Unlock()

	logging.LogOperation(m.logger, "snapshot_adopted",
		slog.String("version", next),
		slog.String("previous", previous))

	if previous != "" {
		m.clearVersion(ctx, previous)
	}
	return true, nil
}

// clearVersion removes the static namespaces of a superseded version. Errors
// only cost storage, so they are logged and not returned.
func (m *Manager) clearVersion(ctx context.Context, version string) {
	for _, ns := range staticNamespaces {
		if err := m.store.ClearNamespace(ctx, VersionedNamespace(ns, version)); err != nil {
			logging.LogError(m.logger, "failed to clear superseded namespace", err,
				slog.String("namespace", VersionedNamespace(ns, version)))
		}
	}
	if err := m.store.Delete(ctx, nsMeta, metaSnapshotPrefix+version); err != nil {
		logging.LogError(m.logger, "failed to delete superseded snapshot meta", err,
			slog.String("version", version))
	}
}

// StopByID looks up a stop record in the adopted snapshot.
func (m *Manager) StopByID(ctx context.Context, id string) (models.Stop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.version == "" {
		return models.Stop{}, ErrNoSnapshot
	}
	var stop models.Stop
	if err := m.getJSON(ctx, VersionedNamespace(nsStops, m.version), id, &stop); err != nil {
		return models.Stop{}, err
	}
	return stop, nil
}

func (m *Manager) getJSON(ctx context.Context, namespace, key string, out any) error {
	raw, err := m.store.Get(ctx, namespace, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ValidationError{Reason: fmt.Sprintf("decoding %s/%s", namespace, key), Err: err}
	}
	return nil
}
