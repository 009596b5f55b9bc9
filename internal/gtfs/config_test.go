package gtfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"stopboard.transitkit.org/internal/store"
)

func TestLiveTTL(t *testing.T) {
	cfg := Config{PollingPeriod: 45 * time.Second}
	assert.Equal(t, 90*time.Second, cfg.LiveTTL())
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules(Config{PollingPeriod: time.Minute})

	live := rules.For("live")
	assert.Equal(t, store.RefreshOnWrite, live.Policy)
	assert.Equal(t, 2*time.Minute, live.TTL)

	// Versioned static namespaces fall through to no expiry.
	assert.Equal(t, store.NamespaceRule{}, rules.For("stops@ab12cd34ef56"))
}

func TestVersionedNamespace(t *testing.T) {
	ns := VersionedNamespace(nsTrips, "ab12cd34ef56")
	assert.Equal(t, "trips@ab12cd34ef56", ns)
	assert.Equal(t, nsTrips, store.LogicalNamespace(ns))
}
