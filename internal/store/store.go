// Package store provides a namespaced key/value and set store with
// per-namespace expiry rules and two interchangeable backends: an in-process
// map for single-instance deployments and Redis for deployments where several
// service processes share one copy of the static dataset.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("store: key not found")

	// ErrUnavailable wraps backend transport failures. The store never
	// retries; callers decide whether to retry or degrade to stale reads.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// ExpiryPolicy controls how a namespace treats key lifetimes.
type ExpiryPolicy int

const (
	// NoExpiry keeps keys until they are deleted or the namespace is cleared.
	NoExpiry ExpiryPolicy = iota

	// FixedTTL starts the clock when a key is first created; overwrites do
	// not extend the deadline.
	FixedTTL

	// RefreshOnWrite resets the deadline on every write, so keys live only
	// as long as something keeps writing them.
	RefreshOnWrite
)

// NamespaceRule is the expiry rule declared for one logical namespace.
type NamespaceRule struct {
	Policy ExpiryPolicy
	TTL    time.Duration
}

// Rules maps logical namespace names to their expiry rules. Namespaces
// without a rule default to NoExpiry.
type Rules map[string]NamespaceRule

// LogicalNamespace strips the version suffix from a namespace name, so
// "stops@ab12" resolves rules declared for "stops".
func LogicalNamespace(namespace string) string {
	if i := strings.IndexByte(namespace, '@'); i >= 0 {
		return namespace[:i]
	}
	return namespace
}

// For returns the rule for a (possibly versioned) namespace.
func (r Rules) For(namespace string) NamespaceRule {
	return r[LogicalNamespace(namespace)]
}

// Store is the capability shared by both backends. Values are opaque bytes;
// callers own serialization. Set members are strings and SetMembers returns
// them sorted, so observable behavior does not depend on the backend.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	// SetWithTTL overrides the namespace rule for this one key.
	SetWithTTL(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error

	AddToSet(ctx context.Context, namespace, setKey, member string) error
	RemoveFromSet(ctx context.Context, namespace, setKey, member string) error
	SetMembers(ctx context.Context, namespace, setKey string) ([]string, error)
	HasMember(ctx context.Context, namespace, setKey, member string) (bool, error)

	// ClearNamespace removes every key and set under a namespace. Used when
	// discarding a superseded snapshot version.
	ClearNamespace(ctx context.Context, namespace string) error

	Ping(ctx context.Context) error
	Close() error
}
