package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type memorySet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// MemoryStore holds all namespaces in process memory. Suitable for a single
// service process owning a single snapshot; contents do not survive restarts
// except through the snapshot bundle on disk.
type MemoryStore struct {
	rules Rules

	mu   sync.RWMutex
	data map[string]map[string]memoryEntry
	sets map[string]map[string]*memorySet

	now func() time.Time
}

// NewMemoryStore returns an empty in-process store with the given namespace
// rules.
func NewMemoryStore(rules Rules) *MemoryStore {
	return &MemoryStore{
		rules: rules,
		data:  make(map[string]map[string]memoryEntry),
		sets:  make(map[string]map[string]*memorySet),
		now:   time.Now,
	}
}

func (s *MemoryStore) expired(deadline time.Time) bool {
	return !deadline.IsZero() && !s.now().Before(deadline)
}

// deadlineOnWrite applies the namespace rule, given the deadline the key had
// before the write (zero when the key is new or had no expiry).
func (s *MemoryStore) deadlineOnWrite(namespace string, prior time.Time, existed bool) time.Time {
	rule := s.rules.For(namespace)
	switch rule.Policy {
	case FixedTTL:
		if existed && !s.expired(prior) {
			return prior
		}
		return s.now().Add(rule.TTL)
	case RefreshOnWrite:
		return s.now().Add(rule.TTL)
	default:
		return time.Time{}
	}
}

func (s *MemoryStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.data[namespace][key]
	s.mu.RUnlock()
	if !ok || s.expired(entry.expiresAt) {
		if ok {
			// Lazy removal of the expired entry.
			s.mu.Lock()
			if current, still := s.data[namespace][key]; still && s.expired(current.expiresAt) {
				delete(s.data[namespace], key)
			}
			s.mu.Unlock()
		}
		return nil, ErrNotFound
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

func (s *MemoryStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.data[namespace]
	if ns == nil {
		ns = make(map[string]memoryEntry)
		s.data[namespace] = ns
	}
	prior, existed := ns[key]
	stored := make([]byte, len(value))
	copy(stored, value)
	ns[key] = memoryEntry{
		value:     stored,
		expiresAt: s.deadlineOnWrite(namespace, prior.expiresAt, existed),
	}
	return nil
}

func (s *MemoryStore) SetWithTTL(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.data[namespace]
	if ns == nil {
		ns = make(map[string]memoryEntry)
		s.data[namespace] = ns
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	ns[key] = memoryEntry{value: stored, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[namespace], key)
	return nil
}

func (s *MemoryStore) AddToSet(ctx context.Context, namespace, setKey, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.sets[namespace]
	if ns == nil {
		ns = make(map[string]*memorySet)
		s.sets[namespace] = ns
	}
	set := ns[setKey]
	if set == nil || s.expired(set.expiresAt) {
		set = &memorySet{members: make(map[string]struct{})}
		ns[setKey] = set
	}
	existed := len(set.members) > 0
	set.members[member] = struct{}{}
	set.expiresAt = s.deadlineOnWrite(namespace, set.expiresAt, existed)
	return nil
}

func (s *MemoryStore) RemoveFromSet(ctx context.Context, namespace, setKey, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.sets[namespace][setKey]; set != nil && !s.expired(set.expiresAt) {
		delete(set.members, member)
	}
	return nil
}

func (s *MemoryStore) SetMembers(ctx context.Context, namespace, setKey string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sets[namespace][setKey]
	if set == nil || s.expired(set.expiresAt) {
		return nil, nil
	}
	members := make([]string, 0, len(set.members))
	for member := range set.members {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (s *MemoryStore) HasMember(ctx context.Context, namespace, setKey, member string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sets[namespace][setKey]
	if set == nil || s.expired(set.expiresAt) {
		return false, nil
	}
	_, ok := set.members[member]
	return ok, nil
}

func (s *MemoryStore) ClearNamespace(ctx context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, namespace)
	delete(s.sets, namespace)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
