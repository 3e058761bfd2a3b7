package cache

import (
	"sync"
	"time"

	"github.com/lingora/portal/internal/bus"
)

// Store is a process-local keyed store of paginated views. The sync
// engine is the only structural mutator; the rendering layer reads
// snapshots and listens for cache.* bus events. The mutex exists for
// those cross-goroutine reads, not for merge serialization (merges for
// one key are already serialized by their channel's pump).
type Store struct {
	mu      sync.RWMutex
	entries map[Key]*entry
	bus     *bus.Bus
}

type entry struct {
	view  any
	stale bool
}

// NewStore creates an empty store. Events are published on b if non-nil.
func NewStore(b *bus.Bus) *Store {
	return &Store{
		entries: make(map[Key]*entry),
		bus:     b,
	}
}

// Invalidate marks the view stale so the next read misses and the
// surrounding loader refetches. A missing key is a no-op.
func (s *Store) Invalidate(k Key) {
	s.mu.Lock()
	e, ok := s.entries[k]
	if ok {
		e.stale = true
	}
	s.mu.Unlock()
	if ok {
		s.publish(bus.KindCacheInvalidated, k)
	}
}

// Stale reports whether the key is present but marked stale.
func (s *Store) Stale(k Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[k]
	return ok && e.stale
}

// Drop removes the view entirely (screen unmounted, entry evicted).
func (s *Store) Drop(k Key) {
	s.mu.Lock()
	delete(s.entries, k)
	s.mu.Unlock()
}

// Keys returns the currently materialized keys.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

func (s *Store) publish(kind string, k Key) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: k})
}

// Read returns the current snapshot for k. ok is false when the view is
// absent or stale; callers then fetch from the backing store and Put.
func Read[T any](s *Store, k Key) (View[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[k]
	if !ok || e.stale {
		return View[T]{}, false
	}
	v, ok := e.view.(View[T])
	return v, ok
}

// Put stores a freshly fetched view, clearing any stale mark.
func Put[T any](s *Store, k Key, v View[T]) {
	s.mu.Lock()
	s.entries[k] = &entry{view: v}
	s.mu.Unlock()
	s.publish(bus.KindCacheUpdated, k)
}

// Update applies a pure function to the current view and stores the
// result. fn returns the next view and whether anything changed; an
// unchanged result leaves the entry untouched. Update reports whether a
// new view was stored. Absent or stale entries are not updated.
func Update[T any](s *Store, k Key, fn func(View[T]) (View[T], bool)) bool {
	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok || e.stale {
		s.mu.Unlock()
		return false
	}
	cur, ok := e.view.(View[T])
	if !ok {
		s.mu.Unlock()
		return false
	}
	next, changed := fn(cur)
	if changed {
		e.view = next
	}
	s.mu.Unlock()
	if changed {
		s.publish(bus.KindCacheUpdated, k)
	}
	return changed
}
