package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus with namespace-prefix
// filtering. Delivery is non-blocking: a subscriber that falls behind
// loses events rather than stalling publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*Subscription
	next int
}

// Subscription is a live bus subscription. Events arrive on C until
// Close is called.
type Subscription struct {
	C chan Event

	namespace string
	id        int
	bus       *Bus
	once      sync.Once
}

// Close removes the subscription from the bus. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Publish delivers evt to every subscription whose namespace is a prefix
// of evt.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.C <- evt:
			default:
				// Subscriber buffer full; drop.
			}
		}
	}
}

// Subscribe registers a subscription for all events whose kind starts
// with namespace. bufSize controls the channel buffer.
func (b *Bus) Subscribe(namespace string, bufSize int) *Subscription {
	sub := &Subscription{
		C:         make(chan Event, bufSize),
		namespace: namespace,
		bus:       b,
	}
	b.mu.Lock()
	sub.id = b.next
	b.next++
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}
