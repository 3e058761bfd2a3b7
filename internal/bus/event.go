package bus

import "time"

// Event kinds published by the sync core. Kinds are dot-namespaced so
// subscribers can filter by prefix ("cache." for all cache events).
const (
	KindCacheUpdated     = "cache.updated"
	KindCacheInvalidated = "cache.invalidated"
	KindChannelOpened    = "channel.opened"
	KindChannelClosed    = "channel.closed"
	KindChannelError     = "channel.error"
	KindOutboxQueued     = "outbox.queued"
	KindOutboxSent       = "outbox.sent"
	KindOutboxFailed     = "outbox.failed"
)

// Event is a domain event on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
