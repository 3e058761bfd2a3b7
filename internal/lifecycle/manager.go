package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lingora/portal/internal/bus"
	"github.com/lingora/portal/internal/cache"
	"github.com/lingora/portal/internal/feed"
	"go.uber.org/zap"
)

// Subscription describes one live channel request: the cached view it
// maintains, the tables it wants, and server-side filters (cohort_id
// for cohort message streams). After resumes from a feed cursor.
type Subscription struct {
	Key     cache.Key
	Tables  []feed.Table
	Filters map[string]string
	After   string
}

// Stream is one open change-feed connection. *feed.Client satisfies it.
type Stream interface {
	Events() <-chan feed.Notification
	Errs() <-chan error
	Close() error
}

// Transport opens change-feed streams.
type Transport interface {
	Open(ctx context.Context, sub Subscription) (Stream, error)
}

// Handler receives notifications from a channel's pump together with
// the channel's view key and liveness flag, captured at subscribe time.
type Handler func(ctx context.Context, live func() bool, key cache.Key, n feed.Notification)

// Channel is one live subscription instance.
type Channel struct {
	key    cache.Key
	mu     sync.Mutex
	state  State
	live   atomic.Bool
	stream Stream
}

// Key returns the view key this channel maintains.
func (c *Channel) Key() cache.Key { return c.key }

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Alive reports whether results produced for this channel may still be
// applied to the cache.
func (c *Channel) Alive() bool { return c.live.Load() }

// Manager owns every live channel, keyed by (view kind, view key).
// Open is create-or-reuse: at most one channel exists per key. There is
// no retry or backoff here; after an error the next activation opens a
// fresh channel.
type Manager struct {
	transport Transport
	handler   Handler
	cache     *cache.Store
	bus       *bus.Bus
	logger    *zap.Logger

	mu       sync.Mutex
	channels map[cache.Key]*Channel
}

// NewManager creates a manager. handler must not be nil.
func NewManager(t Transport, h Handler, c *cache.Store, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		transport: t,
		handler:   h,
		cache:     c,
		bus:       b,
		logger:    logger,
		channels:  make(map[cache.Key]*Channel),
	}
}

// Open returns the existing channel for sub.Key, or opens a new one.
// A repeat request while a channel is opening or open returns the same
// handle without touching the transport.
func (m *Manager) Open(ctx context.Context, sub Subscription) (*Channel, error) {
	m.mu.Lock()
	if ch, ok := m.channels[sub.Key]; ok {
		m.mu.Unlock()
		return ch, nil
	}
	ch := &Channel{key: sub.Key, state: Closed}
	_ = ch.transition(Opening)
	m.channels[sub.Key] = ch
	m.mu.Unlock()

	stream, err := m.transport.Open(ctx, sub)
	if err != nil {
		_ = ch.transition(Closed)
		m.remove(ch)
		return nil, err
	}

	ch.mu.Lock()
	ch.stream = stream
	ch.mu.Unlock()
	_ = ch.transition(Open)
	ch.live.Store(true)

	m.logger.Info("channel opened", zap.String("view", sub.Key.String()))
	m.publish(bus.KindChannelOpened, sub.Key)
	go m.pump(ctx, ch, stream)
	return ch, nil
}

func (m *Manager) remove(ch *Channel) {
	m.mu.Lock()
	if cur, ok := m.channels[ch.key]; ok && cur == ch {
		delete(m.channels, ch.key)
	}
	m.mu.Unlock()
}

// Close tears down the channel for key. In-flight resolutions complete
// but their results are discarded via the liveness flag.
func (m *Manager) Close(key cache.Key) {
	m.mu.Lock()
	ch, ok := m.channels[key]
	if ok {
		delete(m.channels, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	ch.live.Store(false)
	_ = ch.transition(Closed)
	ch.mu.Lock()
	stream := ch.stream
	ch.mu.Unlock()
	if stream != nil {
		_ = stream.Close()
	}
	m.logger.Info("channel closed", zap.String("view", key.String()))
	m.publish(bus.KindChannelClosed, key)
}

// CloseAll tears down every channel (process shutdown).
func (m *Manager) CloseAll() {
	m.mu.Lock()
	keys := make([]cache.Key, 0, len(m.channels))
	for k := range m.channels {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	for _, k := range keys {
		m.Close(k)
	}
}

// Get returns the channel for key, if one exists.
func (m *Manager) Get(key cache.Key) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[key]
	return ch, ok
}

func (m *Manager) pump(ctx context.Context, ch *Channel, stream Stream) {
	live := ch.Alive
	for {
		select {
		case n, ok := <-stream.Events():
			if !ok {
				return
			}
			m.handler(ctx, live, ch.key, n)
		case err := <-stream.Errs():
			m.fail(ch, err)
			return
		case <-ctx.Done():
			return
		}
	}
}

// fail handles a transport-level channel error: one-shot invalidation
// of the view plus teardown. No automatic reopen.
func (m *Manager) fail(ch *Channel, err error) {
	m.mu.Lock()
	cur, ok := m.channels[ch.key]
	if ok && cur == ch {
		delete(m.channels, ch.key)
	}
	m.mu.Unlock()
	if !ok || cur != ch {
		return // already closed by the owner
	}

	m.logger.Warn("channel error, invalidating view",
		zap.String("view", ch.key.String()), zap.Error(err))
	ch.live.Store(false)
	_ = ch.transition(Errored)
	_ = ch.transition(Closed)
	ch.mu.Lock()
	stream := ch.stream
	ch.mu.Unlock()
	if stream != nil {
		_ = stream.Close()
	}
	m.cache.Invalidate(ch.key)
	m.publish(bus.KindChannelError, ch.key)
}

func (m *Manager) publish(kind string, k cache.Key) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: k})
}
