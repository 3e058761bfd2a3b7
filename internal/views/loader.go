// Package views builds cached views from the backing store and
// refetches them when the sync engine falls back to invalidation. It is
// the read path the rendering layer sits on: load once, then observe
// cache.* bus events.
package views

import (
	"context"

	"github.com/lingora/portal/internal/bus"
	"github.com/lingora/portal/internal/cache"
	"github.com/lingora/portal/internal/chat"
	"github.com/lingora/portal/internal/store"
	"go.uber.org/zap"
)

// Loader fetches paginated views for one viewer.
type Loader struct {
	db       *store.DB
	cache    *cache.Store
	bus      *bus.Bus
	viewerID string
	pageSize int
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewLoader creates a loader. pageSize <= 0 falls back to 50.
func NewLoader(db *store.DB, c *cache.Store, b *bus.Bus, viewerID string, pageSize int, logger *zap.Logger) *Loader {
	if pageSize <= 0 {
		pageSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{db: db, cache: c, bus: b, viewerID: viewerID, pageSize: pageSize, logger: logger}
}

// LoadCohortMessages fetches the newest window of a cohort's message
// stream into the cache as page 0.
func (l *Loader) LoadCohortMessages(ctx context.Context, cohortID string) error {
	w, err := l.db.ThreadMessages(ctx, cohortID, l.pageSize)
	if err != nil {
		return err
	}

	items := make([]chat.Message, len(w.Messages))
	for i, r := range w.Messages {
		items[i] = chat.Message{
			ID:          r.ID,
			ThreadID:    r.ThreadID,
			SenderID:    r.SenderID,
			SenderName:  r.SenderName,
			Body:        r.Body,
			State:       chat.StateConfirmed,
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
			EditedAt:    r.EditedAt,
			DeletedAt:   r.DeletedAt,
			Attachments: r.Attachments,
		}
	}

	key := cache.Key{Kind: cache.KindCohortMessages, ID: cohortID}
	cache.Put(l.cache, key, cache.View[chat.Message]{
		Pages: []cache.Page[chat.Message]{{Items: items, HasMore: w.HasMore, Total: w.Total}},
	})
	return nil
}

// LoadConversations fetches the viewer's conversation list into the
// cache.
func (l *Loader) LoadConversations(ctx context.Context) error {
	list, err := l.db.ConversationsForUser(ctx, l.viewerID, l.pageSize)
	if err != nil {
		return err
	}

	key := cache.Key{Kind: cache.KindConversations, ID: l.viewerID}
	cache.Put(l.cache, key, cache.View[chat.ConversationSummary]{
		Pages: []cache.Page[chat.ConversationSummary]{{
			Items:   list.Conversations,
			HasMore: list.HasMore,
			Total:   list.Total,
		}},
	})
	return nil
}

// Start watches for invalidations and refetches the affected view, so
// the fallback path self-heals without the rendering layer doing
// anything.
func (l *Loader) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	sub := l.bus.Subscribe(bus.KindCacheInvalidated, 64)

	go func() {
		defer sub.Close()
		for {
			select {
			case evt := <-sub.C:
				key, ok := evt.Payload.(cache.Key)
				if !ok {
					continue
				}
				l.refetch(ctx, key)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the invalidation watcher.
func (l *Loader) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Loader) refetch(ctx context.Context, key cache.Key) {
	var err error
	switch key.Kind {
	case cache.KindCohortMessages:
		err = l.LoadCohortMessages(ctx, key.ID)
	case cache.KindConversations:
		if key.ID != l.viewerID {
			return
		}
		err = l.LoadConversations(ctx)
	default:
		return
	}
	if err != nil {
		l.logger.Error("view refetch failed", zap.String("view", key.String()), zap.Error(err))
		return
	}
	l.logger.Info("view refetched", zap.String("view", key.String()))
}
