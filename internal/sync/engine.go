package sync

import (
	"context"

	"github.com/lingora/portal/internal/cache"
	"github.com/lingora/portal/internal/chat"
	"github.com/lingora/portal/internal/feed"
	"go.uber.org/zap"
)

// Projector resolves the fully-joined projection of a changed row from
// the backing store. Absence (nil message, false membership) and errors
// are treated identically by the engine: cannot resolve, fall back.
type Projector interface {
	MessageByID(ctx context.Context, id string) (*chat.Message, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Liveness reports whether the subscription that delivered an event is
// still active. It is captured at subscribe time and checked after
// every suspension point, so a resolution that completes after its
// channel closed never touches the cache. A nil Liveness is always
// live (direct library use without a channel).
type Liveness func() bool

func alive(l Liveness) bool { return l == nil || l() }

// Engine merges change notifications into cached views. Every failure
// path ends in a no-op or an invalidation; nothing propagates to the
// rendering layer.
type Engine struct {
	cache    *cache.Store
	proj     Projector
	viewerID string
	logger   *zap.Logger
}

// NewEngine creates an engine for one viewer.
func NewEngine(c *cache.Store, proj Projector, viewerID string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cache: c, proj: proj, viewerID: viewerID, logger: logger}
}

// Dispatch routes a change notification to the matching handler.
func (e *Engine) Dispatch(ctx context.Context, live Liveness, n feed.Notification) {
	switch n.Table {
	case feed.TableCohortMessages:
		row, err := feed.ParseMessageRow(n)
		if err != nil {
			e.logger.Warn("bad cohort message notification", zap.Error(err))
			return
		}
		switch n.Op {
		case feed.OpInsert:
			e.OnMessageInserted(ctx, live, row.ThreadID(), row.ID)
		case feed.OpUpdate:
			e.OnMessageUpdated(live, row.ThreadID(), row.ID, row.Patch())
		}
	case feed.TableDirectMessages:
		row, err := feed.ParseMessageRow(n)
		if err != nil {
			e.logger.Warn("bad direct message notification", zap.Error(err))
			return
		}
		if n.Op == feed.OpInsert {
			e.OnDirectMessageInserted(ctx, live, row.ConversationID, row.ID)
		}
	case feed.TableConversations:
		if n.Op == feed.OpInsert {
			row, err := feed.ParseConversationRow(n)
			if err != nil {
				e.logger.Warn("bad conversation notification", zap.Error(err))
				return
			}
			e.OnConversationInserted(live, row.ID)
		}
	}
}

// OnMessageInserted resolves the inserted row and merges it into the
// cohort's message view. Resolution failure invalidates the view: a
// visible message must never silently go missing until the next
// natural refetch.
func (e *Engine) OnMessageInserted(ctx context.Context, live Liveness, cohortID, rowID string) {
	key := cache.Key{Kind: cache.KindCohortMessages, ID: cohortID}

	msg, err := e.proj.MessageByID(ctx, rowID)
	if err != nil || msg == nil {
		if !alive(live) {
			return
		}
		e.logger.Info("message resolution failed, invalidating view",
			zap.String("row_id", rowID), zap.String("view", key.String()), zap.Error(err))
		e.cache.Invalidate(key)
		return
	}
	if !alive(live) {
		return
	}

	cache.Update(e.cache, key, func(v cache.View[chat.Message]) (cache.View[chat.Message], bool) {
		return mergeMessageInsert(v, *msg)
	})
}

// OnMessageUpdated applies the row-update payload to the matching
// message wherever it appears in the cohort view. The payload is
// already complete, so there is no resolution round-trip. Absent ids
// are a structural no-op.
func (e *Engine) OnMessageUpdated(live Liveness, cohortID, rowID string, patch chat.MessagePatch) {
	if !alive(live) {
		return
	}
	key := cache.Key{Kind: cache.KindCohortMessages, ID: cohortID}
	cache.Update(e.cache, key, func(v cache.View[chat.Message]) (cache.View[chat.Message], bool) {
		return applyMessagePatch(v, rowID, patch)
	})
}

// OnDirectMessageInserted maintains the viewer's conversation list for
// an inbound direct message. Membership is checked first and fails
// closed: direct-message events are filtered server-side by table, not
// by viewer, so activity must never leak to a non-participant. A
// conversation outside the materialized window falls back to
// invalidation rather than synthesizing an entry locally.
func (e *Engine) OnDirectMessageInserted(ctx context.Context, live Liveness, conversationID, rowID string) {
	key := cache.Key{Kind: cache.KindConversations, ID: e.viewerID}

	ok, err := e.proj.IsParticipant(ctx, conversationID, e.viewerID)
	if err != nil {
		e.logger.Debug("membership check failed, treating as non-participant",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	msg, err := e.proj.MessageByID(ctx, rowID)
	if err != nil || msg == nil {
		if !alive(live) {
			return
		}
		e.logger.Info("direct message resolution failed, invalidating view",
			zap.String("row_id", rowID), zap.Error(err))
		e.cache.Invalidate(key)
		return
	}
	if !alive(live) {
		return
	}

	found := false
	cache.Update(e.cache, key, func(v cache.View[chat.ConversationSummary]) (cache.View[chat.ConversationSummary], bool) {
		next, merged := mergeConversationMessage(v, *msg, e.viewerID)
		found = merged
		return next, merged
	})
	if !found {
		e.cache.Invalidate(key)
	}
}

// OnConversationInserted always invalidates: a brand-new conversation's
// membership and ordering position cannot be assembled from the raw
// notification alone.
func (e *Engine) OnConversationInserted(live Liveness, conversationID string) {
	if !alive(live) {
		return
	}
	e.logger.Info("new conversation, invalidating list", zap.String("conversation_id", conversationID))
	e.cache.Invalidate(cache.Key{Kind: cache.KindConversations, ID: e.viewerID})
}

// StagePending inserts an optimistic placeholder into page 0 of the
// target view. The confirmed insert notification later reconciles it by
// (sender, body). Returns false when the view is not materialized.
func (e *Engine) StagePending(key cache.Key, msg chat.Message) bool {
	msg.State = chat.StatePending
	return cache.Update(e.cache, key, func(v cache.View[chat.Message]) (cache.View[chat.Message], bool) {
		return stagePending(v, msg)
	})
}

// DropPending removes a staged placeholder whose send failed.
func (e *Engine) DropPending(key cache.Key, clientID string) bool {
	return cache.Update(e.cache, key, func(v cache.View[chat.Message]) (cache.View[chat.Message], bool) {
		return dropPending(v, clientID)
	})
}
