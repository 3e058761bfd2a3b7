package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lingora/portal/internal/bus"
	"github.com/lingora/portal/internal/cache"
	"github.com/lingora/portal/internal/chat"
	"github.com/lingora/portal/internal/store"
	intsync "github.com/lingora/portal/internal/sync"
	"go.uber.org/zap"
)

// MessageSender performs the actual send against the backing store.
type MessageSender interface {
	SendMessage(ctx context.Context, threadID string, kind store.ThreadKind, body string) (serverMsgID string, err error)
}

// Sender drains the durable outbox. Cohort messages are staged as
// pending placeholders in the cached view before the send; the change
// feed's confirmed insert later reconciles the placeholder by
// (sender, body). Failed sends drop the placeholder again.
type Sender struct {
	db         *store.DB
	engine     *intsync.Engine
	sender     MessageSender
	bus        *bus.Bus
	viewerID   string
	viewerName string
	logger     *zap.Logger
	cancel     context.CancelFunc
}

// NewSender creates an outbox sender for one viewer.
func NewSender(db *store.DB, engine *intsync.Engine, sender MessageSender, b *bus.Bus, viewerID, viewerName string, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:         db,
		engine:     engine,
		sender:     sender,
		bus:        b,
		viewerID:   viewerID,
		viewerName: viewerName,
		logger:     logger,
	}
}

// Queue adds an outgoing message and returns its client id.
func (s *Sender) Queue(threadID string, kind store.ThreadKind, body string) (string, error) {
	clientID := uuid.New().String()
	if err := s.db.QueueOutbox(clientID, threadID, kind, body); err != nil {
		return "", err
	}
	s.publish(bus.KindOutboxQueued, clientID)
	return clientID, nil
}

// Start begins polling the outbox for queued messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		var viewKey cache.Key
		staged := false
		if entry.Kind == store.ThreadCohort {
			viewKey = cache.Key{Kind: cache.KindCohortMessages, ID: entry.ThreadID}
			now := time.Now().UnixMilli()
			staged = s.engine.StagePending(viewKey, chat.Message{
				ID:         entry.ClientMsgID,
				ThreadID:   entry.ThreadID,
				SenderID:   s.viewerID,
				SenderName: s.viewerName,
				Body:       entry.Body,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}

		serverMsgID, err := s.sender.SendMessage(ctx, entry.ThreadID, entry.Kind, entry.Body)
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			if staged {
				s.engine.DropPending(viewKey, entry.ClientMsgID)
			}
			s.publish(bus.KindOutboxFailed, entry.ClientMsgID)
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		s.logger.Info("message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("server_msg_id", serverMsgID))
		s.publish(bus.KindOutboxSent, entry.ClientMsgID)
	}
}

func (s *Sender) publish(kind, clientMsgID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: clientMsgID})
}
