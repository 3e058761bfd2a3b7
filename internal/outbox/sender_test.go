package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/lingora/portal/internal/bus"
	"github.com/lingora/portal/internal/cache"
	"github.com/lingora/portal/internal/chat"
	"github.com/lingora/portal/internal/store"
	intsync "github.com/lingora/portal/internal/sync"
)

type fakeSender struct {
	serverID string
	err      error
	sent     int
}

func (f *fakeSender) SendMessage(context.Context, string, store.ThreadKind, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent++
	return f.serverID, nil
}

type storeProjector struct{ db *store.DB }

func (p storeProjector) MessageByID(ctx context.Context, id string) (*chat.Message, error) {
	return p.db.MessageByID(ctx, id)
}

func (p storeProjector) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return p.db.IsParticipant(ctx, conversationID, userID)
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setup(t *testing.T, fs *fakeSender) (*Sender, *cache.Store, *store.DB, *intsync.Engine) {
	t.Helper()
	db := testDB(t)
	c := cache.NewStore(nil)
	engine := intsync.NewEngine(c, storeProjector{db}, "u1", nil)
	s := NewSender(db, engine, fs, bus.New(), "u1", "Ana", nil)

	cache.Put(c, cache.Key{Kind: cache.KindCohortMessages, ID: "coh-1"}, cache.View[chat.Message]{
		Pages: []cache.Page[chat.Message]{{Items: nil, Total: 0}},
	})
	return s, c, db, engine
}

func TestQueueStageSendConfirm(t *testing.T) {
	fs := &fakeSender{serverID: "m100"}
	s, c, db, engine := setup(t, fs)
	key := cache.Key{Kind: cache.KindCohortMessages, ID: "coh-1"}

	clientID, err := s.Queue("coh-1", store.ThreadCohort, "hello class")
	if err != nil {
		t.Fatal(err)
	}

	s.processPending(context.Background())

	if fs.sent != 1 {
		t.Fatalf("sent %d messages, want 1", fs.sent)
	}

	// The optimistic placeholder is visible until confirmation.
	v, _ := cache.Read[chat.Message](c, key)
	if len(v.Pages[0].Items) != 1 {
		t.Fatalf("page 0 = %+v, want one pending entry", v.Pages[0].Items)
	}
	if m := v.Pages[0].Items[0]; m.ID != clientID || m.State != chat.StatePending {
		t.Errorf("staged = {id:%s state:%s}", m.ID, m.State)
	}

	// The backing store writes the confirmed row; the change feed echo
	// reconciles the placeholder.
	if err := db.InsertMessage(context.Background(), "m100", "coh-1", store.ThreadCohort, "u1", "hello class"); err != nil {
		t.Fatal(err)
	}
	engine.OnMessageInserted(context.Background(), nil, "coh-1", "m100")

	v, _ = cache.Read[chat.Message](c, key)
	if len(v.Pages[0].Items) != 1 {
		t.Fatalf("page 0 = %+v, want exactly one message after reconciliation", v.Pages[0].Items)
	}
	if m := v.Pages[0].Items[0]; m.ID != "m100" || m.State != chat.StateConfirmed {
		t.Errorf("reconciled = {id:%s state:%s}, want confirmed m100", m.ID, m.State)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("outbox still pending: %+v", pending)
	}
}

func TestSendFailureDropsPlaceholder(t *testing.T) {
	fs := &fakeSender{err: errors.New("store unavailable")}
	s, c, db, _ := setup(t, fs)
	key := cache.Key{Kind: cache.KindCohortMessages, ID: "coh-1"}

	if _, err := s.Queue("coh-1", store.ThreadCohort, "doomed"); err != nil {
		t.Fatal(err)
	}
	s.processPending(context.Background())

	v, _ := cache.Read[chat.Message](c, key)
	if len(v.Pages[0].Items) != 0 {
		t.Errorf("placeholder survived a failed send: %+v", v.Pages[0].Items)
	}

	var status, errMsg string
	if err := db.QueryRow(`SELECT status, error_message FROM outbox`).Scan(&status, &errMsg); err != nil {
		t.Fatal(err)
	}
	if status != "failed" || errMsg == "" {
		t.Errorf("outbox row = %s/%q, want failed with message", status, errMsg)
	}
}

func TestDirectMessagesAreNotStaged(t *testing.T) {
	fs := &fakeSender{serverID: "m1"}
	s, c, _, _ := setup(t, fs)

	if _, err := s.Queue("c1", store.ThreadDirect, "dm"); err != nil {
		t.Fatal(err)
	}
	s.processPending(context.Background())

	if fs.sent != 1 {
		t.Fatalf("sent %d, want 1", fs.sent)
	}
	// The conversation list holds summaries, not messages; nothing to stage.
	v, _ := cache.Read[chat.Message](c, cache.Key{Kind: cache.KindCohortMessages, ID: "coh-1"})
	if len(v.Pages[0].Items) != 0 {
		t.Errorf("direct send staged into a cohort view: %+v", v.Pages[0].Items)
	}
}
