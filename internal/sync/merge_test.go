package sync

import (
	"testing"

	"github.com/lingora/portal/internal/cache"
	"github.com/lingora/portal/internal/chat"
)

func messageView(pages ...[]chat.Message) cache.View[chat.Message] {
	var v cache.View[chat.Message]
	for _, items := range pages {
		v.Pages = append(v.Pages, cache.Page[chat.Message]{Items: items, Total: len(items)})
	}
	return v
}

func ids(items []chat.Message) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.ID
	}
	return out
}

func TestMergeInsertAppendsToPageZero(t *testing.T) {
	v := messageView([]chat.Message{{ID: "m1", SenderID: "u1", Body: "a", State: chat.StateConfirmed}})

	next, changed := mergeMessageInsert(v, chat.Message{ID: "m2", SenderID: "u2", Body: "b"})
	if !changed {
		t.Fatal("merge reported no change")
	}
	got := ids(next.Pages[0].Items)
	if len(got) != 2 || got[1] != "m2" {
		t.Errorf("page 0 = %v, want [m1 m2]", got)
	}
	if next.Pages[0].Total != 2 {
		t.Errorf("total = %d, want 2", next.Pages[0].Total)
	}
	if next.Pages[0].Items[1].State != chat.StateConfirmed {
		t.Errorf("state = %q, want confirmed", next.Pages[0].Items[1].State)
	}
	// Original view untouched.
	if len(v.Pages[0].Items) != 1 {
		t.Errorf("input view mutated: %v", ids(v.Pages[0].Items))
	}
}

func TestMergeInsertDuplicateIDAnyPage(t *testing.T) {
	v := messageView(
		[]chat.Message{{ID: "m3", State: chat.StateConfirmed}},
		[]chat.Message{{ID: "m1", State: chat.StateConfirmed}},
	)
	if _, changed := mergeMessageInsert(v, chat.Message{ID: "m1", Body: "dup"}); changed {
		t.Error("duplicate id on a later page was merged")
	}
}

func TestMergeInsertEmptyViewNoop(t *testing.T) {
	if _, changed := mergeMessageInsert(cache.View[chat.Message]{}, chat.Message{ID: "m1"}); changed {
		t.Error("merge into unloaded view reported change")
	}
}

func TestMergeInsertReconcilesOptimistic(t *testing.T) {
	// End-to-end scenario: page holds m1 plus a pending placeholder for
	// the same (sender, body); the confirmed insert must leave exactly
	// one message with the server id.
	v := messageView([]chat.Message{
		{ID: "m1", SenderID: "u1", Body: "hi", State: chat.StateConfirmed},
		{ID: "c0ffee", SenderID: "u1", Body: "hi", State: chat.StatePending},
	})

	next, changed := mergeMessageInsert(v, chat.Message{ID: "m1", SenderID: "u1", Body: "hi"})
	if changed {
		t.Fatal("duplicate id merged despite existing m1")
	}

	// The usual order: placeholder staged, then the confirmed row with a
	// fresh server id arrives.
	v = messageView([]chat.Message{
		{ID: "c0ffee", SenderID: "u1", Body: "hi", State: chat.StatePending},
	})
	next, changed = mergeMessageInsert(v, chat.Message{ID: "m1", SenderID: "u1", Body: "hi"})
	if !changed {
		t.Fatal("merge reported no change")
	}
	got := ids(next.Pages[0].Items)
	if len(got) != 1 || got[0] != "m1" {
		t.Errorf("page 0 = %v, want [m1]", got)
	}
}

func TestMergeInsertKeepsOtherSendersPending(t *testing.T) {
	v := messageView([]chat.Message{
		{ID: "p1", SenderID: "u2", Body: "hi", State: chat.StatePending},
	})
	next, _ := mergeMessageInsert(v, chat.Message{ID: "m1", SenderID: "u1", Body: "hi"})
	if got := ids(next.Pages[0].Items); len(got) != 2 {
		t.Errorf("page 0 = %v, want pending from u2 kept", got)
	}
}

func TestApplyPatchAnywhereAndIdempotent(t *testing.T) {
	edited := "edited"
	patch := chat.MessagePatch{Content: &edited, UpdatedAt: 900, EditedAt: 900}
	v := messageView(
		[]chat.Message{{ID: "m3", Body: "new"}},
		[]chat.Message{{ID: "m1", Body: "old", UpdatedAt: 100}},
	)

	once, changed := applyMessagePatch(v, "m1", patch)
	if !changed {
		t.Fatal("patch not applied")
	}
	m := once.Pages[1].Items[0]
	if m.Body != "edited" || m.UpdatedAt != 900 || m.EditedAt != 900 {
		t.Errorf("patched message = %+v", m)
	}

	twice, _ := applyMessagePatch(once, "m1", patch)
	m2 := twice.Pages[1].Items[0]
	if m2.Body != m.Body || m2.UpdatedAt != m.UpdatedAt || m2.EditedAt != m.EditedAt || m2.DeletedAt != m.DeletedAt {
		t.Errorf("second apply diverged: %+v vs %+v", m2, m)
	}
}

func TestApplyPatchAbsentNoop(t *testing.T) {
	v := messageView([]chat.Message{{ID: "m1"}})
	if _, changed := applyMessagePatch(v, "m5", chat.MessagePatch{UpdatedAt: 1}); changed {
		t.Error("patch for absent id reported change")
	}
}

func TestApplyPatchSoftDelete(t *testing.T) {
	v := messageView([]chat.Message{{ID: "m1", Body: "bye"}})
	next, _ := applyMessagePatch(v, "m1", chat.MessagePatch{UpdatedAt: 50, DeletedAt: 50})
	if !next.Pages[0].Items[0].Deleted() {
		t.Error("message not marked deleted")
	}
}

func convView(pageSizes []int, convs ...chat.ConversationSummary) cache.View[chat.ConversationSummary] {
	var v cache.View[chat.ConversationSummary]
	off := 0
	for _, n := range pageSizes {
		v.Pages = append(v.Pages, cache.Page[chat.ConversationSummary]{
			Items: convs[off : off+n],
			Total: len(convs),
		})
		off += n
	}
	return v
}

func TestMergeConversationMovesToTop(t *testing.T) {
	// End-to-end scenario: c2 leads with T2 > T1; a new message in c1 at
	// T3 > T2 from another user moves c1 first and bumps its unread.
	v := convView([]int{2},
		chat.ConversationSummary{ID: "c2", LastMessageAt: 2000},
		chat.ConversationSummary{ID: "c1", LastMessageAt: 1000, UnreadCount: 3},
	)
	msg := chat.Message{ID: "m9", ThreadID: "c1", SenderID: "u2", SenderName: "Marta", Body: "oi", CreatedAt: 3000}

	next, found := mergeConversationMessage(v, msg, "u1")
	if !found {
		t.Fatal("conversation not found")
	}
	items := next.Pages[0].Items
	if items[0].ID != "c1" || items[1].ID != "c2" {
		t.Fatalf("order = [%s %s], want [c1 c2]", items[0].ID, items[1].ID)
	}
	c1 := items[0]
	if c1.UnreadCount != 4 {
		t.Errorf("unread = %d, want 4", c1.UnreadCount)
	}
	if c1.LastMessageAt != 3000 {
		t.Errorf("lastMessageAt = %d, want 3000", c1.LastMessageAt)
	}
	if c1.LastMessage == nil || c1.LastMessage.Content != "oi" || c1.LastMessage.SenderName != "Marta" {
		t.Errorf("lastMessage = %+v", c1.LastMessage)
	}
	// Touched conversation carries the max lastMessageAt, so it is first.
	for _, c := range next.Flatten() {
		if c.LastMessageAt > c1.LastMessageAt {
			t.Errorf("conversation %s sorts above the merged one", c.ID)
		}
	}
}

func TestMergeConversationSelfMessageNoUnread(t *testing.T) {
	v := convView([]int{1}, chat.ConversationSummary{ID: "c1", LastMessageAt: 100, UnreadCount: 2})
	msg := chat.Message{ID: "m1", ThreadID: "c1", SenderID: "u1", CreatedAt: 200}

	next, found := mergeConversationMessage(v, msg, "u1")
	if !found {
		t.Fatal("conversation not found")
	}
	if got := next.Pages[0].Items[0].UnreadCount; got != 2 {
		t.Errorf("unread = %d, want 2 (self-sent)", got)
	}
}

func TestMergeConversationPreservesPageSizes(t *testing.T) {
	v := convView([]int{2, 2},
		chat.ConversationSummary{ID: "c1", LastMessageAt: 400},
		chat.ConversationSummary{ID: "c2", LastMessageAt: 300},
		chat.ConversationSummary{ID: "c3", LastMessageAt: 200},
		chat.ConversationSummary{ID: "c4", LastMessageAt: 100},
	)
	msg := chat.Message{ID: "m1", ThreadID: "c4", SenderID: "u2", CreatedAt: 500}

	next, found := mergeConversationMessage(v, msg, "u1")
	if !found {
		t.Fatal("conversation not found")
	}
	if len(next.Pages[0].Items) != 2 || len(next.Pages[1].Items) != 2 {
		t.Fatalf("page sizes = %d/%d, want 2/2", len(next.Pages[0].Items), len(next.Pages[1].Items))
	}
	// Global re-sort crosses page boundaries: c4 jumps from page 1 to
	// the head of page 0.
	if next.Pages[0].Items[0].ID != "c4" {
		t.Errorf("page 0 head = %s, want c4", next.Pages[0].Items[0].ID)
	}
	if next.Pages[1].Items[1].ID != "c3" {
		t.Errorf("page 1 tail = %s, want c3", next.Pages[1].Items[1].ID)
	}
}

func TestMergeConversationNotFound(t *testing.T) {
	v := convView([]int{1}, chat.ConversationSummary{ID: "c1", LastMessageAt: 100})
	msg := chat.Message{ID: "m1", ThreadID: "c9", SenderID: "u2", CreatedAt: 200}
	if _, found := mergeConversationMessage(v, msg, "u1"); found {
		t.Error("merge reported found for a conversation outside the window")
	}
}

func TestStageAndDropPending(t *testing.T) {
	v := messageView([]chat.Message{{ID: "m1", State: chat.StateConfirmed}})
	pending := chat.Message{ID: "cl-1", SenderID: "u1", Body: "draft", State: chat.StatePending}

	staged, changed := stagePending(v, pending)
	if !changed || len(staged.Pages[0].Items) != 2 || staged.Pages[0].Total != 2 {
		t.Fatalf("stage failed: %+v", staged.Pages[0])
	}
	if _, changed := stagePending(staged, pending); changed {
		t.Error("duplicate client id staged twice")
	}

	dropped, changed := dropPending(staged, "cl-1")
	if !changed || len(dropped.Pages[0].Items) != 1 || dropped.Pages[0].Total != 1 {
		t.Fatalf("drop failed: %+v", dropped.Pages[0])
	}
	// Confirmed messages are never dropped by client id.
	if _, changed := dropPending(dropped, "m1"); changed {
		t.Error("dropPending removed a confirmed message")
	}
}
