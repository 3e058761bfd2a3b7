package sync

import (
	"cmp"
	"slices"

	"github.com/lingora/portal/internal/cache"
	"github.com/lingora/portal/internal/chat"
)

// The merge functions in this file are pure: (view, event) -> (view',
// changed). They copy every page they touch, so prior snapshots handed
// to the rendering layer are never mutated.

// mergeMessageInsert applies a confirmed message to a cohort message
// view. Duplicate ids anywhere in the view are a no-op (the feed is
// at-least-once). A pending placeholder on page 0 with the same
// (sender, body) is replaced by the confirmed message.
func mergeMessageInsert(v cache.View[chat.Message], msg chat.Message) (cache.View[chat.Message], bool) {
	for _, p := range v.Pages {
		for _, m := range p.Items {
			if m.ID == msg.ID {
				return v, false
			}
		}
	}
	if len(v.Pages) == 0 {
		return v, false
	}

	page := v.ClonePage(0)
	before := len(page.Items)
	page.Items = slices.DeleteFunc(page.Items, func(m chat.Message) bool {
		return m.State == chat.StatePending && m.SenderID == msg.SenderID && m.Body == msg.Body
	})
	// A replaced placeholder already counted toward the total.
	page.Total += 1 - (before - len(page.Items))
	msg.State = chat.StateConfirmed
	page.Items = append(page.Items, msg)
	return v.WithPage(0, page), true
}

// applyMessagePatch patches the message with the given id wherever it
// appears. Absent ids are a no-op: the page holding the message may not
// be materialized, and the next fetch will carry the true state.
func applyMessagePatch(v cache.View[chat.Message], id string, p chat.MessagePatch) (cache.View[chat.Message], bool) {
	for pi := range v.Pages {
		for ii, m := range v.Pages[pi].Items {
			if m.ID != id {
				continue
			}
			page := v.ClonePage(pi)
			page.Items[ii] = p.Apply(m)
			return v.WithPage(pi, page), true
		}
	}
	return v, false
}

// mergeConversationMessage applies an inbound direct message to the
// viewer's conversation list: refresh the preview, bump the unread
// count for non-self senders, and re-sort the flattened list by
// lastMessageAt descending, redistributing into the original page
// sizes. Returns false when the conversation is not in any materialized
// page; the caller falls back to invalidation, which is also the only
// way a conversation outside the loaded window can surface.
func mergeConversationMessage(v cache.View[chat.ConversationSummary], msg chat.Message, viewerID string) (cache.View[chat.ConversationSummary], bool) {
	var items []chat.ConversationSummary
	sizes := make([]int, len(v.Pages))
	for i, p := range v.Pages {
		sizes[i] = len(p.Items)
		items = append(items, p.Items...)
	}

	idx := slices.IndexFunc(items, func(c chat.ConversationSummary) bool {
		return c.ID == msg.ThreadID
	})
	if idx < 0 {
		return v, false
	}

	c := items[idx]
	c.LastMessage = &chat.LastMessage{
		Content:    msg.Body,
		CreatedAt:  msg.CreatedAt,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
	}
	c.LastMessageAt = msg.CreatedAt
	if msg.SenderID != viewerID {
		c.UnreadCount++
	}
	items[idx] = c

	slices.SortStableFunc(items, func(a, b chat.ConversationSummary) int {
		return cmp.Compare(b.LastMessageAt, a.LastMessageAt)
	})

	pages := make([]cache.Page[chat.ConversationSummary], len(v.Pages))
	off := 0
	for i, p := range v.Pages {
		pages[i] = cache.Page[chat.ConversationSummary]{
			Items:   items[off : off+sizes[i]],
			HasMore: p.HasMore,
			Total:   p.Total,
		}
		off += sizes[i]
	}
	return cache.View[chat.ConversationSummary]{Pages: pages}, true
}

// stagePending appends a pending placeholder to page 0. Duplicate
// client ids are a no-op so a retried queue drain never doubles the
// placeholder.
func stagePending(v cache.View[chat.Message], msg chat.Message) (cache.View[chat.Message], bool) {
	if len(v.Pages) == 0 {
		return v, false
	}
	for _, p := range v.Pages {
		for _, m := range p.Items {
			if m.ID == msg.ID {
				return v, false
			}
		}
	}
	page := v.ClonePage(0)
	page.Items = append(page.Items, msg)
	page.Total++
	return v.WithPage(0, page), true
}

// dropPending removes a pending placeholder by client id (failed send).
func dropPending(v cache.View[chat.Message], clientID string) (cache.View[chat.Message], bool) {
	for pi := range v.Pages {
		for _, m := range v.Pages[pi].Items {
			if m.ID == clientID && m.State == chat.StatePending {
				page := v.ClonePage(pi)
				page.Items = slices.DeleteFunc(page.Items, func(m chat.Message) bool {
					return m.ID == clientID
				})
				page.Total--
				return v.WithPage(pi, page), true
			}
		}
	}
	return v, false
}
