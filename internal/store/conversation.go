package store

import (
	"context"
	"database/sql"

	"github.com/lingora/portal/internal/chat"
)

// ConversationList is the newest window of a viewer's conversation
// list, sorted by last message time descending.
type ConversationList struct {
	Conversations []chat.ConversationSummary
	Total         int
	HasMore       bool
}

// ConversationsForUser builds the viewer's conversation summaries: last
// message preview, last message time, and unread count derived from the
// participant's last_read_at watermark.
func (db *DB) ConversationsForUser(ctx context.Context, userID string, limit int) (*ConversationList, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversation_participants WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.title,
			(SELECT COUNT(*) FROM messages m
				WHERE m.thread_id = c.id AND m.kind = 'direct'
				AND m.sender_id != p.user_id
				AND m.created_at > p.last_read_at
				AND m.deleted_at IS NULL) AS unread
		FROM conversations c
		JOIN conversation_participants p
			ON p.conversation_id = c.id AND p.user_id = ?
		ORDER BY COALESCE(
			(SELECT MAX(m.created_at) FROM messages m WHERE m.thread_id = c.id),
			c.created_at) DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []chat.ConversationSummary
	for rows.Next() {
		var c chat.ConversationSummary
		if err := rows.Scan(&c.ID, &c.Title, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range convs {
		last, err := db.lastMessageOf(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			convs[i].LastMessage = last
			convs[i].LastMessageAt = last.CreatedAt
		}
	}

	return &ConversationList{
		Conversations: convs,
		Total:         total,
		HasMore:       total > len(convs),
	}, nil
}

func (db *DB) lastMessageOf(ctx context.Context, conversationID string) (*chat.LastMessage, error) {
	var (
		lm   chat.LastMessage
		body sql.NullString
	)
	err := db.QueryRowContext(ctx, `
		SELECT m.body, m.created_at, m.sender_id,
			COALESCE(NULLIF(u.name, ''), m.sender_id) AS sender_name
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.thread_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT 1`, conversationID).
		Scan(&body, &lm.CreatedAt, &lm.SenderID, &lm.SenderName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lm.Content = body.String
	return &lm, nil
}
