package store

import (
	"context"
	"database/sql"

	"github.com/lingora/portal/internal/chat"
)

// MessageByID returns the fully-joined projection of a message: sender
// name resolved against users, attachments loaded in creation order.
// Absence is signaled by a nil message, not an error.
func (db *DB) MessageByID(ctx context.Context, id string) (*chat.Message, error) {
	var (
		m         chat.Message
		body      sql.NullString
		editedAt  sql.NullInt64
		deletedAt sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `
		SELECT m.id, m.thread_id, m.sender_id,
			COALESCE(NULLIF(u.name, ''), m.sender_id) AS sender_name,
			m.body, m.created_at, m.updated_at, m.edited_at, m.deleted_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?`, id).
		Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.SenderName,
			&body, &m.CreatedAt, &m.UpdatedAt, &editedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Body = body.String
	m.EditedAt = editedAt.Int64
	m.DeletedAt = deletedAt.Int64
	m.State = chat.StateConfirmed

	m.Attachments, err = db.attachmentsFor(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// IsParticipant reports whether the user belongs to the conversation.
func (db *DB) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `
		SELECT 1 FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?`, conversationID, userID).
		Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (db *DB) attachmentsFor(ctx context.Context, messageID string) ([]chat.Attachment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, message_id, file_name, file_url, file_type, file_size, created_at
		FROM attachments
		WHERE message_id = ?
		ORDER BY created_at ASC, id ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var atts []chat.Attachment
	for rows.Next() {
		var a chat.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.FileName, &a.FileURL, &a.FileType, &a.FileSize, &a.CreatedAt); err != nil {
			return nil, err
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}
