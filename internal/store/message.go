package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lingora/portal/internal/chat"
)

// ThreadKind distinguishes cohort streams from direct conversations in
// the messages table.
type ThreadKind string

const (
	ThreadCohort ThreadKind = "cohort"
	ThreadDirect ThreadKind = "direct"
)

// ThreadWindow is the newest window of a thread, in chronological
// ascending order, plus the thread's total message count.
type ThreadWindow struct {
	Messages []MessageRecord
	Total    int
	HasMore  bool
}

// MessageRecord is a message row with its sender name resolved and its
// attachments loaded.
type MessageRecord struct {
	ID          string
	ThreadID    string
	SenderID    string
	SenderName  string
	Body        string
	CreatedAt   int64
	UpdatedAt   int64
	EditedAt    int64
	DeletedAt   int64
	Attachments []chat.Attachment
}

// ThreadMessages returns the newest limit messages of a thread in
// ascending order (the shape of a view's page 0).
func (db *DB) ThreadMessages(ctx context.Context, threadID string, limit int) (*ThreadWindow, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT m.id, m.thread_id, m.sender_id,
			COALESCE(NULLIF(u.name, ''), m.sender_id) AS sender_name,
			m.body, m.created_at, m.updated_at, m.edited_at, m.deleted_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.thread_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []MessageRecord
	for rows.Next() {
		var (
			m         MessageRecord
			body      sql.NullString
			editedAt  sql.NullInt64
			deletedAt sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderID, &m.SenderName,
			&body, &m.CreatedAt, &m.UpdatedAt, &editedAt, &deletedAt); err != nil {
			return nil, err
		}
		m.Body = body.String
		m.EditedAt = editedAt.Int64
		m.DeletedAt = deletedAt.Int64
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest window came back descending; the page is ascending.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	for i := range msgs {
		atts, err := db.attachmentsFor(ctx, msgs[i].ID)
		if err != nil {
			return nil, err
		}
		msgs[i].Attachments = atts
	}

	return &ThreadWindow{
		Messages: msgs,
		Total:    total,
		HasMore:  total > len(msgs),
	}, nil
}

// InsertMessage writes a new confirmed message row. The server-side
// write path of a send; the change feed echoes it back as an insert
// notification.
func (db *DB) InsertMessage(ctx context.Context, id, threadID string, kind ThreadKind, senderID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, kind, sender_id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, threadID, string(kind), senderID, body, now, now)
	return err
}
