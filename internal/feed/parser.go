package feed

import (
	"encoding/json"
	"fmt"

	"github.com/lingora/portal/internal/chat"
)

// MessageRow is the raw row payload of a cohort_messages or
// direct_messages notification. Only the update path uses the content
// fields directly; inserts carry just enough to resolve the full
// projection by id.
type MessageRow struct {
	ID             string  `json:"id"`
	CohortID       string  `json:"cohort_id,omitempty"`
	ConversationID string  `json:"conversation_id,omitempty"`
	SenderID       string  `json:"sender_id"`
	Content        *string `json:"content"`
	CreatedAt      int64   `json:"created_at"`
	UpdatedAt      int64   `json:"updated_at"`
	EditedAt       int64   `json:"edited_at,omitempty"`
	DeletedAt      int64   `json:"deleted_at,omitempty"`
}

// ThreadID returns the owning cohort or conversation id.
func (r *MessageRow) ThreadID() string {
	if r.CohortID != "" {
		return r.CohortID
	}
	return r.ConversationID
}

// Patch converts the row-update payload into an idempotent message patch.
func (r *MessageRow) Patch() chat.MessagePatch {
	return chat.MessagePatch{
		Content:   r.Content,
		UpdatedAt: r.UpdatedAt,
		EditedAt:  r.EditedAt,
		DeletedAt: r.DeletedAt,
	}
}

// ConversationRow is the raw row payload of a conversations notification.
type ConversationRow struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// ParseMessageRow decodes a message-table notification row.
func ParseMessageRow(n Notification) (*MessageRow, error) {
	if n.Table != TableCohortMessages && n.Table != TableDirectMessages {
		return nil, fmt.Errorf("notification for table %q is not a message row", n.Table)
	}
	var r MessageRow
	if err := json.Unmarshal(n.Row, &r); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", n.Table, err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("%s row missing id", n.Table)
	}
	return &r, nil
}

// ParseConversationRow decodes a conversations-table notification row.
func ParseConversationRow(n Notification) (*ConversationRow, error) {
	if n.Table != TableConversations {
		return nil, fmt.Errorf("notification for table %q is not a conversation row", n.Table)
	}
	var r ConversationRow
	if err := json.Unmarshal(n.Row, &r); err != nil {
		return nil, fmt.Errorf("decode conversations row: %w", err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("conversations row missing id")
	}
	return &r, nil
}
