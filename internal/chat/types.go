package chat

// MessageState distinguishes locally-staged messages from server-confirmed
// ones. Pending entries exist only in the cache; the backing store never
// returns them.
type MessageState string

const (
	StatePending   MessageState = "pending"
	StateConfirmed MessageState = "confirmed"
)

// Message is the fully-joined projection of a chat message: sender name
// resolved, attachments loaded and ordered. Timestamps are Unix
// milliseconds; zero means unset for EditedAt and DeletedAt.
type Message struct {
	ID          string
	ThreadID    string // owning cohort or conversation id
	SenderID    string
	SenderName  string
	Body        string // empty for attachment-only messages
	State       MessageState
	CreatedAt   int64
	UpdatedAt   int64
	EditedAt    int64
	DeletedAt   int64
	Attachments []Attachment
}

// Deleted reports whether the message has been soft-deleted.
func (m *Message) Deleted() bool { return m.DeletedAt != 0 }

// Attachment is a file owned by exactly one message.
type Attachment struct {
	ID        string
	MessageID string
	FileName  string
	FileURL   string
	FileType  string
	FileSize  int64
	CreatedAt int64
}

// LastMessage is the preview of a conversation's most recent message.
type LastMessage struct {
	Content    string
	CreatedAt  int64
	SenderID   string
	SenderName string
}

// ConversationSummary is one row of the viewer's conversation list.
type ConversationSummary struct {
	ID            string
	Title         string
	LastMessage   *LastMessage
	LastMessageAt int64
	UnreadCount   int
}

// MessagePatch carries the fields of a row-update notification. A nil
// Content and zero timestamps leave the corresponding fields untouched,
// so applying the same patch twice is a no-op the second time.
type MessagePatch struct {
	Content   *string
	UpdatedAt int64
	EditedAt  int64
	DeletedAt int64
}

// Apply merges the patch into a copy of m and returns it.
func (p MessagePatch) Apply(m Message) Message {
	if p.Content != nil {
		m.Body = *p.Content
	}
	if p.UpdatedAt != 0 {
		m.UpdatedAt = p.UpdatedAt
	}
	if p.EditedAt != 0 {
		m.EditedAt = p.EditedAt
	}
	if p.DeletedAt != 0 {
		m.DeletedAt = p.DeletedAt
	}
	return m
}
