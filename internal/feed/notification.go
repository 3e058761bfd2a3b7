package feed

import "encoding/json"

// Table names the backing-store table a notification refers to.
type Table string

const (
	TableCohortMessages Table = "cohort_messages"
	TableDirectMessages Table = "direct_messages"
	TableConversations  Table = "conversations"
)

// Op is the kind of row change.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
)

// Notification is one row-change event from the backing store's change
// feed. Delivery is at-least-once with no ordering guarantee across
// tables; the sync engine compensates (id dedup, idempotent patches).
type Notification struct {
	Table  Table           `json:"table"`
	Op     Op              `json:"event"`
	Cursor string          `json:"cursor,omitempty"`
	Row    json.RawMessage `json:"row"`
}
