package store

import (
	"database/sql"
	"time"
)

// SetCursor persists the last seen feed cursor for a view key, so a
// fresh subscription can resume where the previous one stopped.
func (db *DB) SetCursor(viewKey, cursor string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO feed_cursors (view_key, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(view_key) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		viewKey, cursor, now)
	return err
}

// Cursor returns the persisted feed cursor for a view key, or "" when
// none was recorded.
func (db *DB) Cursor(viewKey string) (string, error) {
	var cursor string
	err := db.QueryRow(`SELECT cursor FROM feed_cursors WHERE view_key = ?`, viewKey).Scan(&cursor)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cursor, nil
}
