package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lwei-dev/nchat/internal/chat"
	"github.com/lwei-dev/nchat/internal/status"
)

// SaveMessage stores a message if it is not already present and was not
// explicitly deleted. Reports whether a row was inserted. Provisional
// records are never archived; only confirmed messages are durable.
func (db *DB) SaveMessage(m chat.Message) (bool, error) {
	if chat.IsProvisionalID(m.ID) {
		return false, nil
	}
	m = chat.Normalize(m)

	exists, err := db.messageExists(m.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	deleted, err := db.IsDeleted(m.ID)
	if err != nil {
		return false, err
	}
	if deleted {
		return false, nil
	}

	var mediaURL sql.NullString
	if m.MediaURL != "" {
		mediaURL = sql.NullString{String: m.MediaURL, Valid: true}
	}
	_, err = db.Exec(`
		INSERT OR REPLACE INTO messages
			(id, sender, receiver, content, timestamp, status, message_type, media_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Sender, m.Receiver, m.Content, m.Timestamp,
		string(m.Status), string(m.Type), mediaURL, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("save message %s: %w", m.ID, err)
	}
	return true, nil
}

// GetMessage returns a message by id, or nil when absent.
func (db *DB) GetMessage(id string) (*chat.Message, error) {
	row := db.QueryRow(`
		SELECT id, sender, receiver, content, timestamp, status,
		       COALESCE(message_type, 'text'), media_url
		FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns one history page of the conversation between me and
// contact: the newest `limit` messages after skipping the newest `offset`,
// ordered oldest first within the page.
func (db *DB) ListMessages(contact, me string, limit, offset int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := db.Query(`
		SELECT id, sender, receiver, content, timestamp, status,
		       COALESCE(message_type, 'text'), media_url
		FROM messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?`,
		contact, me, me, contact, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The query walks newest-first; pages are served oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// UpdateStatus sets a message's status unconditionally. Lifecycle
// enforcement happens in the store; the archive records what it is told.
func (db *DB) UpdateStatus(id string, st status.Status) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE id = ?`, string(st), id)
	return err
}

// MarkAllRead marks every unread message from contact to me as read and
// returns the affected ids (they feed read-receipt events).
func (db *DB) MarkAllRead(contact, me string) ([]string, error) {
	rows, err := db.Query(`
		SELECT id FROM messages
		WHERE sender = ? AND receiver = ? AND status != ?`,
		contact, me, string(status.Read))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = db.Exec(`
		UPDATE messages SET status = ?
		WHERE sender = ? AND receiver = ? AND status != ?`,
		string(status.Read), contact, me, string(status.Read))
	if err != nil {
		return nil, fmt.Errorf("mark all read: %w", err)
	}
	return ids, nil
}

// DeleteMessage removes a message and tombstones its id so a later re-sync
// cannot bring it back.
func (db *DB) DeleteMessage(id string) error {
	if err := db.addTombstone(id); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

// DeleteConversation removes every message between me and contact,
// tombstoning all of them first.
func (db *DB) DeleteConversation(contact, me string) error {
	now := time.Now().Unix()
	_, err := db.Exec(`
		INSERT OR IGNORE INTO deleted_events (id, deleted_at)
		SELECT id, ? FROM messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)`,
		now, contact, me, me, contact)
	if err != nil {
		return fmt.Errorf("tombstone conversation: %w", err)
	}
	_, err = db.Exec(`
		DELETE FROM messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)`,
		contact, me, me, contact)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// IsDeleted reports whether id has a tombstone.
func (db *DB) IsDeleted(id string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM deleted_events WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

func (db *DB) addTombstone(id string) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO deleted_events (id, deleted_at) VALUES (?, ?)`,
		id, time.Now().Unix())
	return err
}

func (db *DB) messageExists(id string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (chat.Message, error) {
	var m chat.Message
	var st, typ string
	var mediaURL sql.NullString
	err := r.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Content, &m.Timestamp, &st, &typ, &mediaURL)
	if err != nil {
		return chat.Message{}, err
	}
	m.Status = status.Status(st)
	m.Type = chat.MessageType(typ)
	m.MediaURL = mediaURL.String
	return chat.Normalize(m), nil
}

// History adapts the archive to the store's HistorySource contract for the
// local identity me.
func (db *DB) History(me string) chat.HistorySource {
	return historySource{db: db, me: me}
}

type historySource struct {
	db *DB
	me string
}

func (h historySource) FetchPage(_ context.Context, contact string, limit, offset int) ([]chat.Message, error) {
	return h.db.ListMessages(contact, h.me, limit, offset)
}
