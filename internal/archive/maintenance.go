package archive

import (
	"fmt"
	"time"
)

// Stats summarizes archive contents.
type Stats struct {
	Messages   int64
	Tombstones int64
	OldestUnix int64 // zero when the archive is empty
}

// Stats returns archive counters.
func (db *DB) Stats() (*Stats, error) {
	var s Stats
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&s.Messages); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM deleted_events`).Scan(&s.Tombstones); err != nil {
		return nil, err
	}
	var oldest *int64
	if err := db.QueryRow(`SELECT MIN(timestamp) FROM messages`).Scan(&oldest); err != nil {
		return nil, err
	}
	if oldest != nil {
		s.OldestUnix = *oldest
	}
	return &s, nil
}

// CleanupOldMessages deletes messages older than the retention period and
// returns the number removed. Deleted rows are not tombstoned: aging out is
// not a user delete, and a re-sync bringing an old message back is harmless.
func (db *DB) CleanupOldMessages(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	res, err := db.Exec(`DELETE FROM messages WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup old messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneTombstones drops tombstones older than the retention period; after
// that long the relay will no longer replay the deleted event.
func (db *DB) PruneTombstones(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	res, err := db.Exec(`DELETE FROM deleted_events WHERE deleted_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune tombstones: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Vacuum compacts the database file.
func (db *DB) Vacuum() error {
	_, err := db.Exec(`VACUUM`)
	return err
}
