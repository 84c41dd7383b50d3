package sync

import (
	"strconv"
	gosync "sync"
	"time"
)

const keyLastSync = "last_sync_time"

// StateStore persists checkpoint values.
type StateStore interface {
	SetState(key, value string) error
	GetState(key string) (string, error)
}

// Checkpoints tracks how far into the relay stream ingestion has progressed,
// so a restart can ask the relay for traffic since the last seen message
// instead of replaying everything.
type Checkpoints struct {
	mu gosync.Mutex
	db StateStore
}

// NewCheckpoints wraps a state store.
func NewCheckpoints(db StateStore) *Checkpoints {
	return &Checkpoints{db: db}
}

// LastSync returns the newest message time ingested so far; zero when no
// checkpoint exists yet.
func (c *Checkpoints) LastSync() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncLocked()
}

func (c *Checkpoints) lastSyncLocked() (time.Time, error) {
	v, err := c.db.GetState(keyLastSync)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	unix, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

// Advance moves the checkpoint forward to t. Older or equal values are
// ignored so out-of-order ingestion cannot roll it back.
func (c *Checkpoints) Advance(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, err := c.lastSyncLocked()
	if err != nil {
		return err
	}
	if !t.After(last) {
		return nil
	}
	return c.db.SetState(keyLastSync, strconv.FormatInt(t.Unix(), 10))
}
