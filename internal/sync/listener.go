// Package sync ingests relay traffic into the conversation store and the
// durable archive, and tracks how far ingestion has progressed.
package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lwei-dev/nchat/internal/bus"
	"github.com/lwei-dev/nchat/internal/chat"
	"github.com/lwei-dev/nchat/internal/relay"
	"github.com/lwei-dev/nchat/internal/status"
)

// Archive is the slice of the durable archive ingestion needs.
type Archive interface {
	SaveMessage(m chat.Message) (bool, error)
	IsDeleted(id string) (bool, error)
	UpdateStatus(id string, st status.Status) error
}

// Listener subscribes to "relay." events on the bus and feeds them through
// the store's reconciliation, the archive and the sync checkpoint. All
// ingestion is idempotent: replays and echoes merge instead of duplicating.
type Listener struct {
	store       *chat.Store
	archive     Archive
	bus         *bus.Bus
	checkpoints *Checkpoints
	logger      *zap.Logger
	cancel      context.CancelFunc
}

// NewListener creates a relay ingestion listener.
func NewListener(s *chat.Store, a Archive, b *bus.Bus, cp *Checkpoints, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		store:       s,
		archive:     a,
		bus:         b,
		checkpoints: cp,
		logger:      logger,
	}
}

// Start subscribes to inbound relay events on the bus.
func (l *Listener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	ch, unsub := l.bus.Subscribe("relay.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				l.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the listener.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *Listener) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindRelayMessage:
		in, ok := evt.Payload.(relay.InboundMessage)
		if !ok {
			return
		}
		if err := l.IngestMessage(in); err != nil {
			l.logger.Error("message ingestion failed",
				zap.String("id", in.Message.ID), zap.Error(err))
		}
	case bus.KindRelayReceipt:
		rr, ok := evt.Payload.(relay.ReadReceipt)
		if !ok {
			return
		}
		if err := l.IngestReceipt(rr); err != nil {
			l.logger.Error("receipt ingestion failed",
				zap.String("id", rr.MessageID), zap.Error(err))
		}
	}
}

// IngestMessage processes one inbound message. Messages the user deleted
// locally stay deleted even when the relay replays them. A genuinely new
// live message publishes "message.received" (it drives notifications);
// everything else, echoes and sync replays included, publishes
// "message.upserted".
func (l *Listener) IngestMessage(in relay.InboundMessage) error {
	m := chat.Normalize(in.Message)

	deleted, err := l.archive.IsDeleted(m.ID)
	if err != nil {
		return err
	}
	if deleted {
		l.logger.Debug("dropping replay of deleted message", zap.String("id", m.ID))
		return nil
	}

	if _, err := l.archive.SaveMessage(m); err != nil {
		return err
	}
	isNew := l.store.Insert(m)

	if l.checkpoints != nil && m.Timestamp > 0 {
		if err := l.checkpoints.Advance(time.Unix(m.Timestamp, 0)); err != nil {
			l.logger.Warn("checkpoint advance failed", zap.Error(err))
		}
	}

	kind := bus.KindMessageUpserted
	if isNew && !in.IsSync {
		kind = bus.KindMessageReceived
	}
	l.bus.Publish(bus.NewEvent(kind, m))
	return nil
}

// IngestReceipt applies a peer read receipt. Receipts carry no conversation
// context, so the store scans for the id; the lifecycle rules make a
// redundant or late receipt a no-op.
func (l *Listener) IngestReceipt(rr relay.ReadReceipt) error {
	changed := l.store.UpdateStatus(rr.MessageID, status.Read, "")
	if err := l.archive.UpdateStatus(rr.MessageID, status.Read); err != nil {
		return err
	}
	if changed {
		l.bus.Publish(bus.NewEvent(bus.KindMessageRead, rr))
	}
	return nil
}
