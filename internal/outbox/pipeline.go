// Package outbox implements the optimistic send pipeline: every send shows
// up in the conversation immediately as a provisional record, then converges
// to the confirmed message or to a retryable failure.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lwei-dev/nchat/internal/bus"
	"github.com/lwei-dev/nchat/internal/chat"
	"github.com/lwei-dev/nchat/internal/relay"
	"github.com/lwei-dev/nchat/internal/status"
)

var (
	// ErrNotAuthenticated means no local identity is loaded.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrEmptyContent rejects blank text sends.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrUnknownMessage means the record to retry is not in the window.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrNotRetryable means the record is not a failed provisional send.
	ErrNotRetryable = errors.New("message is not retryable")
)

// SendFailedError wraps a transport failure. The provisional record stays in
// the conversation with status failed so the user can retry it.
type SendFailedError struct {
	ProvisionalID string
	Err           error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send %s failed: %v", e.ProvisionalID, e.Err)
}

func (e *SendFailedError) Unwrap() error { return e.Err }

// Archiver is the slice of the durable archive the pipeline needs.
type Archiver interface {
	SaveMessage(m chat.Message) (bool, error)
	MarkAllRead(contact, me string) ([]string, error)
	UpdateStatus(id string, st status.Status) error
}

// SendAck is the payload of a "message.send_ack" event.
type SendAck struct {
	Contact       string
	ProvisionalID string
	MessageID     string
}

// SendFailure is the payload of a "message.send_failed" event.
type SendFailure struct {
	Contact       string
	ProvisionalID string
	Reason        string
}

// ReadMarked is the payload of the "message.read" event published after a
// conversation is marked read locally.
type ReadMarked struct {
	Contact    string
	MessageIDs []string
}

// Pipeline drives optimistic sends: provisional insert, transport call, then
// the confirmed record (or the failure) fed back through the store.
type Pipeline struct {
	store     *chat.Store
	transport relay.Transport
	archive   Archiver
	bus       *bus.Bus
	logger    *zap.Logger
	identity  string
	now       func() time.Time

	mu sync.Mutex
	// Image bytes are not part of the message record, so they are retained
	// here until the send confirms, letting Retry resend without re-prompting.
	images map[string]imagePayload
}

type imagePayload struct {
	data     []byte
	filename string
}

// NewPipeline creates a send pipeline for the local identity.
func NewPipeline(identity string, s *chat.Store, t relay.Transport, a Archiver, b *bus.Bus, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     s,
		transport: t,
		archive:   a,
		bus:       b,
		logger:    logger,
		identity:  identity,
		now:       time.Now,
		images:    make(map[string]imagePayload),
	}
}

// SendText sends a text message to receiver. The returned message is the
// confirmed record on success, or the failed provisional record alongside a
// *SendFailedError.
func (p *Pipeline) SendText(ctx context.Context, receiver, content string) (chat.Message, error) {
	if p.identity == "" {
		return chat.Message{}, ErrNotAuthenticated
	}
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, ErrEmptyContent
	}

	prov := chat.Message{
		ID:        chat.NewProvisionalID(),
		Sender:    p.identity,
		Receiver:  receiver,
		Content:   content,
		Timestamp: p.now().Unix(),
		Status:    status.Pending,
		Type:      chat.TypeText,
	}
	p.insertProvisional(prov)

	id, err := p.transport.SendText(ctx, receiver, content)
	if err != nil {
		return p.fail(prov, err)
	}
	return p.confirm(prov, id, ""), nil
}

// SendImage sends an image to receiver. The media bytes are handed to the
// transport, which stores them and returns the media URL for the confirmed
// record.
func (p *Pipeline) SendImage(ctx context.Context, receiver string, data []byte, filename string) (chat.Message, error) {
	if p.identity == "" {
		return chat.Message{}, ErrNotAuthenticated
	}
	if len(data) == 0 {
		return chat.Message{}, ErrEmptyContent
	}

	prov := chat.Message{
		ID:        chat.NewProvisionalID(),
		Sender:    p.identity,
		Receiver:  receiver,
		Timestamp: p.now().Unix(),
		Status:    status.Pending,
		Type:      chat.TypeImage,
	}
	p.mu.Lock()
	p.images[prov.ID] = imagePayload{data: data, filename: filename}
	p.mu.Unlock()
	p.insertProvisional(prov)

	id, mediaURL, err := p.transport.SendImage(ctx, receiver, data, filename)
	if err != nil {
		return p.fail(prov, err)
	}
	return p.confirm(prov, id, mediaURL), nil
}

// Retry re-attempts a failed provisional send. The record keeps its id,
// content and timestamp; only the status moves back to pending before the
// transport call is repeated.
func (p *Pipeline) Retry(ctx context.Context, contact, id string) (chat.Message, error) {
	rec, ok := p.store.Get(contact, id)
	if !ok {
		return chat.Message{}, ErrUnknownMessage
	}
	if !rec.Provisional() || rec.Status != status.Failed {
		return chat.Message{}, ErrNotRetryable
	}

	rec.Status = status.Pending
	p.insertProvisional(rec)

	switch rec.Type {
	case chat.TypeImage:
		p.mu.Lock()
		payload, ok := p.images[rec.ID]
		p.mu.Unlock()
		if !ok {
			return p.fail(rec, errors.New("image payload no longer available"))
		}
		newID, mediaURL, err := p.transport.SendImage(ctx, rec.Receiver, payload.data, payload.filename)
		if err != nil {
			return p.fail(rec, err)
		}
		return p.confirm(rec, newID, mediaURL), nil
	default:
		newID, err := p.transport.SendText(ctx, rec.Receiver, rec.Content)
		if err != nil {
			return p.fail(rec, err)
		}
		return p.confirm(rec, newID, ""), nil
	}
}

// MarkRead marks every unread message from contact as read, in the archive
// and the window, then tells the peer. Receipt delivery is best effort; the
// local state is already updated when it runs.
func (p *Pipeline) MarkRead(ctx context.Context, contact string) ([]string, error) {
	if p.identity == "" {
		return nil, ErrNotAuthenticated
	}
	ids, err := p.archive.MarkAllRead(contact, p.identity)
	if err != nil {
		return nil, fmt.Errorf("mark read %s: %w", contact, err)
	}
	for _, id := range ids {
		p.store.UpdateStatus(id, status.Read, contact)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := p.transport.SendReceipt(ctx, contact, ids); err != nil {
		p.logger.Warn("read receipt delivery failed",
			zap.String("contact", contact), zap.Error(err))
	}
	p.bus.Publish(bus.NewEvent(bus.KindMessageRead, ReadMarked{
		Contact:    contact,
		MessageIDs: ids,
	}))
	return ids, nil
}

func (p *Pipeline) insertProvisional(m chat.Message) {
	p.store.Insert(m)
	p.bus.Publish(bus.NewEvent(bus.KindMessageUpserted, m))
}

// confirm replaces the provisional record with the authoritative one. The
// insert goes through reconciliation: if the relay echo already delivered
// the confirmed message, this lands on the exact-id tier and stays a single
// record.
func (p *Pipeline) confirm(prov chat.Message, id, mediaURL string) chat.Message {
	confirmed := prov
	confirmed.ID = id
	confirmed.Status = status.Sent
	confirmed.MediaURL = mediaURL
	confirmed = chat.Normalize(confirmed)

	p.store.Insert(confirmed)
	if _, err := p.archive.SaveMessage(confirmed); err != nil {
		p.logger.Error("archive write failed",
			zap.String("id", confirmed.ID), zap.Error(err))
	}
	p.mu.Lock()
	delete(p.images, prov.ID)
	p.mu.Unlock()

	p.logger.Info("message sent",
		zap.String("provisional_id", prov.ID),
		zap.String("id", confirmed.ID))
	p.bus.Publish(bus.NewEvent(bus.KindSendAck, SendAck{
		Contact:       confirmed.Receiver,
		ProvisionalID: prov.ID,
		MessageID:     confirmed.ID,
	}))
	return confirmed
}

// fail marks the provisional record failed, keeping content and timestamp so
// Retry can reuse them.
func (p *Pipeline) fail(prov chat.Message, cause error) (chat.Message, error) {
	p.store.UpdateStatus(prov.ID, status.Failed, prov.Receiver)
	prov.Status = status.Failed

	p.logger.Error("send failed",
		zap.String("provisional_id", prov.ID),
		zap.String("receiver", prov.Receiver),
		zap.Error(cause))
	p.bus.Publish(bus.NewEvent(bus.KindSendFailed, SendFailure{
		Contact:       prov.Receiver,
		ProvisionalID: prov.ID,
		Reason:        cause.Error(),
	}))
	return prov, &SendFailedError{ProvisionalID: prov.ID, Err: cause}
}
