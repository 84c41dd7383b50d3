package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lwei-dev/nchat/internal/bus"
	"github.com/lwei-dev/nchat/internal/chat"
	"github.com/lwei-dev/nchat/internal/status"
)

// Loopback is a Transport that confirms every send locally and echoes it
// back through the bus the way a relay subscription would, including the
// self-echo of our own outgoing messages. It backs single-machine use and
// lets the full receive path run without network access.
type Loopback struct {
	bus      *bus.Bus
	identity string
	now      func() time.Time
}

// NewLoopback creates a loopback transport publishing echoes as identity.
func NewLoopback(b *bus.Bus, identity string) *Loopback {
	return &Loopback{bus: b, identity: identity, now: time.Now}
}

func (l *Loopback) SendText(ctx context.Context, receiver, content string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	l.echo(chat.Message{
		ID:        id,
		Sender:    l.identity,
		Receiver:  receiver,
		Content:   content,
		Timestamp: l.now().Unix(),
		Status:    status.Sent,
		Type:      chat.TypeText,
	})
	return id, nil
}

func (l *Loopback) SendImage(ctx context.Context, receiver string, data []byte, filename string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if len(data) == 0 {
		return "", "", fmt.Errorf("send image: empty payload")
	}
	id := uuid.NewString()
	mediaURL := fmt.Sprintf("loopback://media/%s/%s", id, filename)
	l.echo(chat.Message{
		ID:        id,
		Sender:    l.identity,
		Receiver:  receiver,
		Timestamp: l.now().Unix(),
		Status:    status.Sent,
		Type:      chat.TypeImage,
		MediaURL:  mediaURL,
	})
	return id, mediaURL, nil
}

func (l *Loopback) SendReceipt(ctx context.Context, receiver string, messageIDs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, id := range messageIDs {
		l.bus.Publish(bus.NewEvent(bus.KindRelayReceipt, ReadReceipt{
			MessageID: id,
			From:      l.identity,
		}))
	}
	return nil
}

// echo publishes the confirmed message as if the relay subscription had
// delivered our own send back to us.
func (l *Loopback) echo(m chat.Message) {
	l.bus.Publish(bus.NewEvent(bus.KindRelayMessage, InboundMessage{Message: m}))
}
