// Package relay is the boundary to the message network. A Transport sends
// outgoing messages and receipts; inbound traffic arrives as bus events
// carrying the payload types defined here.
package relay

import (
	"context"

	"github.com/lwei-dev/nchat/internal/chat"
)

// Transport sends traffic to the network. Implementations must be safe for
// concurrent use.
type Transport interface {
	// SendText delivers a text message and returns its authoritative id.
	SendText(ctx context.Context, receiver, content string) (string, error)

	// SendImage uploads the image and delivers a message referencing it.
	// Returns the authoritative id and the media URL.
	SendImage(ctx context.Context, receiver string, data []byte, filename string) (string, string, error)

	// SendReceipt tells the peer that the given messages were read.
	SendReceipt(ctx context.Context, receiver string, messageIDs []string) error
}

// InboundMessage is the payload of a "relay.message" event.
type InboundMessage struct {
	Message chat.Message
	// IsSync marks messages replayed during an initial or catch-up sync,
	// as opposed to live traffic.
	IsSync bool
}

// ReadReceipt is the payload of a "relay.receipt" event.
type ReadReceipt struct {
	MessageID string
	From      string
}
