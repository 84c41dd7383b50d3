package chat

import (
	"strings"

	"github.com/google/uuid"
	"github.com/lwei-dev/nchat/internal/status"
)

// MessageType distinguishes message payloads.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
)

// provisionalPrefix marks locally generated ids. The relay never issues ids
// with this prefix, so a record's origin is recoverable from its id alone.
const provisionalPrefix = "local-"

// Message is one logical chat item in a conversation.
type Message struct {
	// ID is either a provisional id (local-<uuid>, assigned optimistically
	// before the relay confirms) or the authoritative event id assigned by
	// the relay.
	ID       string
	Sender   string
	Receiver string
	// Content is the text payload; empty for image messages.
	Content string
	// Timestamp is unix seconds. Not guaranteed unique or strictly ordered
	// across relay echoes.
	Timestamp int64
	Status    status.Status
	Type      MessageType
	// MediaURL is set for image messages once the upload resolved; empty
	// while the transfer is in flight.
	MediaURL string
}

// NewProvisionalID returns a fresh locally generated message id.
func NewProvisionalID() string {
	return provisionalPrefix + uuid.NewString()
}

// IsProvisionalID reports whether id was generated locally and is still
// awaiting relay confirmation.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// Provisional reports whether the message still carries a provisional id.
func (m Message) Provisional() bool {
	return IsProvisionalID(m.ID)
}

// Peer returns the conversation counterpart for the local identity me.
func (m Message) Peer(me string) string {
	if m.Sender == me {
		return m.Receiver
	}
	return m.Sender
}

// Normalize coerces a record into canonical form: a missing type becomes
// text and image messages carry no text content (the rendered body is the
// media, the wire content is a transfer hint).
func Normalize(m Message) Message {
	if m.Type == "" {
		m.Type = TypeText
	}
	if m.Type == TypeImage {
		m.Content = ""
	}
	if !status.Known(m.Status) {
		m.Status = status.Sent
	}
	return m
}
