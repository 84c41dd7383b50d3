package bus

import "time"

// Event kinds are dot-namespaced so subscribers can filter on the
// "relay." or "message." prefix.
const (
	// Published by transports.
	KindRelayMessage = "relay.message"
	KindRelayReceipt = "relay.receipt"

	// Published by the store side.
	KindMessageReceived = "message.received"
	KindMessageUpserted = "message.upserted"
	KindMessageRead     = "message.read"
	KindSendAck         = "message.send_ack"
	KindSendFailed      = "message.send_failed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
