package status

import (
	"fmt"
	"slices"
)

// Status is the delivery state of a message.
type Status string

const (
	// Pending is an optimistic local record not yet confirmed by the relay.
	Pending Status = "pending"
	// Sent means the relay accepted the message.
	Sent Status = "sent"
	// Delivered means the receiver's transport acknowledged it. Optional;
	// receipts may jump straight to Read.
	Delivered Status = "delivered"
	// Read means the receiver issued a read receipt. Terminal.
	Read Status = "read"
	// Failed means the send errored. Only reachable from Pending; a retry
	// moves it back to Pending.
	Failed Status = "failed"
)

// validNext defines the allowed forward transitions. Delivered and Read may
// skip intermediate states because receipts can outrun send acks.
var validNext = map[Status][]Status{
	Pending:   {Sent, Delivered, Read, Failed},
	Sent:      {Delivered, Read},
	Delivered: {Read},
	Read:      {},
	Failed:    {Pending},
}

// Known reports whether s is one of the closed set of statuses.
func Known(s Status) bool {
	_, ok := validNext[s]
	return ok
}

// CanAdvance reports whether a transition from one status to another is
// allowed. Transitions are monotonic: a stray late "sent" echo can never
// downgrade a record that is already delivered or read. The only backward
// edge is Failed→Pending, which is how retry re-enters the pipeline.
func CanAdvance(from, to Status) bool {
	return slices.Contains(validNext[from], to)
}

// Advance returns the new status, or an error if the transition is invalid.
func Advance(from, to Status) (Status, error) {
	if !Known(to) {
		return from, fmt.Errorf("unknown status %q", to)
	}
	if from == to {
		return from, nil
	}
	if !CanAdvance(from, to) {
		return from, fmt.Errorf("invalid status transition %s -> %s", from, to)
	}
	return to, nil
}

// Terminal reports whether no further transition out of s is possible.
func Terminal(s Status) bool {
	return len(validNext[s]) == 0
}
