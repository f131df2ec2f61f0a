// Package bus carries governor events between producers (webhook adapters,
// the reconciliation sweep) and the event-driven governor's consumer loop.
package bus

import (
	"errors"

	"governor/internal/domain"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus closed")

// Delivery pairs an event with the id used to acknowledge it.
type Delivery struct {
	ID    string
	Event domain.GovernorEvent
}

// Bus is the event transport contract. Subscribe returns a channel that is
// closed by Close; consumers run a blocking receive loop and check their
// context on every receive. Ack marks a delivery as fully processed;
// redelivery policy for unacked events belongs to the implementation.
type Bus interface {
	Subscribe() (<-chan Delivery, error)
	Publish(event domain.GovernorEvent) error
	Ack(id string) error
	Close() error
}
