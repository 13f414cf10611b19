package bus

import (
	"time"

	"github.com/google/uuid"
)

// Event kinds published by the session layer. Subscribers filter by prefix,
// e.g. "connection." or "store.".
const (
	KindConnectionState = "connection.state_changed"
	KindConnectionError = "connection.error"
	KindStoreChanged    = "store.changed"
	KindMessageFailed   = "message.failed"
	KindTokenExpired    = "auth.token_expired"
)

// Event represents a domain event published on the bus.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with a fresh ID and the current time.
func NewEvent(kind string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
