package conn

import (
	"time"

	"github.com/matheus3301/chatline/internal/wire"
)

// EventKind identifies a transport event emitted by the Manager.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventMessage      EventKind = "message_received"
	EventAck          EventKind = "ack_received"
	EventSent         EventKind = "sent"
	EventPresence     EventKind = "presence"
	EventError        EventKind = "error"
)

// Disconnect reasons.
const (
	ReasonClient  = "client"
	ReasonNetwork = "network"
	ReasonAuth    = "auth"
)

// Event is emitted by the Manager. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind
	At   time.Time

	// EventDisconnected
	Reason string
	// EventDisconnected (cause) and EventError (a chaterr error)
	Err error
	// EventError carrying a server error frame
	ServerError *wire.Error

	Message  *wire.Message
	Ack      *wire.Ack
	Presence *wire.Presence
	// EventSent
	TempID string
	// EventConnected: the user id from auth_ok
	UserID string
}

// Handler receives events. It is called while the Manager holds its lock
// and must not block or call back into the Manager.
type Handler func(Event)
