package store

import (
	"slices"
	"time"
)

// DeliveryState is the delivery lifecycle of a message.
type DeliveryState string

const (
	Pending   DeliveryState = "PENDING"
	Sent      DeliveryState = "SENT"
	Delivered DeliveryState = "DELIVERED"
	Failed    DeliveryState = "FAILED"
)

// Outstanding reports whether the message still awaits an ack.
func (d DeliveryState) Outstanding() bool {
	return d == Pending || d == Sent
}

// Message is one entry of a conversation.
type Message struct {
	ID             string
	TempID         string
	ConversationID string
	SenderID       string
	Content        string
	CreatedAt      time.Time
	// Sequence is assigned by the server; zero means not yet sequenced.
	Sequence        int64
	ServerTimestamp time.Time
	State           DeliveryState
	Retries         int
	Outgoing        bool
}

// Provisional reports whether the message has no server sequence yet.
func (m Message) Provisional() bool {
	return m.Sequence == 0
}

// Flags are user-controlled conversation settings.
type Flags struct {
	Muted    bool
	Archived bool
	Deleted  bool
	Left     bool
}

// Conversation is a conversation and its ordered messages.
type Conversation struct {
	ID           string
	Participants []string
	LastActivity time.Time
	Unread       int
	Flags
	Messages []Message
}

func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	cp.Messages = slices.Clone(c.Messages)
	return &cp
}

func (c *Conversation) index(id string) int {
	return slices.IndexFunc(c.Messages, func(m Message) bool { return m.ID == id })
}

// Less orders messages: sequenced messages by sequence, then provisional
// ones by creation time. Message id breaks remaining ties.
func Less(a, b Message) bool {
	return compare(a, b) < 0
}

func compare(a, b Message) int {
	switch {
	case a.Sequence > 0 && b.Sequence > 0:
		if a.Sequence != b.Sequence {
			if a.Sequence < b.Sequence {
				return -1
			}
			return 1
		}
	case a.Sequence > 0:
		return -1
	case b.Sequence > 0:
		return 1
	default:
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Ordered reports whether msgs satisfies the conversation order.
func Ordered(msgs []Message) bool {
	return slices.IsSortedFunc(msgs, compare)
}

// insertSorted places m at the position dictated by the order.
func insertSorted(msgs []Message, m Message) []Message {
	i, _ := slices.BinarySearchFunc(msgs, m, compare)
	return slices.Insert(msgs, i, m)
}
