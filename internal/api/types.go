package api

import (
	"time"

	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/store"
)

// Empty is the request or response of calls without arguments.
type Empty struct{}

// ConnectionState mirrors status.Snapshot.
type ConnectionState struct {
	Profile           string `json:"profile"`
	State             string `json:"state"`
	Attempt           int    `json:"attempt,omitempty"`
	NextRetryAtUnixMs int64  `json:"next_retry_at_unix_ms,omitempty"`
	SinceUnixMs       int64  `json:"since_unix_ms"`
	UptimeMs          int64  `json:"uptime_ms"`
	StoreVersion      uint64 `json:"store_version"`
}

type SubmitRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type ResendRequest struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type CreateConversationRequest struct {
	ConversationID string   `json:"conversation_id"`
	Participants   []string `json:"participants,omitempty"`
}

type UpdateConversationRequest struct {
	ConversationID string `json:"conversation_id"`
	Action         string `json:"action"`
}

type ListConversationsRequest struct {
	IncludeDeleted bool `json:"include_deleted,omitempty"`
}

type ListConversationsResponse struct {
	Version       uint64         `json:"version"`
	Conversations []Conversation `json:"conversations"`
}

type MessageResponse struct {
	Message Message `json:"message"`
}

type ConversationResponse struct {
	Version      uint64       `json:"version"`
	Conversation Conversation `json:"conversation"`
}

// WatchRequest filters the event stream by kind prefix; empty means all.
type WatchRequest struct {
	Prefixes []string `json:"prefixes,omitempty"`
}

type Message struct {
	ID                    string `json:"id"`
	TempID                string `json:"temp_id,omitempty"`
	ConversationID        string `json:"conversation_id"`
	SenderID              string `json:"sender_id,omitempty"`
	Content               string `json:"content"`
	CreatedAtUnixMs       int64  `json:"created_at_unix_ms"`
	Sequence              int64  `json:"sequence,omitempty"`
	ServerTimestampUnixMs int64  `json:"server_timestamp_unix_ms,omitempty"`
	State                 string `json:"state"`
	Retries               int    `json:"retries,omitempty"`
	Outgoing              bool   `json:"outgoing,omitempty"`
}

type Conversation struct {
	ID                 string    `json:"id"`
	Participants       []string  `json:"participants,omitempty"`
	LastActivityUnixMs int64     `json:"last_activity_unix_ms"`
	Unread             int       `json:"unread"`
	Muted              bool      `json:"muted,omitempty"`
	Archived           bool      `json:"archived,omitempty"`
	Deleted            bool      `json:"deleted,omitempty"`
	Left               bool      `json:"left,omitempty"`
	Active             bool      `json:"active,omitempty"`
	Typing             []string  `json:"typing,omitempty"`
	LastMessage        *Message  `json:"last_message,omitempty"`
	Messages           []Message `json:"messages,omitempty"`
}

// Event is one entry of the Watch stream. Exactly one of the payload
// fields is set, depending on Kind.
type Event struct {
	EventID          string           `json:"event_id"`
	Kind             string           `json:"kind"`
	OccurredAtUnixMs int64            `json:"occurred_at_unix_ms"`
	Version          uint64           `json:"version,omitempty"`
	Change           *Change          `json:"change,omitempty"`
	State            *ConnectionState `json:"state,omitempty"`
	Failed           *MessageFailed   `json:"failed,omitempty"`
	Error            string           `json:"error,omitempty"`
}

type Change struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	PrevID         string `json:"prev_id,omitempty"`
}

type MessageFailed struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Cause          string `json:"cause"`
}

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func messageFromStore(m store.Message) Message {
	return Message{
		ID:                    m.ID,
		TempID:                m.TempID,
		ConversationID:        m.ConversationID,
		SenderID:              m.SenderID,
		Content:               m.Content,
		CreatedAtUnixMs:       unixMs(m.CreatedAt),
		Sequence:              m.Sequence,
		ServerTimestampUnixMs: unixMs(m.ServerTimestamp),
		State:                 string(m.State),
		Retries:               m.Retries,
		Outgoing:              m.Outgoing,
	}
}

// conversationFromStore converts c; messages are included only when full.
func conversationFromStore(c store.Conversation, snap store.Snapshot, full bool) Conversation {
	out := Conversation{
		ID:                 c.ID,
		Participants:       c.Participants,
		LastActivityUnixMs: unixMs(c.LastActivity),
		Unread:             c.Unread,
		Muted:              c.Muted,
		Archived:           c.Archived,
		Deleted:            c.Deleted,
		Left:               c.Left,
		Active:             snap.Active == c.ID,
		Typing:             snap.Typing[c.ID],
	}
	if n := len(c.Messages); n > 0 {
		last := messageFromStore(c.Messages[n-1])
		out.LastMessage = &last
	}
	if full {
		out.Messages = make([]Message, 0, len(c.Messages))
		for _, m := range c.Messages {
			out.Messages = append(out.Messages, messageFromStore(m))
		}
	}
	return out
}

func stateFromStatus(s status.Snapshot) *ConnectionState {
	return &ConnectionState{
		State:             string(s.State),
		Attempt:           s.Attempt,
		NextRetryAtUnixMs: unixMs(s.NextRetryAt),
		SinceUnixMs:       unixMs(s.Since),
	}
}
