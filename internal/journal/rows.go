package journal

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/chatline/internal/store"
	"github.com/tidwall/gjson"
)

type conversationRow struct {
	ID           string `db:"id"`
	Participants string `db:"participants"`
	LastActivity int64  `db:"last_activity"`
	Unread       int    `db:"unread"`
	Muted        bool   `db:"muted"`
	Archived     bool   `db:"archived"`
	Deleted      bool   `db:"deleted"`
	Left         bool   `db:"has_left"`
	UpdatedAt    int64  `db:"updated_at"`
}

type messageRow struct {
	ConversationID  string `db:"conversation_id"`
	ID              string `db:"id"`
	TempID          string `db:"temp_id"`
	SenderID        string `db:"sender_id"`
	Content         string `db:"content"`
	CreatedAt       int64  `db:"created_at"`
	Sequence        int64  `db:"sequence"`
	ServerTimestamp int64  `db:"server_timestamp"`
	State           string `db:"state"`
	Retries         int    `db:"retries"`
	Outgoing        bool   `db:"outgoing"`
}

const upsertConversation = `
INSERT INTO conversations (id, participants, last_activity, unread, muted, archived, deleted, has_left, updated_at)
VALUES (:id, :participants, :last_activity, :unread, :muted, :archived, :deleted, :has_left, :updated_at)
ON CONFLICT(id) DO UPDATE SET
	participants = excluded.participants,
	last_activity = excluded.last_activity,
	unread = excluded.unread,
	muted = excluded.muted,
	archived = excluded.archived,
	deleted = excluded.deleted,
	has_left = excluded.has_left,
	updated_at = excluded.updated_at`

const upsertMessage = `
INSERT INTO messages (conversation_id, id, temp_id, sender_id, content, created_at, sequence, server_timestamp, state, retries, outgoing)
VALUES (:conversation_id, :id, :temp_id, :sender_id, :content, :created_at, :sequence, :server_timestamp, :state, :retries, :outgoing)
ON CONFLICT(conversation_id, id) DO UPDATE SET
	temp_id = excluded.temp_id,
	sender_id = excluded.sender_id,
	content = excluded.content,
	created_at = excluded.created_at,
	sequence = excluded.sequence,
	server_timestamp = excluded.server_timestamp,
	state = excluded.state,
	retries = excluded.retries,
	outgoing = excluded.outgoing`

const deleteMessage = `DELETE FROM messages WHERE conversation_id = ? AND id = ?`

func toConversationRow(c store.Conversation, now time.Time) conversationRow {
	participants, _ := json.Marshal(c.Participants)
	if c.Participants == nil {
		participants = []byte("[]")
	}
	return conversationRow{
		ID:           c.ID,
		Participants: string(participants),
		LastActivity: millis(c.LastActivity),
		Unread:       c.Unread,
		Muted:        c.Muted,
		Archived:     c.Archived,
		Deleted:      c.Deleted,
		Left:         c.Left,
		UpdatedAt:    now.UnixMilli(),
	}
}

func (r conversationRow) conversation() store.Conversation {
	var participants []string
	for _, p := range gjson.Parse(r.Participants).Array() {
		participants = append(participants, p.String())
	}
	return store.Conversation{
		ID:           r.ID,
		Participants: participants,
		LastActivity: fromMillis(r.LastActivity),
		Unread:       r.Unread,
		Flags: store.Flags{
			Muted:    r.Muted,
			Archived: r.Archived,
			Deleted:  r.Deleted,
			Left:     r.Left,
		},
	}
}

func toMessageRow(m store.Message) messageRow {
	return messageRow{
		ConversationID:  m.ConversationID,
		ID:              m.ID,
		TempID:          m.TempID,
		SenderID:        m.SenderID,
		Content:         m.Content,
		CreatedAt:       millis(m.CreatedAt),
		Sequence:        m.Sequence,
		ServerTimestamp: millis(m.ServerTimestamp),
		State:           string(m.State),
		Retries:         m.Retries,
		Outgoing:        m.Outgoing,
	}
}

func (r messageRow) message() store.Message {
	return store.Message{
		ID:              r.ID,
		TempID:          r.TempID,
		ConversationID:  r.ConversationID,
		SenderID:        r.SenderID,
		Content:         r.Content,
		CreatedAt:       fromMillis(r.CreatedAt),
		Sequence:        r.Sequence,
		ServerTimestamp: fromMillis(r.ServerTimestamp),
		State:           store.DeliveryState(r.State),
		Retries:         r.Retries,
		Outgoing:        r.Outgoing,
	}
}

// Zero times are stored as 0.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
