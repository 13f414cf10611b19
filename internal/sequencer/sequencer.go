// Package sequencer reconciles optimistic local messages with the server's
// view: it assigns temporary ids, applies acks, orders and deduplicates
// inbound frames. It must only be driven from the session's dispatch loop.
package sequencer

import (
	"slices"
	"strings"
	"time"

	"github.com/matheus3301/chatline/internal/chaterr"
	"github.com/matheus3301/chatline/internal/store"
	"github.com/matheus3301/chatline/internal/wire"
	"github.com/nrednav/cuid2"
	"go.uber.org/zap"
)

// seen tracks what has been ingested for one conversation.
type seen struct {
	sequences map[int64]string // sequence -> message id
	serverIDs map[string]struct{}
}

// Sequencer owns the temp-id mapping table and per-conversation
// duplicate detection.
type Sequencer struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	userID string
	// temp id -> conversation id, for messages awaiting an ack
	pending map[string]string
	seen    map[string]*seen
}

// New creates a sequencer writing to st.
func New(st *store.Store, logger *zap.Logger) *Sequencer {
	return &Sequencer{
		store:   st,
		logger:  logger,
		now:     time.Now,
		newID:   cuid2.Generate,
		pending: make(map[string]string),
		seen:    make(map[string]*seen),
	}
}

// SetUserID records the local user id used as sender of outgoing messages.
func (s *Sequencer) SetUserID(id string) {
	s.userID = id
}

// Submit creates a Pending outgoing message and returns it.
func (s *Sequencer) Submit(conversationID, content string) (store.Message, error) {
	if conversationID == "" {
		return store.Message{}, chaterr.InvalidArgument("submit", "conversation id is required")
	}
	if strings.TrimSpace(content) == "" {
		return store.Message{}, chaterr.InvalidArgument("submit", "content is empty")
	}
	tempID := s.newID()
	m := store.Message{
		ID:             tempID,
		TempID:         tempID,
		ConversationID: conversationID,
		SenderID:       s.userID,
		Content:        content,
		CreatedAt:      s.now(),
		State:          store.Pending,
		Outgoing:       true,
	}
	if err := s.store.InsertMessage(m); err != nil {
		return store.Message{}, err
	}
	s.pending[tempID] = conversationID
	s.logger.Debug("message submitted", zap.String("temp_id", tempID), zap.String("conversation_id", conversationID))
	return m, nil
}

// Envelope builds the wire envelope for a provisional message.
func Envelope(m store.Message) wire.Envelope {
	return wire.Envelope{
		TempID:          m.TempID,
		ConversationID:  m.ConversationID,
		Content:         m.Content,
		ClientTimestamp: m.CreatedAt.UnixMilli(),
	}
}

// Lookup returns the provisional message for a temp id.
func (s *Sequencer) Lookup(tempID string) (store.Message, bool) {
	conv, ok := s.pending[tempID]
	if !ok {
		return store.Message{}, false
	}
	return s.store.Message(conv, tempID)
}

// MarkSent records that the transport wrote the message. Only Pending
// messages move; a late sent after an ack is ignored.
func (s *Sequencer) MarkSent(tempID string) bool {
	conv, ok := s.pending[tempID]
	if !ok {
		return false
	}
	changed := false
	_, err := s.store.UpdateMessage(conv, tempID, func(m *store.Message) {
		if m.State == store.Pending {
			m.State = store.Sent
			changed = true
		}
	})
	if err != nil {
		s.logger.Warn("mark sent", zap.String("temp_id", tempID), zap.Error(err))
		return false
	}
	return changed
}

// SetRetries records the retry counter of a provisional message.
func (s *Sequencer) SetRetries(tempID string, n int) {
	conv, ok := s.pending[tempID]
	if !ok {
		return
	}
	if _, err := s.store.UpdateMessage(conv, tempID, func(m *store.Message) { m.Retries = n }); err != nil {
		s.logger.Warn("set retries", zap.String("temp_id", tempID), zap.Error(err))
	}
}

// OnAck reconciles a provisional message with the server's identity. It
// reports false for temp ids it does not know, e.g. a second ack.
func (s *Sequencer) OnAck(ack wire.Ack) (store.Message, bool) {
	conv, ok := s.pending[ack.TempID]
	if !ok {
		s.logger.Info("ack for unknown temp id", zap.String("temp_id", ack.TempID), zap.String("server_id", ack.ServerID))
		return store.Message{}, false
	}
	delete(s.pending, ack.TempID)
	seen := s.seenFor(conv)

	if _, dup := seen.serverIDs[ack.ServerID]; dup {
		return s.fold(conv, ack)
	}

	m, err := s.store.UpdateMessage(conv, ack.TempID, func(m *store.Message) {
		m.ID = ack.ServerID
		m.Sequence = ack.Sequence
		m.State = store.Delivered
	})
	if err != nil {
		s.logger.Warn("apply ack", zap.String("temp_id", ack.TempID), zap.Error(err))
		return store.Message{}, false
	}
	seen.record(ack.Sequence, ack.ServerID)
	s.logger.Debug("message acknowledged",
		zap.String("temp_id", ack.TempID), zap.String("server_id", ack.ServerID), zap.Int64("sequence", ack.Sequence))
	return m, true
}

// fold merges a provisional message into the server copy that was already
// ingested as an inbound echo.
func (s *Sequencer) fold(conv string, ack wire.Ack) (store.Message, bool) {
	if err := s.store.RemoveMessage(conv, ack.TempID); err != nil {
		s.logger.Warn("fold provisional message", zap.String("temp_id", ack.TempID), zap.Error(err))
	}
	m, err := s.store.UpdateMessage(conv, ack.ServerID, func(m *store.Message) {
		m.TempID = ack.TempID
		m.Outgoing = true
		m.State = store.Delivered
	})
	if err != nil {
		s.logger.Warn("fold provisional message", zap.String("server_id", ack.ServerID), zap.Error(err))
		return store.Message{}, false
	}
	s.logger.Debug("provisional message folded into echo", zap.String("temp_id", ack.TempID), zap.String("server_id", ack.ServerID))
	return m, true
}

// OnInbound ingests a server message. A frame already ingested for the
// conversation, by sequence or server id, yields a DuplicateFrame error and
// leaves the store untouched. A frame echoing a provisional message's temp
// id acknowledges it.
func (s *Sequencer) OnInbound(in wire.Message) (store.Message, error) {
	seen := s.seenFor(in.ConversationID)
	if seen.has(in.Sequence, in.ServerID) {
		return store.Message{}, chaterr.New(chaterr.KindDuplicateFrame, "inbound",
			"conversation "+in.ConversationID+" already has "+in.ServerID)
	}

	if in.TempID != "" {
		if _, ok := s.pending[in.TempID]; ok {
			m, ok := s.OnAck(wire.Ack{TempID: in.TempID, ServerID: in.ServerID, Sequence: in.Sequence})
			if !ok {
				return store.Message{}, chaterr.NotFound("inbound", "provisional message "+in.TempID)
			}
			if in.ServerTimestamp > 0 {
				m, _ = s.store.UpdateMessage(m.ConversationID, m.ID, func(m *store.Message) {
					m.ServerTimestamp = time.UnixMilli(in.ServerTimestamp)
				})
			}
			return m, nil
		}
	}

	m := store.Message{
		ID:             in.ServerID,
		TempID:         in.TempID,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		CreatedAt:      s.now(),
		Sequence:       in.Sequence,
		State:          store.Delivered,
		Outgoing:       s.userID != "" && in.SenderID == s.userID,
	}
	if in.ServerTimestamp > 0 {
		m.ServerTimestamp = time.UnixMilli(in.ServerTimestamp)
		m.CreatedAt = m.ServerTimestamp
	}
	if err := s.store.InsertMessage(m); err != nil {
		return store.Message{}, err
	}
	seen.record(in.Sequence, in.ServerID)
	return m, nil
}

// Fail marks a provisional message Failed and forgets its temp id.
func (s *Sequencer) Fail(tempID string) (store.Message, bool) {
	conv, ok := s.pending[tempID]
	if !ok {
		return store.Message{}, false
	}
	delete(s.pending, tempID)
	m, err := s.store.UpdateMessage(conv, tempID, func(m *store.Message) { m.State = store.Failed })
	if err != nil {
		s.logger.Warn("fail message", zap.String("temp_id", tempID), zap.Error(err))
		return store.Message{}, false
	}
	return m, true
}

// Resubmit gives a Failed message a fresh temp id and makes it Pending
// again, keeping its content.
func (s *Sequencer) Resubmit(conversationID, messageID string) (store.Message, error) {
	old, ok := s.store.Message(conversationID, messageID)
	if !ok {
		return store.Message{}, chaterr.NotFound("resubmit", "message "+messageID)
	}
	if old.State != store.Failed {
		return store.Message{}, chaterr.FailedPrecondition("resubmit", "message "+messageID+" is "+string(old.State)+", not FAILED")
	}
	tempID := s.newID()
	m, err := s.store.UpdateMessage(conversationID, messageID, func(m *store.Message) {
		m.ID = tempID
		m.TempID = tempID
		m.State = store.Pending
		m.Retries = 0
		m.CreatedAt = s.now()
	})
	if err != nil {
		return store.Message{}, err
	}
	s.pending[tempID] = conversationID
	s.logger.Debug("message resubmitted", zap.String("old_id", messageID), zap.String("temp_id", tempID))
	return m, nil
}

// Outstanding returns provisional messages still awaiting an ack, oldest
// submission first.
func (s *Sequencer) Outstanding() []store.Message {
	var out []store.Message
	for tempID, conv := range s.pending {
		if m, ok := s.store.Message(conv, tempID); ok && m.State.Outstanding() {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b store.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Rebuild derives the mapping table and duplicate sets from the store,
// after it was restored from disk.
func (s *Sequencer) Rebuild() {
	s.pending = make(map[string]string)
	s.seen = make(map[string]*seen)
	for _, c := range s.store.Snapshot().All() {
		s.rebuildConversation(c)
	}
}

func (s *Sequencer) rebuildConversation(c store.Conversation) {
	seen := s.seenFor(c.ID)
	for _, m := range c.Messages {
		if m.Sequence > 0 {
			seen.record(m.Sequence, m.ID)
			continue
		}
		if m.Outgoing && m.State.Outstanding() {
			s.pending[m.ID] = c.ID
		}
	}
}

func (s *Sequencer) seenFor(conv string) *seen {
	st, ok := s.seen[conv]
	if !ok {
		st = &seen{sequences: make(map[int64]string), serverIDs: make(map[string]struct{})}
		s.seen[conv] = st
	}
	return st
}

func (st *seen) has(seq int64, serverID string) bool {
	if _, ok := st.sequences[seq]; ok {
		return true
	}
	_, ok := st.serverIDs[serverID]
	return ok
}

func (st *seen) record(seq int64, serverID string) {
	if seq > 0 {
		st.sequences[seq] = serverID
	}
	if serverID != "" {
		st.serverIDs[serverID] = struct{}{}
	}
}
