// Package store holds the authoritative in-memory state of a session:
// conversations, their ordered messages and presence. All mutations are
// expected to come from the session's dispatch loop; reads are safe from
// any goroutine.
package store

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/chaterr"
)

// ChangeKind names the mutation that produced a snapshot.
type ChangeKind string

const (
	ConversationCreated ChangeKind = "conversation_created"
	ConversationUpdated ChangeKind = "conversation_updated"
	MessageAdded        ChangeKind = "message_added"
	MessageUpdated      ChangeKind = "message_updated"
	MessageRenamed      ChangeKind = "message_renamed"
	MessageRemoved      ChangeKind = "message_removed"
	PresenceChanged     ChangeKind = "presence_changed"
	Restored            ChangeKind = "restored"
)

// Change describes a single mutation. PrevID is set when a message was
// renamed from its temporary id.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	MessageID      string
	PrevID         string
}

// Snapshot is an immutable view of the store after a mutation.
type Snapshot struct {
	Version uint64
	Change  Change
	Active  string
	// Presence is the last-known status per user.
	Presence map[string]string
	// Typing lists users typing per conversation.
	Typing map[string][]string

	conversations map[string]*Conversation
}

// Conversation returns a copy of the conversation with the given id.
func (s Snapshot) Conversation(id string) (Conversation, bool) {
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return *c.clone(), true
}

// Conversations returns visible conversations, most recently active first.
func (s Snapshot) Conversations() []Conversation {
	return list(s.conversations)
}

// All returns every conversation, deleted ones included, ordered by id.
func (s Snapshot) All() []Conversation {
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c.clone())
	}
	slices.SortFunc(out, func(a, b Conversation) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Store is the session's in-memory state with change subscription.
type Store struct {
	mu       sync.RWMutex
	convs    map[string]*Conversation
	active   string
	presence map[string]string
	typing   map[string][]string
	version  uint64

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int

	bus *bus.Bus
}

// New creates an empty store. b may be nil.
func New(b *bus.Bus) *Store {
	return &Store{
		convs:    make(map[string]*Conversation),
		presence: make(map[string]string),
		typing:   make(map[string][]string),
		subs:     make(map[int]func(Snapshot)),
		bus:      b,
	}
}

// Subscribe registers fn to receive a snapshot after every mutation. fn
// runs on the mutating goroutine and must not mutate the store.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(Change{})
}

// Version returns the number of mutations applied so far.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// GetConversation returns a copy of a conversation, deleted ones included.
func (s *Store) GetConversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, false
	}
	return *c.clone(), true
}

// ListConversations returns conversations by last activity, most recent
// first. Deleted conversations are omitted.
func (s *Store) ListConversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return list(s.convs)
}

// Message looks up a message by id.
func (s *Store) Message(conversationID, id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return Message{}, false
	}
	i := c.index(id)
	if i < 0 {
		return Message{}, false
	}
	return c.Messages[i], true
}

// Active returns the conversation the UI is currently showing.
func (s *Store) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// EnsureConversation creates the conversation if it does not exist and
// adds any new participants.
func (s *Store) EnsureConversation(id string, participants ...string) error {
	if id == "" {
		return chaterr.InvalidArgument("ensure conversation", "empty conversation id")
	}
	s.mu.Lock()
	c, existed := s.convs[id]
	if existed {
		c = c.clone()
	} else {
		c = &Conversation{ID: id}
	}
	added := false
	for _, p := range participants {
		if p != "" && !slices.Contains(c.Participants, p) {
			c.Participants = append(c.Participants, p)
			added = true
		}
	}
	if existed && !added {
		s.mu.Unlock()
		return nil
	}
	s.convs[id] = c
	kind := ConversationUpdated
	if !existed {
		kind = ConversationCreated
	}
	snap := s.commitLocked(Change{Kind: kind, ConversationID: id})
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// InsertMessage adds m at its ordered position, creating the conversation
// on first reference. An incoming message bumps the unread counter unless
// its conversation is active.
func (s *Store) InsertMessage(m Message) error {
	if m.ID == "" || m.ConversationID == "" {
		return chaterr.InvalidArgument("insert message", "message and conversation id are required")
	}
	s.mu.Lock()
	c, ok := s.convs[m.ConversationID]
	if ok {
		c = c.clone()
	} else {
		c = &Conversation{ID: m.ConversationID}
	}
	if c.index(m.ID) >= 0 {
		s.mu.Unlock()
		return chaterr.New(chaterr.KindDuplicateFrame, "insert message", fmt.Sprintf("message %s already stored", m.ID))
	}
	c.Messages = insertSorted(c.Messages, m)
	touch(c, m)
	if !m.Outgoing && m.ConversationID != s.active {
		c.Unread++
	}
	if m.SenderID != "" && !m.Outgoing && !slices.Contains(c.Participants, m.SenderID) {
		c.Participants = append(c.Participants, m.SenderID)
	}
	s.convs[m.ConversationID] = c
	snap := s.commitLocked(Change{Kind: MessageAdded, ConversationID: m.ConversationID, MessageID: m.ID})
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// UpdateMessage applies fn to a message and re-places it in order. If fn
// changes the id, the message is renamed; the new id must be unused.
func (s *Store) UpdateMessage(conversationID, id string, fn func(*Message)) (Message, error) {
	s.mu.Lock()
	c, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return Message{}, chaterr.NotFound("update message", "conversation "+conversationID)
	}
	i := c.index(id)
	if i < 0 {
		s.mu.Unlock()
		return Message{}, chaterr.NotFound("update message", "message "+id)
	}
	c = c.clone()
	m := c.Messages[i]
	fn(&m)
	m.ConversationID = conversationID
	if m.ID == "" {
		s.mu.Unlock()
		return Message{}, chaterr.InvalidArgument("update message", "empty message id")
	}
	if m.ID != id && c.index(m.ID) >= 0 {
		s.mu.Unlock()
		return Message{}, chaterr.New(chaterr.KindDuplicateFrame, "update message", fmt.Sprintf("message %s already stored", m.ID))
	}
	c.Messages = slices.Delete(c.Messages, i, i+1)
	c.Messages = insertSorted(c.Messages, m)
	touch(c, m)
	s.convs[conversationID] = c

	change := Change{Kind: MessageUpdated, ConversationID: conversationID, MessageID: m.ID}
	if m.ID != id {
		change.Kind = MessageRenamed
		change.PrevID = id
	}
	snap := s.commitLocked(change)
	s.mu.Unlock()

	s.notify(snap)
	return m, nil
}

// RemoveMessage deletes a message.
func (s *Store) RemoveMessage(conversationID, id string) error {
	s.mu.Lock()
	c, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		return chaterr.NotFound("remove message", "conversation "+conversationID)
	}
	i := c.index(id)
	if i < 0 {
		s.mu.Unlock()
		return chaterr.NotFound("remove message", "message "+id)
	}
	c = c.clone()
	c.Messages = slices.Delete(c.Messages, i, i+1)
	s.convs[conversationID] = c
	snap := s.commitLocked(Change{Kind: MessageRemoved, ConversationID: conversationID, MessageID: id})
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// MarkRead resets the unread counter.
func (s *Store) MarkRead(conversationID string) error {
	return s.updateConversation("mark read", conversationID, func(c *Conversation) bool {
		if c.Unread == 0 {
			return false
		}
		c.Unread = 0
		return true
	})
}

// SetFlags replaces a conversation's flags.
func (s *Store) SetFlags(conversationID string, f Flags) error {
	return s.updateConversation("set flags", conversationID, func(c *Conversation) bool {
		if c.Flags == f {
			return false
		}
		c.Flags = f
		return true
	})
}

// SetActive records the conversation the UI is showing and clears its
// unread counter. An empty id clears the active conversation.
func (s *Store) SetActive(conversationID string) error {
	s.mu.Lock()
	if conversationID != "" {
		if _, ok := s.convs[conversationID]; !ok {
			s.mu.Unlock()
			return chaterr.NotFound("set active", "conversation "+conversationID)
		}
	}
	if s.active == conversationID {
		s.mu.Unlock()
		return nil
	}
	s.active = conversationID
	if c, ok := s.convs[conversationID]; ok && c.Unread > 0 {
		c = c.clone()
		c.Unread = 0
		s.convs[conversationID] = c
	}
	snap := s.commitLocked(Change{Kind: ConversationUpdated, ConversationID: conversationID})
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// SetPresence records a user's last-known status.
func (s *Store) SetPresence(userID, status string) {
	s.mu.Lock()
	if s.presence[userID] == status {
		s.mu.Unlock()
		return
	}
	s.presence[userID] = status
	snap := s.commitLocked(Change{Kind: PresenceChanged})
	s.mu.Unlock()
	s.notify(snap)
}

// SetTyping marks userID as typing (or not) in a conversation.
func (s *Store) SetTyping(conversationID, userID string, typing bool) {
	s.mu.Lock()
	users := s.typing[conversationID]
	has := slices.Contains(users, userID)
	if has == typing {
		s.mu.Unlock()
		return
	}
	if typing {
		users = append(slices.Clone(users), userID)
		slices.Sort(users)
		s.typing[conversationID] = users
	} else {
		users = slices.DeleteFunc(slices.Clone(users), func(u string) bool { return u == userID })
		if len(users) == 0 {
			delete(s.typing, conversationID)
		} else {
			s.typing[conversationID] = users
		}
	}
	snap := s.commitLocked(Change{Kind: PresenceChanged, ConversationID: conversationID})
	s.mu.Unlock()
	s.notify(snap)
}

// Restore replaces the store contents, e.g. from the journal.
func (s *Store) Restore(convs []Conversation) {
	s.mu.Lock()
	s.convs = make(map[string]*Conversation, len(convs))
	for _, c := range convs {
		cp := c.clone()
		slices.SortFunc(cp.Messages, compare)
		s.convs[c.ID] = cp
	}
	snap := s.commitLocked(Change{Kind: Restored})
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) updateConversation(op, id string, fn func(*Conversation) bool) error {
	s.mu.Lock()
	c, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return chaterr.NotFound(op, "conversation "+id)
	}
	c = c.clone()
	if !fn(c) {
		s.mu.Unlock()
		return nil
	}
	s.convs[id] = c
	snap := s.commitLocked(Change{Kind: ConversationUpdated, ConversationID: id})
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

func (s *Store) commitLocked(change Change) Snapshot {
	s.version++
	return s.snapshotLocked(change)
}

func (s *Store) snapshotLocked(change Change) Snapshot {
	typing := make(map[string][]string, len(s.typing))
	for k, v := range s.typing {
		typing[k] = slices.Clone(v)
	}
	return Snapshot{
		Version:       s.version,
		Change:        change,
		Active:        s.active,
		Presence:      maps.Clone(s.presence),
		Typing:        typing,
		conversations: maps.Clone(s.convs),
	}
}

func (s *Store) notify(snap Snapshot) {
	s.subMu.Lock()
	subs := slices.Collect(maps.Values(s.subs))
	s.subMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
	if s.bus != nil && snap.Change.Kind != "" {
		s.bus.Publish(bus.NewEvent(bus.KindStoreChanged, StoreChange{Version: snap.Version, Change: snap.Change}))
	}
}

// StoreChange is the payload of store.changed bus events.
type StoreChange struct {
	Version uint64
	Change  Change
}

func touch(c *Conversation, m Message) {
	at := m.CreatedAt
	if m.ServerTimestamp.After(at) {
		at = m.ServerTimestamp
	}
	if at.After(c.LastActivity) {
		c.LastActivity = at
	}
}

func list(convs map[string]*Conversation) []Conversation {
	out := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		if c.Deleted {
			continue
		}
		out = append(out, *c.clone())
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.LastActivity.Compare(a.LastActivity); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
