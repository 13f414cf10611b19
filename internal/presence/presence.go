// Package presence applies presence frames to the session store and expires
// typing indicators that stop being refreshed.
package presence

import (
	"time"

	"github.com/matheus3301/chatline/internal/store"
	"github.com/matheus3301/chatline/internal/wire"
	"go.uber.org/zap"
)

// Statuses carried by presence frames.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusAway    = "away"
	StatusTyping  = "typing"
)

// DefaultTypingTTL is how long a typing indicator lasts without a refresh.
const DefaultTypingTTL = 6 * time.Second

// Scheduler arms keyed timers on the session loop.
type Scheduler interface {
	AfterFunc(key string, d time.Duration, fn func())
	Cancel(key string)
}

type typingKey struct {
	conversationID string
	userID         string
}

// Tracker is driven from the dispatch loop.
type Tracker struct {
	store  *store.Store
	sched  Scheduler
	ttl    time.Duration
	logger *zap.Logger

	typing map[typingKey]struct{}
}

// New creates a presence tracker.
func New(st *store.Store, sched Scheduler, ttl time.Duration, logger *zap.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Tracker{
		store:  st,
		sched:  sched,
		ttl:    ttl,
		logger: logger,
		typing: make(map[typingKey]struct{}),
	}
}

// Apply records a presence frame.
func (t *Tracker) Apply(p wire.Presence) {
	if p.Status == StatusTyping {
		if p.ConversationID == "" {
			t.logger.Debug("typing presence without conversation", zap.String("user_id", p.UserID))
			return
		}
		k := typingKey{p.ConversationID, p.UserID}
		t.typing[k] = struct{}{}
		t.store.SetTyping(k.conversationID, k.userID, true)
		t.sched.AfterFunc(k.timer(), t.ttl, func() { t.stop(k) })
		// typing implies the user is around
		t.store.SetPresence(p.UserID, StatusOnline)
		return
	}

	t.store.SetPresence(p.UserID, p.Status)
	if p.Status == StatusOffline {
		for k := range t.typing {
			if k.userID == p.UserID {
				t.stop(k)
			}
		}
	}
}

// MessageFrom clears the sender's typing indicator in that conversation.
func (t *Tracker) MessageFrom(conversationID, userID string) {
	k := typingKey{conversationID, userID}
	if _, ok := t.typing[k]; ok {
		t.stop(k)
	}
}

// Reset clears every typing indicator, e.g. when the connection drops and
// refreshes can no longer arrive.
func (t *Tracker) Reset() {
	for k := range t.typing {
		t.stop(k)
	}
}

func (t *Tracker) stop(k typingKey) {
	t.sched.Cancel(k.timer())
	delete(t.typing, k)
	t.store.SetTyping(k.conversationID, k.userID, false)
}

func (k typingKey) timer() string {
	return "typing/" + k.conversationID + "/" + k.userID
}
