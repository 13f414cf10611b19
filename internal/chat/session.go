// Package chat wires the connection manager, sequencer, delivery tracker,
// presence tracker and store into one session. Every state change runs on
// the session's dispatch loop.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/chatline/internal/auth"
	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/chaterr"
	"github.com/matheus3301/chatline/internal/conn"
	"github.com/matheus3301/chatline/internal/delivery"
	"github.com/matheus3301/chatline/internal/dispatch"
	"github.com/matheus3301/chatline/internal/presence"
	"github.com/matheus3301/chatline/internal/sequencer"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/store"
	"github.com/matheus3301/chatline/internal/transport"
	"go.uber.org/zap"
)

// Options configures a session.
type Options struct {
	Conn       conn.Options
	Delivery   delivery.Options
	TypingTTL  time.Duration
	ExpiryLead time.Duration
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		Conn:       conn.DefaultOptions(),
		Delivery:   delivery.DefaultOptions(),
		TypingTTL:  presence.DefaultTypingTTL,
		ExpiryLead: auth.DefaultLead,
	}
}

// MessageFailed is the payload of message.failed bus events.
type MessageFailed struct {
	ConversationID string
	MessageID      string
	Cause          string
}

// Session is one user's messaging session.
type Session struct {
	loop     *dispatch.Loop
	bus      *bus.Bus
	mgr      *conn.Manager
	store    *store.Store
	seq      *sequencer.Sequencer
	tracker  *delivery.Tracker
	presence *presence.Tracker
	tokens   auth.TokenSource
	expiry   *auth.ExpiryWatcher
	logger   *zap.Logger

	mu    sync.Mutex
	token string
}

// New assembles a session. Call Start before use.
func New(t transport.Transport, tokens auth.TokenSource, b *bus.Bus, opts Options, logger *zap.Logger) *Session {
	if b == nil {
		b = bus.New()
	}
	loop := dispatch.New(logger.Named("dispatch"))
	st := store.New(b)
	s := &Session{
		loop:   loop,
		bus:    b,
		mgr:    conn.New(t, status.NewMachine(b), opts.Conn, logger.Named("conn")),
		store:  st,
		seq:    sequencer.New(st, logger.Named("sequencer")),
		tokens: tokens,
		logger: logger,
	}
	s.tracker = delivery.New(loop, opts.Delivery, delivery.Callbacks{
		Resend: s.resend,
		Fail:   s.fail,
	}, logger.Named("delivery"))
	s.presence = presence.New(st, loop, opts.TypingTTL, logger.Named("presence"))
	s.expiry = auth.NewExpiryWatcher(loop, opts.ExpiryLead, s.tokenExpired, logger.Named("auth"))
	s.mgr.OnEvent(func(e conn.Event) {
		s.loop.Post(func() { s.handle(e) })
	})
	return s
}

// Start begins processing events.
func (s *Session) Start(ctx context.Context) {
	s.loop.Start(ctx)
}

// Stop disconnects and stops the dispatch loop.
func (s *Session) Stop() {
	s.mgr.Disconnect()
	s.loop.Stop()
}

// Store returns the session store for reading and subscribing.
func (s *Session) Store() *store.Store {
	return s.store
}

// State returns the connection state.
func (s *Session) State() status.Snapshot {
	return s.mgr.State()
}

// Connect fetches a token and connects. It blocks until the first attempt
// finishes and is a no-op when already connected or reconnecting.
func (s *Session) Connect(ctx context.Context) error {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}
	if err := s.mgr.Connect(ctx, tok); err != nil {
		return err
	}
	s.watch(tok)
	return nil
}

// Disconnect closes the connection. Outstanding messages stay tracked and
// are re-sent on the next connection.
func (s *Session) Disconnect() {
	s.mgr.Disconnect()
	s.loop.Post(s.expiry.Stop)
}

// Reauthenticate reconnects with a freshly fetched token. When the token
// source still hands out the current token the connection is kept.
func (s *Session) Reauthenticate(ctx context.Context) error {
	tok, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	unchanged := tok == s.token
	s.mu.Unlock()
	if unchanged {
		s.logger.Warn("token source returned the current token, not reconnecting")
		s.watch(tok)
		return nil
	}

	s.logger.Info("reauthenticating")
	s.mgr.Disconnect()
	if err := s.mgr.Connect(ctx, tok); err != nil {
		return err
	}
	s.watch(tok)
	return nil
}

// watch records tok as the connection's token and watches its expiry.
func (s *Session) watch(tok string) {
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
	s.loop.Post(func() { s.expiry.Watch(tok) })
}

// Submit creates a message and hands it to the transport. The returned
// message is Pending; its fate is observable through the store.
func (s *Session) Submit(ctx context.Context, conversationID, content string) (store.Message, error) {
	var m store.Message
	err := s.do(ctx, func() error {
		var err error
		m, err = s.seq.Submit(conversationID, content)
		if err != nil {
			return err
		}
		s.tracker.Track(m.TempID, 0)
		s.mgr.Send(sequencer.Envelope(m))
		return nil
	})
	return m, err
}

// Resend resubmits a Failed message under a new temporary id.
func (s *Session) Resend(ctx context.Context, conversationID, messageID string) (store.Message, error) {
	var m store.Message
	err := s.do(ctx, func() error {
		var err error
		m, err = s.seq.Resubmit(conversationID, messageID)
		if err != nil {
			return err
		}
		s.tracker.Track(m.TempID, 0)
		s.mgr.Send(sequencer.Envelope(m))
		return nil
	})
	return m, err
}

// MarkRead resets a conversation's unread counter.
func (s *Session) MarkRead(ctx context.Context, conversationID string) error {
	return s.do(ctx, func() error { return s.store.MarkRead(conversationID) })
}

// SetActive records the conversation on screen; empty clears it.
func (s *Session) SetActive(ctx context.Context, conversationID string) error {
	return s.do(ctx, func() error { return s.store.SetActive(conversationID) })
}

// CreateConversation creates a conversation with the given participants.
func (s *Session) CreateConversation(ctx context.Context, conversationID string, participants ...string) error {
	return s.do(ctx, func() error { return s.store.EnsureConversation(conversationID, participants...) })
}

// Restore loads persisted conversations and re-tracks outgoing messages
// that were never acknowledged. They are re-sent on the next connection.
func (s *Session) Restore(ctx context.Context, convs []store.Conversation) error {
	return s.do(ctx, func() error {
		s.store.Restore(convs)
		s.seq.Rebuild()
		out := s.seq.Outstanding()
		for _, m := range out {
			s.tracker.Track(m.ID, m.Retries)
		}
		s.logger.Info("session restored", zap.Int("conversations", len(convs)), zap.Int("outstanding", len(out)))
		return nil
	})
}

// do runs fn on the loop and returns its error.
func (s *Session) do(ctx context.Context, fn func() error) error {
	var err error
	if derr := s.loop.Do(ctx, func() { err = fn() }); derr != nil {
		if errors.Is(derr, dispatch.ErrStopped) {
			return chaterr.FailedPrecondition("session", "session is stopped")
		}
		return derr
	}
	return err
}
