// Package transporttest provides an in-memory chat backend for exercising
// the session layer without a network.
package transporttest

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/chatline/internal/chaterr"
	"github.com/matheus3301/chatline/internal/transport"
	"github.com/matheus3301/chatline/internal/wire"
)

// ErrClosed is returned by Receive after the server drops a connection.
var ErrClosed = errors.New("transporttest: connection closed")

// Server is a scripted backend. The zero value is not usable; use NewServer.
type Server struct {
	mu        sync.Mutex
	conns     []*Conn
	dials     int
	failDials int
	dialErr   error
	envelopes []wire.Envelope
	nextSeq   map[string]int64
	connected chan *Conn

	rejectToken string
	autoAck     bool
	silentPings bool
}

// NewServer creates a server that accepts any token.
func NewServer() *Server {
	return &Server{
		nextSeq:   make(map[string]int64),
		connected: make(chan *Conn, 64),
	}
}

var _ transport.Transport = (*Server)(nil)

// Dial implements transport.Transport.
func (s *Server) Dial(ctx context.Context, token string) (transport.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.failDials > 0 {
		s.failDials--
		return nil, s.dialErr
	}
	if err := ctx.Err(); err != nil {
		return nil, chaterr.Network("dial", err)
	}
	c := &Conn{
		server:   s,
		token:    token,
		toClient: make(chan []byte, 256),
		closed:   make(chan struct{}),
	}
	s.conns = append(s.conns, c)
	select {
	case s.connected <- c:
	default:
	}
	return c, nil
}

// RejectToken makes the authentication phase fail for token.
func (s *Server) RejectToken(token string) {
	s.mu.Lock()
	s.rejectToken = token
	s.mu.Unlock()
}

// SetAutoAck makes the server answer every envelope with an ack carrying
// the conversation's next sequence.
func (s *Server) SetAutoAck(on bool) {
	s.mu.Lock()
	s.autoAck = on
	s.mu.Unlock()
}

// SetSilentPings suppresses pong replies, simulating a dead peer.
func (s *Server) SetSilentPings(on bool) {
	s.mu.Lock()
	s.silentPings = on
	s.mu.Unlock()
}

// FailNextDials makes the next n dials fail with err. A nil err means a
// generic NetworkError.
func (s *Server) FailNextDials(n int, err error) {
	if err == nil {
		err = chaterr.Network("dial", errors.New("connection refused"))
	}
	s.mu.Lock()
	s.failDials = n
	s.dialErr = err
	s.mu.Unlock()
}

// Dials returns how many dials were attempted.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Connected delivers each successfully dialed connection.
func (s *Server) Connected() <-chan *Conn {
	return s.connected
}

// Active returns the most recent open connection, or nil.
func (s *Server) Active() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.conns) - 1; i >= 0; i-- {
		if !s.conns[i].isClosed() {
			return s.conns[i]
		}
	}
	return nil
}

// Envelopes returns every envelope received, across all connections, in arrival order.
func (s *Server) Envelopes() []wire.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Envelope(nil), s.envelopes...)
}

// Push sends an inbound frame on the active connection. It reports false
// when no connection is open.
func (s *Server) Push(f wire.Frame) bool {
	c := s.Active()
	if c == nil {
		return false
	}
	data, err := wire.Encode(f)
	if err != nil {
		return false
	}
	return c.deliver(data)
}

// PushRaw sends arbitrary bytes, e.g. to exercise protocol errors.
func (s *Server) PushRaw(data []byte) bool {
	c := s.Active()
	if c == nil {
		return false
	}
	return c.deliver(data)
}

// Drop closes the active connection from the server side.
func (s *Server) Drop() {
	if c := s.Active(); c != nil {
		c.closeWith(chaterr.Network("read", ErrClosed))
	}
}

// Ack acknowledges tempID in conversationID with the next sequence number.
func (s *Server) Ack(conversationID, tempID, serverID string) int64 {
	s.mu.Lock()
	s.nextSeq[conversationID]++
	seq := s.nextSeq[conversationID]
	s.mu.Unlock()
	s.Push(wire.Frame{Type: wire.TypeAck, Ack: &wire.Ack{TempID: tempID, ServerID: serverID, Sequence: seq}})
	return seq
}

func (s *Server) handle(c *Conn, data []byte) {
	out, err := wire.DecodeOutbound(data)
	if err != nil {
		return
	}
	s.mu.Lock()
	reject, autoAck, silent := s.rejectToken, s.autoAck, s.silentPings
	s.mu.Unlock()

	switch out.Type {
	case wire.TypeAuth:
		if reject != "" && out.Auth.Token == reject {
			reply, _ := wire.Encode(wire.Frame{Type: wire.TypeError, Error: &wire.Error{Code: wire.CodeUnauthorized, Message: "bad token"}})
			c.deliver(reply)
			return
		}
		reply, _ := wire.Encode(wire.Frame{Type: wire.TypeAuthOK, AuthOK: &wire.AuthOK{UserID: "me"}})
		c.deliver(reply)
	case wire.TypePing:
		if !silent {
			c.deliver([]byte(`{"type":"pong"}`))
		}
	case wire.TypeEnvelope:
		s.mu.Lock()
		s.envelopes = append(s.envelopes, *out.Envelope)
		s.mu.Unlock()
		if autoAck {
			s.Ack(out.Envelope.ConversationID, out.Envelope.TempID, "srv-"+out.Envelope.TempID)
		}
	}
}

// Conn is the client side of an in-memory connection.
type Conn struct {
	server   *Server
	token    string
	toClient chan []byte

	mu       sync.Mutex
	closed   chan struct{}
	closeErr error
}

// Token returns the bearer token presented on dial.
func (c *Conn) Token() string { return c.token }

// Send implements transport.Conn.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if c.isClosed() {
		return chaterr.Network("write", ErrClosed)
	}
	c.server.handle(c, data)
	return nil
}

// Receive implements transport.Conn.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.toClient:
		return data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.closeErr
	case <-ctx.Done():
		return nil, chaterr.Network("read", ctx.Err())
	}
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.closeWith(chaterr.Network("read", ErrClosed))
	return nil
}

func (c *Conn) deliver(data []byte) bool {
	if c.isClosed() {
		return false
	}
	select {
	case c.toClient <- data:
		return true
	default:
		return false
	}
}

func (c *Conn) closeWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
	default:
		c.closeErr = err
		close(c.closed)
	}
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
