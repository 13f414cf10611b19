package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatline/internal/chaterr"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/transport"
	"github.com/matheus3301/chatline/internal/wire"
	"go.uber.org/zap"
)

var errPongTimeout = errors.New("no pong within timeout")

// Options tunes connection behavior.
type Options struct {
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	Jitter             float64
	StabilityThreshold time.Duration
	HeartbeatInterval  time.Duration
	PongTimeout        time.Duration
	HandshakeTimeout   time.Duration
	OutboundQueue      int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		BackoffBase:        500 * time.Millisecond,
		BackoffMax:         30 * time.Second,
		Jitter:             0.2,
		StabilityThreshold: 30 * time.Second,
		HeartbeatInterval:  15 * time.Second,
		PongTimeout:        10 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		OutboundQueue:      256,
	}
}

type outbound struct {
	data   []byte
	tempID string
}

type inbound struct {
	data []byte
	err  error
}

// Manager owns the transport connection: it dials, authenticates, keeps the
// link alive with heartbeats and reconnects with backoff. It is the only
// writer of the connection state machine.
//
// Every connection run is tagged with a generation. Disconnect bumps the
// generation under the lock, so nothing a cancelled run does afterwards
// (state changes or events) is observable.
type Manager struct {
	transport transport.Transport
	machine   *status.Machine
	opts      Options
	backoff   Backoff
	logger    *zap.Logger

	mu      sync.Mutex
	handler Handler
	gen     uint64
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	out     chan outbound
}

// New creates a connection manager.
func New(t transport.Transport, machine *status.Machine, opts Options, logger *zap.Logger) *Manager {
	return &Manager{
		transport: t,
		machine:   machine,
		opts:      opts,
		backoff:   Backoff{Base: opts.BackoffBase, Max: opts.BackoffMax, Jitter: opts.Jitter},
		logger:    logger,
		handler:   func(Event) {},
	}
}

// OnEvent installs the event handler. Call before Connect.
func (m *Manager) OnEvent(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() status.Snapshot {
	return m.machine.Snapshot()
}

// Connect establishes the connection and waits for the first attempt to
// finish. It is a no-op while a connection is being established, is up, or
// is reconnecting. A rejected token yields an AuthError and any other
// failure a NetworkError; either way the state returns to Disconnected.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	if m.cancel != nil {
		// left over from a run that ended on its own
		m.cancel()
	}
	m.gen++
	gen := m.gen
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.running = true
	m.cancel = cancel
	m.done = done
	m.out = make(chan outbound, m.opts.OutboundQueue)
	m.mu.Unlock()

	first := make(chan error, 1)
	go m.run(runCtx, gen, token, first, done)

	select {
	case err := <-first:
		return err
	case <-ctx.Done():
		m.Disconnect()
		return ctx.Err()
	}
}

// Disconnect tears the connection down, cancelling any in-flight attempt
// and scheduled retry. It always succeeds and emits a single disconnected
// event if there was anything to tear down.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.running && m.machine.Current() == status.Disconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	cancel, done := m.cancel, m.done
	m.running = false
	m.cancel, m.done = nil, nil
	if m.machine.Current() != status.Disconnected {
		if err := m.machine.Transition(status.Disconnected); err != nil {
			m.logger.Error("disconnect transition", zap.Error(err))
		}
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	m.handler(Event{Kind: EventDisconnected, At: time.Now(), Reason: ReasonClient})
	m.mu.Unlock()
	m.logger.Info("disconnected by client")
}

// Send queues an envelope for transmission and returns immediately. The
// outcome is observable only through events: EventSent after a successful
// write. Envelopes submitted while not Connected are discarded; the
// delivery tracker re-sends them after reconnection.
func (m *Manager) Send(env wire.Envelope) {
	data, err := wire.EncodeEnvelope(env)
	if err != nil {
		m.logger.Error("encode envelope", zap.Error(err), zap.String("temp_id", env.TempID))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.machine.Current() != status.Connected {
		m.logger.Debug("envelope discarded, not connected", zap.String("temp_id", env.TempID))
		return
	}
	select {
	case m.out <- outbound{data: data, tempID: env.TempID}:
	default:
		m.logger.Warn("outbound queue full, envelope discarded", zap.String("temp_id", env.TempID))
	}
}

func (m *Manager) run(ctx context.Context, gen uint64, token string, first chan<- error, done chan struct{}) {
	defer close(done)

	c, userID, err := m.establish(ctx, gen, token)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen {
			m.toDisconnected()
			m.running = false
		}
		m.mu.Unlock()
		first <- err
		return
	}
	first <- nil

	attempt := 0
	for {
		connectedAt := time.Now()
		cause := m.serve(ctx, gen, c, userID)
		if ctx.Err() != nil {
			return
		}
		if time.Since(connectedAt) >= m.opts.StabilityThreshold {
			attempt = 0
		}
		if chaterr.IsFatal(cause) {
			m.fail(gen, cause)
			return
		}

		m.logger.Warn("connection lost", zap.Error(cause), zap.Int("attempt", attempt))
		m.emit(gen, Event{Kind: EventDisconnected, Reason: ReasonNetwork, Err: cause})

		for {
			delay := m.backoff.Delay(attempt)
			attempt++
			if !m.reconnecting(gen, attempt, delay) {
				return
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			c, userID, err = m.establish(ctx, gen, token)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			if chaterr.IsFatal(err) {
				m.fail(gen, err)
				return
			}
			m.logger.Warn("reconnect failed", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("backoff", delay))
		}
		m.logger.Info("reconnected", zap.Int("attempts", attempt))
	}
}

// establish walks Connecting → Authenticating → Connected.
func (m *Manager) establish(ctx context.Context, gen uint64, token string) (transport.Conn, string, error) {
	if err := m.transition(gen, status.Connecting); err != nil {
		return nil, "", err
	}

	hctx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	defer cancel()

	c, err := m.transport.Dial(hctx, token)
	if err != nil {
		return nil, "", classify("dial", err)
	}
	if err := m.transition(gen, status.Authenticating); err != nil {
		_ = c.Close()
		return nil, "", err
	}
	userID, err := m.authenticate(hctx, c, token)
	if err != nil {
		_ = c.Close()
		return nil, "", err
	}
	if err := m.transition(gen, status.Connected); err != nil {
		_ = c.Close()
		return nil, "", err
	}
	m.logger.Info("connected", zap.String("user_id", userID))
	return c, userID, nil
}

// authenticate sends the auth frame and waits for auth_ok, returning the
// user id the server assigned.
func (m *Manager) authenticate(ctx context.Context, c transport.Conn, token string) (string, error) {
	data, err := wire.EncodeAuth(token)
	if err != nil {
		return "", err
	}
	if err := c.Send(ctx, data); err != nil {
		return "", classify("authenticate", err)
	}
	for {
		raw, err := c.Receive(ctx)
		if err != nil {
			return "", classify("authenticate", err)
		}
		f, err := wire.Decode(raw)
		if err != nil {
			m.logger.Debug("dropping malformed frame during handshake", zap.Error(err))
			continue
		}
		switch f.Type {
		case wire.TypeAuthOK:
			return f.AuthOK.UserID, nil
		case wire.TypeError:
			if isAuthCode(f.Error.Code) {
				return "", chaterr.Auth("authenticate", fmt.Errorf("%s: %s", f.Error.Code, f.Error.Message))
			}
			return "", chaterr.Network("authenticate", fmt.Errorf("%s: %s", f.Error.Code, f.Error.Message))
		default:
			m.logger.Debug("ignoring frame before auth_ok", zap.String("type", f.Type))
		}
	}
}

// serve runs one established connection until it fails or ctx is done.
// All writes to c happen here.
func (m *Manager) serve(ctx context.Context, gen uint64, c transport.Conn, userID string) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() { _ = c.Close() }()

	m.mu.Lock()
	out := m.out
	m.mu.Unlock()

	in := make(chan inbound, 64)
	go func() {
		for {
			data, err := c.Receive(connCtx)
			select {
			case in <- inbound{data: data, err: err}:
			case <-connCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	m.emit(gen, Event{Kind: EventConnected, UserID: userID})

	heartbeat := time.NewTicker(m.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	var pongTimer *time.Timer
	var pongDeadline <-chan time.Time
	defer func() {
		if pongTimer != nil {
			pongTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg := <-in:
			if msg.err != nil {
				return classify("read", msg.err)
			}
			f, err := wire.Decode(msg.data)
			if err != nil {
				m.logger.Debug("dropping malformed frame", zap.Error(err))
				m.emit(gen, Event{Kind: EventError, Err: err})
				continue
			}
			switch f.Type {
			case wire.TypePong:
				if pongTimer != nil {
					pongTimer.Stop()
				}
				pongTimer, pongDeadline = nil, nil
			case wire.TypeMessage:
				m.emit(gen, Event{Kind: EventMessage, Message: f.Message})
			case wire.TypeAck:
				m.emit(gen, Event{Kind: EventAck, Ack: f.Ack})
			case wire.TypePresence:
				m.emit(gen, Event{Kind: EventPresence, Presence: f.Presence})
			case wire.TypeError:
				if isAuthCode(f.Error.Code) {
					return &serverAuthError{frame: f.Error}
				}
				m.emit(gen, Event{Kind: EventError, ServerError: f.Error, Err: chaterr.New(chaterr.KindProtocol, "server", f.Error.Code)})
			}

		case ob := <-out:
			if err := c.Send(connCtx, ob.data); err != nil {
				return classify("write", err)
			}
			m.emit(gen, Event{Kind: EventSent, TempID: ob.tempID})

		case <-heartbeat.C:
			if pongDeadline != nil {
				continue
			}
			if err := c.Send(connCtx, wire.EncodePing()); err != nil {
				return classify("ping", err)
			}
			pongTimer = time.NewTimer(m.opts.PongTimeout)
			pongDeadline = pongTimer.C

		case <-pongDeadline:
			m.logger.Warn("heartbeat timed out", zap.Duration("timeout", m.opts.PongTimeout))
			return chaterr.Network("heartbeat", errPongTimeout)
		}
	}
}

// serverAuthError is an auth failure reported by the server mid-connection.
type serverAuthError struct {
	frame *wire.Error
}

func (e *serverAuthError) Error() string {
	return "server revoked credentials: " + e.frame.Code
}

func (e *serverAuthError) Unwrap() error { return chaterr.ErrAuth }

func (m *Manager) transition(gen uint64, to status.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return context.Canceled
	}
	return m.machine.Transition(to)
}

// reconnecting records the attempt and discards envelopes queued for the
// connection that just died. It reports false if the run was cancelled.
func (m *Manager) reconnecting(gen uint64, attempt int, delay time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	if err := m.machine.Reconnect(attempt, time.Now().Add(delay)); err != nil {
		m.logger.Error("reconnect transition", zap.Error(err))
		return false
	}
drain:
	for {
		select {
		case <-m.out:
		default:
			break drain
		}
	}
	return true
}

// fail stops the run after a fatal error.
func (m *Manager) fail(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	m.logger.Error("authentication failed, not retrying", zap.Error(err))
	m.toDisconnected()
	m.running = false

	evt := Event{Kind: EventError, At: time.Now(), Err: chaterr.Auth("connection", err)}
	var sae *serverAuthError
	if errors.As(err, &sae) {
		evt.ServerError = sae.frame
	}
	m.handler(evt)
	m.handler(Event{Kind: EventDisconnected, At: time.Now(), Reason: ReasonAuth, Err: err})
}

// toDisconnected must be called with m.mu held.
func (m *Manager) toDisconnected() {
	if m.machine.Current() == status.Disconnected {
		return
	}
	if err := m.machine.Transition(status.Disconnected); err != nil {
		m.logger.Error("disconnected transition", zap.Error(err))
	}
}

func (m *Manager) emit(gen uint64, evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	m.handler(evt)
}

func isAuthCode(code string) bool {
	return code == wire.CodeUnauthorized || code == wire.CodeTokenExpired
}

// classify keeps typed chaterr errors and treats anything else as a network failure.
func classify(op string, err error) error {
	var ce *chaterr.Error
	if errors.As(err, &ce) {
		return err
	}
	return chaterr.Network(op, err)
}
