package chat

import (
	"context"
	"errors"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/chaterr"
	"github.com/matheus3301/chatline/internal/conn"
	"github.com/matheus3301/chatline/internal/sequencer"
	"github.com/matheus3301/chatline/internal/wire"
	"go.uber.org/zap"
)

// handle applies a connection event. Runs on the loop.
func (s *Session) handle(e conn.Event) {
	switch e.Kind {
	case conn.EventConnected:
		if e.UserID != "" {
			s.seq.SetUserID(e.UserID)
		}
		s.tracker.OnConnected()

	case conn.EventDisconnected:
		s.tracker.OnDisconnected()
		s.presence.Reset()
		if e.Reason == conn.ReasonAuth {
			s.expiry.Stop()
		}

	case conn.EventMessage:
		s.inbound(*e.Message)

	case conn.EventAck:
		if _, ok := s.seq.OnAck(*e.Ack); ok {
			s.tracker.Ack(e.Ack.TempID)
		}

	case conn.EventSent:
		s.seq.MarkSent(e.TempID)

	case conn.EventPresence:
		s.presence.Apply(*e.Presence)

	case conn.EventError:
		s.serverError(e)
	}
}

func (s *Session) inbound(in wire.Message) {
	m, err := s.seq.OnInbound(in)
	switch {
	case errors.Is(err, chaterr.ErrDuplicateFrame):
		s.logger.Debug("duplicate frame dropped",
			zap.String("conversation_id", in.ConversationID), zap.String("server_id", in.ServerID), zap.Int64("sequence", in.Sequence))
		return
	case err != nil:
		s.logger.Warn("inbound message not stored", zap.String("server_id", in.ServerID), zap.Error(err))
		return
	}
	if in.TempID != "" {
		s.tracker.Ack(in.TempID)
	}
	s.presence.MessageFrom(m.ConversationID, m.SenderID)
}

func (s *Session) serverError(e conn.Event) {
	s.bus.Publish(bus.NewEvent(bus.KindConnectionError, e.Err))
	if e.ServerError == nil {
		s.logger.Debug("connection error", zap.Error(e.Err))
		return
	}
	se := e.ServerError
	switch {
	case se.Code == wire.CodeRejected && se.TempID != "":
		s.tracker.Reject(se.TempID, chaterr.New(chaterr.KindProtocol, "server", se.Message))
	case se.Code == wire.CodeTokenExpired:
		s.tokenExpired()
	default:
		s.logger.Warn("server error", zap.String("code", se.Code), zap.String("message", se.Message))
	}
}

// resend is the tracker's Resend callback.
func (s *Session) resend(tempID string, retries int) {
	if retries > 0 {
		s.seq.SetRetries(tempID, retries)
	}
	m, ok := s.seq.Lookup(tempID)
	if !ok {
		s.logger.Warn("resend of unknown message", zap.String("temp_id", tempID))
		return
	}
	s.mgr.Send(sequencer.Envelope(m))
}

// fail is the tracker's Fail callback.
func (s *Session) fail(tempID string, cause error) {
	m, ok := s.seq.Fail(tempID)
	if !ok {
		return
	}
	s.bus.Publish(bus.NewEvent(bus.KindMessageFailed, MessageFailed{
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Cause:          cause.Error(),
	}))
}

// tokenExpired runs on the loop; reconnecting blocks, so it happens
// elsewhere.
func (s *Session) tokenExpired() {
	s.bus.Publish(bus.NewEvent(bus.KindTokenExpired, nil))
	go func() {
		if err := s.Reauthenticate(context.Background()); err != nil {
			s.logger.Error("reauthentication failed", zap.Error(err))
		}
	}()
}
