package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/chat"
	"github.com/matheus3301/chatline/internal/chaterr"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// Service implements SessionServer on top of a chat session.
type Service struct {
	profile   string
	startedAt time.Time
	session   *chat.Session
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewService creates the session service for a profile.
func NewService(profile string, session *chat.Session, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		profile:   profile,
		startedAt: time.Now(),
		session:   session,
		bus:       b,
		logger:    logger,
	}
}

func (s *Service) state() *ConnectionState {
	st := stateFromStatus(s.session.State())
	st.Profile = s.profile
	st.UptimeMs = time.Since(s.startedAt).Milliseconds()
	st.StoreVersion = s.session.Store().Version()
	return st
}

func (s *Service) GetConnectionState(_ context.Context, _ *Empty) (*ConnectionState, error) {
	return s.state(), nil
}

// Connect is awaited by the user, so its failure is reported.
func (s *Service) Connect(ctx context.Context, _ *Empty) (*ConnectionState, error) {
	if err := s.session.Connect(ctx); err != nil {
		return nil, toStatus(err)
	}
	return s.state(), nil
}

func (s *Service) Disconnect(_ context.Context, _ *Empty) (*ConnectionState, error) {
	s.session.Disconnect()
	return s.state(), nil
}

// Submit accepts the message whatever the connection state; delivery
// progress is observable through the store.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*MessageResponse, error) {
	m, err := s.session.Submit(ctx, req.ConversationID, req.Content)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: messageFromStore(m)}, nil
}

func (s *Service) Resend(ctx context.Context, req *ResendRequest) (*MessageResponse, error) {
	m, err := s.session.Resend(ctx, req.ConversationID, req.MessageID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MessageResponse{Message: messageFromStore(m)}, nil
}

func (s *Service) MarkRead(ctx context.Context, req *ConversationRequest) (*Empty, error) {
	return &Empty{}, toStatus(s.session.MarkRead(ctx, req.ConversationID))
}

func (s *Service) SetActive(ctx context.Context, req *ConversationRequest) (*Empty, error) {
	return &Empty{}, toStatus(s.session.SetActive(ctx, req.ConversationID))
}

func (s *Service) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*ConversationResponse, error) {
	if err := s.session.CreateConversation(ctx, req.ConversationID, req.Participants...); err != nil {
		return nil, toStatus(err)
	}
	return s.conversation(req.ConversationID, false)
}

func (s *Service) UpdateConversation(ctx context.Context, req *UpdateConversationRequest) (*ConversationResponse, error) {
	action, err := chat.ParseAction(req.Action)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.session.UpdateConversation(ctx, req.ConversationID, action); err != nil {
		return nil, toStatus(err)
	}
	return s.conversation(req.ConversationID, false)
}

func (s *Service) ListConversations(_ context.Context, req *ListConversationsRequest) (*ListConversationsResponse, error) {
	snap := s.session.Store().Snapshot()
	convs := snap.Conversations()
	if req.IncludeDeleted {
		convs = snap.All()
	}
	resp := &ListConversationsResponse{Version: snap.Version, Conversations: make([]Conversation, 0, len(convs))}
	for _, c := range convs {
		resp.Conversations = append(resp.Conversations, conversationFromStore(c, snap, false))
	}
	return resp, nil
}

func (s *Service) GetConversation(_ context.Context, req *ConversationRequest) (*ConversationResponse, error) {
	return s.conversation(req.ConversationID, true)
}

func (s *Service) conversation(id string, full bool) (*ConversationResponse, error) {
	snap := s.session.Store().Snapshot()
	c, ok := snap.Conversation(id)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "conversation %s not found", id)
	}
	return &ConversationResponse{Version: snap.Version, Conversation: conversationFromStore(c, snap, full)}, nil
}

// Watch streams bus events until the client goes away. The first event
// carries the current state and store version so clients can resync.
func (s *Service) Watch(req *WatchRequest, stream grpc.ServerStreamingServer[Event]) error {
	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	st := s.state()
	if err := stream.Send(&Event{
		EventID:          uuid.NewString(),
		Kind:             KindHello,
		OccurredAtUnixMs: time.Now().UnixMilli(),
		Version:          st.StoreVersion,
		State:            st,
	}); err != nil {
		return err
	}

	for {
		select {
		case evt := <-ch:
			if !matches(req.Prefixes, evt.Kind) {
				continue
			}
			if err := stream.Send(s.toEvent(evt)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// KindHello is the kind of the first Watch event.
const KindHello = "watch.hello"

func matches(prefixes []string, kind string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

func (s *Service) toEvent(evt bus.Event) *Event {
	out := &Event{
		EventID:          evt.ID,
		Kind:             evt.Kind,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
	}
	switch p := evt.Payload.(type) {
	case store.StoreChange:
		out.Version = p.Version
		out.Change = &Change{
			Kind:           string(p.Change.Kind),
			ConversationID: p.Change.ConversationID,
			MessageID:      p.Change.MessageID,
			PrevID:         p.Change.PrevID,
		}
	case status.StatusChange:
		out.State = &ConnectionState{
			Profile:           s.profile,
			State:             string(p.To),
			Attempt:           p.Attempt,
			NextRetryAtUnixMs: unixMs(p.NextRetryAt),
			SinceUnixMs:       evt.Timestamp.UnixMilli(),
		}
	case chat.MessageFailed:
		out.Failed = &MessageFailed{ConversationID: p.ConversationID, MessageID: p.MessageID, Cause: p.Cause}
	case error:
		out.Error = p.Error()
	}
	return out
}

// toStatus maps session errors onto gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	code := codes.Internal
	switch chaterr.KindOf(err) {
	case chaterr.KindAuth:
		code = codes.Unauthenticated
	case chaterr.KindNetwork:
		code = codes.Unavailable
	case chaterr.KindNotFound:
		code = codes.NotFound
	case chaterr.KindInvalidArgument:
		code = codes.InvalidArgument
	case chaterr.KindFailedPrecondition:
		code = codes.FailedPrecondition
	case chaterr.KindDeliveryTimeout:
		code = codes.DeadlineExceeded
	default:
		switch {
		case errors.Is(err, context.Canceled):
			code = codes.Canceled
		case errors.Is(err, context.DeadlineExceeded):
			code = codes.DeadlineExceeded
		}
	}
	return grpcstatus.Error(code, err.Error())
}
