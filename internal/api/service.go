package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatline.v1.Session"

// SessionServer is the server API for chatline.v1.Session.
type SessionServer interface {
	GetConnectionState(context.Context, *Empty) (*ConnectionState, error)
	Connect(context.Context, *Empty) (*ConnectionState, error)
	Disconnect(context.Context, *Empty) (*ConnectionState, error)
	Submit(context.Context, *SubmitRequest) (*MessageResponse, error)
	Resend(context.Context, *ResendRequest) (*MessageResponse, error)
	MarkRead(context.Context, *ConversationRequest) (*Empty, error)
	SetActive(context.Context, *ConversationRequest) (*Empty, error)
	CreateConversation(context.Context, *CreateConversationRequest) (*ConversationResponse, error)
	UpdateConversation(context.Context, *UpdateConversationRequest) (*ConversationResponse, error)
	ListConversations(context.Context, *ListConversationsRequest) (*ListConversationsResponse, error)
	GetConversation(context.Context, *ConversationRequest) (*ConversationResponse, error)
	Watch(*WatchRequest, grpc.ServerStreamingServer[Event]) error
}

// RegisterSessionServer registers srv on s.
func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes chatline.v1.Session. Messages are JSON encoded, so
// there is no generated protobuf code behind it.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetConnectionState", SessionServer.GetConnectionState),
		unary("Connect", SessionServer.Connect),
		unary("Disconnect", SessionServer.Disconnect),
		unary("Submit", SessionServer.Submit),
		unary("Resend", SessionServer.Resend),
		unary("MarkRead", SessionServer.MarkRead),
		unary("SetActive", SessionServer.SetActive),
		unary("CreateConversation", SessionServer.CreateConversation),
		unary("UpdateConversation", SessionServer.UpdateConversation),
		unary("ListConversations", SessionServer.ListConversations),
		unary("GetConversation", SessionServer.GetConversation),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chatline/v1/session",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Res any](name string, call func(SessionServer, context.Context, *Req) (*Res, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SessionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SessionServer), ctx, req.(*Req))
			})
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SessionServer).Watch(in, &grpc.GenericServerStream[WatchRequest, Event]{ServerStream: stream})
}

// SessionClient is the client API for chatline.v1.Session.
type SessionClient struct {
	cc grpc.ClientConnInterface
}

// NewSessionClient returns a client on cc. Every call requests the JSON codec.
func NewSessionClient(cc grpc.ClientConnInterface) *SessionClient {
	return &SessionClient{cc: cc}
}

func invoke[Res any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts []grpc.CallOption) (*Res, error) {
	out := new(Res)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SessionClient) GetConnectionState(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ConnectionState, error) {
	return invoke[ConnectionState](ctx, c.cc, "GetConnectionState", in, opts)
}

func (c *SessionClient) Connect(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ConnectionState, error) {
	return invoke[ConnectionState](ctx, c.cc, "Connect", in, opts)
}

func (c *SessionClient) Disconnect(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ConnectionState, error) {
	return invoke[ConnectionState](ctx, c.cc, "Disconnect", in, opts)
}

func (c *SessionClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*MessageResponse, error) {
	return invoke[MessageResponse](ctx, c.cc, "Submit", in, opts)
}

func (c *SessionClient) Resend(ctx context.Context, in *ResendRequest, opts ...grpc.CallOption) (*MessageResponse, error) {
	return invoke[MessageResponse](ctx, c.cc, "Resend", in, opts)
}

func (c *SessionClient) MarkRead(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "MarkRead", in, opts)
}

func (c *SessionClient) SetActive(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "SetActive", in, opts)
}

func (c *SessionClient) CreateConversation(ctx context.Context, in *CreateConversationRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c.cc, "CreateConversation", in, opts)
}

func (c *SessionClient) UpdateConversation(ctx context.Context, in *UpdateConversationRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c.cc, "UpdateConversation", in, opts)
}

func (c *SessionClient) ListConversations(ctx context.Context, in *ListConversationsRequest, opts ...grpc.CallOption) (*ListConversationsResponse, error) {
	return invoke[ListConversationsResponse](ctx, c.cc, "ListConversations", in, opts)
}

func (c *SessionClient) GetConversation(ctx context.Context, in *ConversationRequest, opts ...grpc.CallOption) (*ConversationResponse, error) {
	return invoke[ConversationResponse](ctx, c.cc, "GetConversation", in, opts)
}

// Watch opens the event stream.
func (c *SessionClient) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (grpc.ServerStreamingClient[Event], error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Watch"), opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[WatchRequest, Event]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
