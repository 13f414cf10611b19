package transport

import "context"

// Transport dials connections to the chat backend. Implementations carry the
// bearer token on connection establishment and report a rejected token as a
// chaterr AuthError, any other failure as a NetworkError.
type Transport interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// Conn is one established connection. Receive blocks until a frame arrives
// or the connection closes; the returned error then describes why it closed.
// Send and Receive may be called concurrently with each other, but not
// with themselves.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}
