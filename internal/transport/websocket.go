package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/matheus3301/chatline/internal/chaterr"
	"go.uber.org/zap"
)

// readLimit bounds a single inbound frame.
const readLimit = 1 << 20

// WebSocket dials the backend over a websocket.
type WebSocket struct {
	url    string
	header http.Header
	logger *zap.Logger
}

// NewWebSocket creates a websocket transport for the given ws:// or wss:// URL.
func NewWebSocket(url string, logger *zap.Logger) *WebSocket {
	return &WebSocket{
		url:    url,
		header: http.Header{"User-Agent": []string{"chatline"}},
		logger: logger,
	}
}

// Dial opens a connection, presenting token as a bearer credential.
func (w *WebSocket) Dial(ctx context.Context, token string) (Conn, error) {
	header := w.header.Clone()
	header.Set("Authorization", "Bearer "+token)

	w.logger.Debug("dialing websocket", zap.String("url", w.url))
	c, resp, err := websocket.Dial(ctx, w.url, &websocket.DialOptions{HTTPHeader: header}) //nolint:bodyclose // Dial closes the response body
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, chaterr.Auth("dial", fmt.Errorf("handshake rejected: %s", resp.Status))
		}
		return nil, chaterr.Network("dial", err)
	}
	c.SetReadLimit(readLimit)
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return chaterr.Network("write", err)
	}
	return nil
}

func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			// Servers close with 1008 when they revoke the session's credentials.
			if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
				return nil, chaterr.Auth("read", err)
			}
			return nil, chaterr.Network("read", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "bye")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
