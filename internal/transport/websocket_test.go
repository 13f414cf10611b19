package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/chatline/internal/chaterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// echoServer accepts connections bearing "good" and echoes text frames.
func echoServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		for {
			typ, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketRoundTrip(t *testing.T) {
	ws := NewWebSocket(echoServer(t), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := ws.Dial(ctx, "good")
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.Send(ctx, []byte(`{"type":"ping"}`)))
	got, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(got))
}

func TestWebSocketRejectedTokenIsAuthError(t *testing.T) {
	ws := NewWebSocket(echoServer(t), zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ws.Dial(ctx, "bad")
	assert.ErrorIs(t, err, chaterr.ErrAuth)
}

func TestWebSocketUnreachableIsNetworkError(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1/unreachable", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ws.Dial(ctx, "good")
	assert.ErrorIs(t, err, chaterr.ErrNetwork)
}
