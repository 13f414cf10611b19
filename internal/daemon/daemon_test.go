package daemon

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/api"
	"github.com/matheus3301/chatline/internal/client"
	"github.com/matheus3301/chatline/internal/config"
	"github.com/matheus3301/chatline/internal/lock"
	"github.com/matheus3301/chatline/internal/profile"
	"github.com/matheus3301/chatline/internal/store"
	"github.com/matheus3301/chatline/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

const waitFor = 3 * time.Second

// testHome points the profile tree at a short /tmp path; Unix socket paths
// are limited to about 104 bytes on macOS.
func testHome(t *testing.T) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "chatline-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv(profile.HomeEnv, dir)
}

func testConfig(autoConnect bool) *config.Config {
	cfg := config.Default()
	cfg.Token = "tok"
	cfg.AutoConnect = autoConnect
	cfg.BackoffBase = 5 * time.Millisecond
	cfg.BackoffMax = 20 * time.Millisecond
	cfg.RetryTimeout = time.Hour
	return cfg
}

func startDaemon(t *testing.T, backend *transporttest.Server, cfg *config.Config) (*fxtest.App, *client.Client) {
	t.Helper()
	app := fxtest.New(t, Module(Params{
		Profile:   "test",
		Config:    cfg,
		Transport: backend,
		Logger:    zaptest.NewLogger(t),
	}))
	app.RequireStart()

	c, err := client.New(profile.SocketPath("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return app, c
}

func callCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

func waitState(t *testing.T, c *client.Client, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := c.GetConnectionState(callCtx(t), &api.Empty{})
		return err == nil && st.State == want
	}, waitFor, 10*time.Millisecond, "state never became %s", want)
}

func TestDaemonAutoConnectsAndDelivers(t *testing.T) {
	testHome(t)
	backend := transporttest.NewServer()
	backend.SetAutoAck(true)
	app, c := startDaemon(t, backend, testConfig(true))
	defer app.RequireStop()

	waitState(t, c, "CONNECTED")

	resp, err := c.Submit(callCtx(t), &api.SubmitRequest{ConversationID: "c1", Content: "hello"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := c.GetConversation(callCtx(t), &api.ConversationRequest{ConversationID: "c1"})
		return err == nil && len(got.Conversation.Messages) == 1 &&
			got.Conversation.Messages[0].ID == "srv-"+resp.Message.TempID
	}, waitFor, 10*time.Millisecond)

	info, err := os.Stat(profile.SocketPath("test"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestDaemonRestoresOutstandingMessages(t *testing.T) {
	testHome(t)

	// First run: never connected, so the message stays Pending.
	app, c := startDaemon(t, transporttest.NewServer(), testConfig(false))
	resp, err := c.Submit(callCtx(t), &api.SubmitRequest{ConversationID: "c1", Content: "queued"})
	require.NoError(t, err)
	app.RequireStop()

	_, err = os.Stat(profile.SocketPath("test"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "socket removed on stop")

	// Second run picks the message up from the journal and sends it.
	backend := transporttest.NewServer()
	backend.SetAutoAck(true)
	app, c = startDaemon(t, backend, testConfig(false))
	defer app.RequireStop()

	got, err := c.GetConversation(callCtx(t), &api.ConversationRequest{ConversationID: "c1"})
	require.NoError(t, err)
	require.Len(t, got.Conversation.Messages, 1)
	assert.Equal(t, resp.Message.TempID, got.Conversation.Messages[0].ID)
	assert.Equal(t, string(store.Pending), got.Conversation.Messages[0].State)

	_, err = c.Connect(callCtx(t), &api.Empty{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := c.GetConversation(callCtx(t), &api.ConversationRequest{ConversationID: "c1"})
		return err == nil && len(got.Conversation.Messages) == 1 &&
			got.Conversation.Messages[0].State == string(store.Delivered)
	}, waitFor, 10*time.Millisecond)
	envs := backend.Envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, "queued", envs[0].Content)
}

func TestSecondDaemonFailsOnLock(t *testing.T) {
	testHome(t)
	app, _ := startDaemon(t, transporttest.NewServer(), testConfig(false))
	defer app.RequireStop()

	second := fx.New(
		Module(Params{Profile: "test", Config: testConfig(false), Transport: transporttest.NewServer(), Logger: zaptest.NewLogger(t)}),
	)
	err := second.Err()
	var held *lock.HeldError
	require.ErrorAs(t, err, &held)
	assert.Equal(t, os.Getpid(), held.PID)
}

func TestMissingServerURL(t *testing.T) {
	testHome(t)
	cfg := testConfig(false)
	app := fx.New(Module(Params{Profile: "test", Config: cfg, Logger: zaptest.NewLogger(t)}))
	require.ErrorContains(t, app.Err(), "server_url")
}

func TestSessionOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MaxRetries = 9
	cfg.RetryTimeout = 7 * time.Second
	cfg.HeartbeatInterval = time.Minute
	cfg.TypingTTL = 0

	opts := sessionOptions(cfg)
	assert.Equal(t, 9, opts.Delivery.MaxRetries)
	assert.Equal(t, 7*time.Second, opts.Delivery.RetryTimeout)
	assert.Equal(t, time.Minute, opts.Conn.HeartbeatInterval)
	assert.Positive(t, opts.TypingTTL, "zero keeps the default")
}
