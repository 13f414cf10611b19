package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/matheus3301/chatline/internal/chaterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.StandardClaims{Subject: "me"}
	if !exp.IsZero() {
		claims.ExpiresAt = exp.Unix()
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

func TestStatic(t *testing.T) {
	tok, err := Static(" abc \n").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = Static("").Token(context.Background())
	assert.ErrorIs(t, err, chaterr.ErrAuth)
}

func TestFileRereadsEachCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0o600))
	src := File{Path: path}

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0o600))
	tok, err = src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", tok)
}

func TestFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := File{Path: filepath.Join(dir, "missing")}.Token(context.Background())
	assert.ErrorIs(t, err, chaterr.ErrAuth)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = File{Path: empty}.Token(context.Background())
	assert.ErrorIs(t, err, chaterr.ErrAuth)
}

func TestNewSource(t *testing.T) {
	assert.Equal(t, File{Path: "/tmp/tok"}, NewSource("inline", "/tmp/tok"))
	assert.Equal(t, Static("inline"), NewSource("inline", ""))
}

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := Expiry(signed(t, exp))
	require.True(t, ok)
	assert.True(t, got.Equal(exp))

	_, ok = Expiry(signed(t, time.Time{}))
	assert.False(t, ok, "no exp claim")

	_, ok = Expiry("opaque-token")
	assert.False(t, ok)
}

type recordingScheduler struct {
	key string
	d   time.Duration
	fn  func()
}

func (s *recordingScheduler) AfterFunc(key string, d time.Duration, fn func()) {
	s.key, s.d, s.fn = key, d, fn
}

func (s *recordingScheduler) Cancel(key string) {
	if s.key == key {
		s.key, s.fn = "", nil
	}
}

func TestExpiryWatcher(t *testing.T) {
	sched := &recordingScheduler{}
	fired := 0
	w := NewExpiryWatcher(sched, 30*time.Second, func() { fired++ }, zap.NewNop())
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	require.True(t, w.Watch(signed(t, now.Add(10*time.Minute))))
	assert.Equal(t, 9*time.Minute+30*time.Second, sched.d)
	sched.fn()
	assert.Equal(t, 1, fired)

	// Already inside the lead window: fire immediately.
	require.True(t, w.Watch(signed(t, now.Add(10*time.Second))))
	assert.Zero(t, sched.d)

	assert.False(t, w.Watch("opaque"))
	assert.Nil(t, sched.fn, "an opaque token cancels the previous watch")

	w.Watch(signed(t, now.Add(time.Hour)))
	w.Stop()
	assert.Nil(t, sched.fn)
}

func TestExpiryWatcherUnchangedToken(t *testing.T) {
	sched := &recordingScheduler{}
	fired := 0
	w := NewExpiryWatcher(sched, 30*time.Second, func() { fired++ }, zap.NewNop())
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	tok := signed(t, now.Add(20*time.Second))

	require.True(t, w.Watch(tok))
	assert.Zero(t, sched.d, "inside the lead window")
	sched.fn()
	assert.Equal(t, 1, fired)

	// The same token again waits for the real expiry.
	require.True(t, w.Watch(tok))
	assert.Equal(t, 20*time.Second, sched.d)
	sched.fn()
	assert.Equal(t, 2, fired)

	// Then it is not armed any more.
	sched.fn = nil
	require.True(t, w.Watch(tok))
	assert.Nil(t, sched.fn)

	// A replacement token starts over.
	require.True(t, w.Watch(signed(t, now.Add(time.Hour))))
	assert.Equal(t, 59*time.Minute+30*time.Second, sched.d)
}
