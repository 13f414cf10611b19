package presence

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/dispatch"
	"github.com/matheus3301/chatline/internal/store"
	"github.com/matheus3301/chatline/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLoop(t *testing.T) *dispatch.Loop {
	t.Helper()
	l := dispatch.New(zap.NewNop())
	l.Start(context.Background())
	t.Cleanup(l.Stop)
	return l
}

// on runs fn on the loop and waits for it.
func on(t *testing.T, l *dispatch.Loop, fn func()) {
	t.Helper()
	require.NoError(t, l.Do(context.Background(), fn))
}

func typing(st *store.Store, conv string) []string {
	return st.Snapshot().Typing[conv]
}

func TestTypingExpires(t *testing.T) {
	l := newLoop(t)
	st := store.New(nil)
	tr := New(st, l, 30*time.Millisecond, zap.NewNop())

	on(t, l, func() { tr.Apply(wire.Presence{UserID: "bob", Status: StatusTyping, ConversationID: "c1"}) })
	require.Equal(t, []string{"bob"}, typing(st, "c1"))
	assert.Equal(t, StatusOnline, st.Snapshot().Presence["bob"], "typing user is online")

	assert.Eventually(t, func() bool { return len(typing(st, "c1")) == 0 },
		time.Second, 5*time.Millisecond, "typing indicator never expired")
}

func TestTypingRefreshExtends(t *testing.T) {
	l := newLoop(t)
	st := store.New(nil)
	tr := New(st, l, 60*time.Millisecond, zap.NewNop())
	p := wire.Presence{UserID: "bob", Status: StatusTyping, ConversationID: "c1"}

	on(t, l, func() { tr.Apply(p) })
	time.Sleep(40 * time.Millisecond)
	on(t, l, func() { tr.Apply(p) })
	time.Sleep(40 * time.Millisecond)

	assert.Len(t, typing(st, "c1"), 1, "refresh should have extended the indicator")
}

func TestMessageClearsTyping(t *testing.T) {
	l := newLoop(t)
	st := store.New(nil)
	tr := New(st, l, time.Hour, zap.NewNop())

	on(t, l, func() {
		tr.Apply(wire.Presence{UserID: "bob", Status: StatusTyping, ConversationID: "c1"})
		tr.Apply(wire.Presence{UserID: "amy", Status: StatusTyping, ConversationID: "c1"})
		tr.MessageFrom("c1", "bob")
	})
	assert.Equal(t, []string{"amy"}, typing(st, "c1"))
	assert.False(t, l.Armed("typing/c1/bob"), "timer for bob should be cancelled")
}

func TestStatusUpdates(t *testing.T) {
	l := newLoop(t)
	st := store.New(nil)
	tr := New(st, l, time.Hour, zap.NewNop())

	for _, status := range []string{StatusOnline, StatusAway, StatusOffline} {
		on(t, l, func() { tr.Apply(wire.Presence{UserID: "bob", Status: status}) })
		assert.Equal(t, status, st.Snapshot().Presence["bob"])
	}
}

func TestOfflineClearsTyping(t *testing.T) {
	l := newLoop(t)
	st := store.New(nil)
	tr := New(st, l, time.Hour, zap.NewNop())

	on(t, l, func() {
		tr.Apply(wire.Presence{UserID: "bob", Status: StatusTyping, ConversationID: "c1"})
		tr.Apply(wire.Presence{UserID: "bob", Status: StatusTyping, ConversationID: "c2"})
		tr.Apply(wire.Presence{UserID: "bob", Status: StatusOffline})
	})
	assert.Empty(t, st.Snapshot().Typing)
}

func TestTypingWithoutConversationIgnored(t *testing.T) {
	l := newLoop(t)
	st := store.New(nil)
	tr := New(st, l, time.Hour, zap.NewNop())

	on(t, l, func() { tr.Apply(wire.Presence{UserID: "bob", Status: StatusTyping}) })
	assert.Zero(t, st.Version(), "store changed on malformed typing presence")
}

func TestReset(t *testing.T) {
	l := newLoop(t)
	st := store.New(nil)
	tr := New(st, l, time.Hour, zap.NewNop())

	on(t, l, func() {
		tr.Apply(wire.Presence{UserID: "bob", Status: StatusTyping, ConversationID: "c1"})
		tr.Reset()
	})
	assert.Empty(t, st.Snapshot().Typing)
}
