package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("connection.", 10)
	defer unsub()

	b.Publish(NewEvent(KindConnectionState, "test"))

	select {
	case evt := <-ch:
		assert.Equal(t, KindConnectionState, evt.Kind)
		assert.NotEmpty(t, evt.ID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	b.Publish(NewEvent(KindConnectionState, nil))
	b.Publish(NewEvent(KindStoreChanged, nil))

	select {
	case evt := <-ch:
		assert.Equal(t, KindStoreChanged, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The connection event must not have been delivered.
	assert.Never(t, func() bool { return len(ch) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("store.", 10)
	unsub()
	unsub() // second call is a no-op

	b.Publish(NewEvent(KindStoreChanged, nil))
	assert.Empty(t, ch)
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	b.Publish(Event{Kind: "message.one"})
	// Buffer is full: this one is dropped without blocking.
	b.Publish(Event{Kind: "message.two"})

	require.Len(t, ch, 1)
	assert.Equal(t, "message.one", (<-ch).Kind)
	assert.Equal(t, uint64(1), b.Dropped())
}
