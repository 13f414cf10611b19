package delivery

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/chaterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// manualScheduler fires timers only when told to.
type manualScheduler struct {
	timers map[string]func()
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{timers: make(map[string]func())}
}

func (s *manualScheduler) AfterFunc(key string, _ time.Duration, fn func()) {
	s.timers[key] = fn
}

func (s *manualScheduler) Cancel(key string) {
	delete(s.timers, key)
}

func (s *manualScheduler) fire(tempID string) bool {
	fn, ok := s.timers[timerKey(tempID)]
	if !ok {
		return false
	}
	delete(s.timers, timerKey(tempID))
	fn()
	return true
}

type resend struct {
	tempID  string
	retries int
}

type harness struct {
	sched   *manualScheduler
	tracker *Tracker
	resends []resend
	failed  map[string]error
}

func newHarness() *harness {
	h := &harness{sched: newManualScheduler(), failed: make(map[string]error)}
	h.tracker = New(h.sched, DefaultOptions(), Callbacks{
		Resend: func(id string, n int) { h.resends = append(h.resends, resend{id, n}) },
		Fail:   func(id string, err error) { h.failed[id] = err },
	}, zap.NewNop())
	return h
}

func TestRetryCeiling(t *testing.T) {
	h := newHarness()
	h.tracker.OnConnected()
	h.tracker.Track("m1", 0)

	for i := 1; i <= 3; i++ {
		require.True(t, h.sched.fire("m1"), "timer %d not armed", i)
		require.Len(t, h.resends, i)
		assert.Equal(t, resend{"m1", i}, h.resends[i-1])
	}

	require.True(t, h.sched.fire("m1"))
	assert.Len(t, h.resends, 3, "no resend after the ceiling")
	require.Contains(t, h.failed, "m1")
	assert.True(t, errors.Is(h.failed["m1"], chaterr.ErrDeliveryTimeout))
	assert.False(t, h.sched.fire("m1"), "no timer after failure")
	assert.Empty(t, h.tracker.Outstanding())
}

func TestAckStopsRetries(t *testing.T) {
	h := newHarness()
	h.tracker.OnConnected()
	h.tracker.Track("m1", 0)
	require.True(t, h.sched.fire("m1"))

	assert.True(t, h.tracker.Ack("m1"))
	assert.False(t, h.sched.fire("m1"))
	assert.False(t, h.tracker.Ack("m1"))
	assert.Empty(t, h.failed)
}

func TestNoRetriesWhileDisconnected(t *testing.T) {
	h := newHarness()
	h.tracker.Track("m1", 0)
	h.tracker.Track("m2", 0)
	h.tracker.Track("m3", 0)

	assert.Empty(t, h.sched.timers, "no timers while disconnected")
	assert.Empty(t, h.resends)

	h.tracker.OnConnected()
	assert.Equal(t, []resend{{"m1", 0}, {"m2", 0}, {"m3", 0}}, h.resends, "drain in submission order, not counted")
	assert.Len(t, h.sched.timers, 3)
}

func TestDisconnectCancelsTimers(t *testing.T) {
	h := newHarness()
	h.tracker.OnConnected()
	h.tracker.Track("m1", 0)
	require.True(t, h.sched.fire("m1"))

	h.tracker.OnDisconnected()
	assert.Empty(t, h.sched.timers)

	h.tracker.OnConnected()
	assert.Equal(t, resend{"m1", 1}, h.resends[len(h.resends)-1], "drain keeps the retry count")
	n, ok := h.tracker.Retries("m1")
	require.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestStaleTimerAfterDisconnectIsIgnored(t *testing.T) {
	h := newHarness()
	h.tracker.OnConnected()
	h.tracker.Track("m1", 0)
	fn := h.sched.timers[timerKey("m1")]

	h.tracker.OnDisconnected()
	fn()
	assert.Empty(t, h.resends)
}

func TestRejectFailsImmediately(t *testing.T) {
	h := newHarness()
	h.tracker.OnConnected()
	h.tracker.Track("m1", 0)

	cause := chaterr.New(chaterr.KindProtocol, "server", "rejected")
	assert.True(t, h.tracker.Reject("m1", cause))
	assert.Equal(t, cause, h.failed["m1"])
	assert.False(t, h.sched.fire("m1"))
	assert.False(t, h.tracker.Reject("m1", cause))
}

func TestReconnectDrainOrderSurvivesAcks(t *testing.T) {
	h := newHarness()
	for _, id := range []string{"a", "b", "c", "d"} {
		h.tracker.Track(id, 0)
	}
	h.tracker.Ack("b")
	h.tracker.OnConnected()
	assert.Equal(t, []resend{{"a", 0}, {"c", 0}, {"d", 0}}, h.resends)
}

func TestTrackRestoredRetries(t *testing.T) {
	h := newHarness()
	h.tracker.Track("m1", 3)
	h.tracker.OnConnected()
	require.True(t, h.sched.fire("m1"))
	assert.Contains(t, h.failed, "m1", "a restored message at the ceiling fails on its next timeout")
}
