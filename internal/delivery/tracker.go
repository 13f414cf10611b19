// Package delivery tracks unacknowledged outgoing messages and decides when
// to resend or give up on them.
package delivery

import (
	"slices"
	"time"

	"github.com/matheus3301/chatline/internal/chaterr"
	"go.uber.org/zap"
)

// Scheduler arms keyed timers whose callbacks run on the caller's
// serialized loop. Re-arming a key replaces its timer.
type Scheduler interface {
	AfterFunc(key string, d time.Duration, fn func())
	Cancel(key string)
}

// Options configures the retry policy.
type Options struct {
	RetryTimeout time.Duration
	MaxRetries   int
}

// DefaultOptions returns the default retry policy.
func DefaultOptions() Options {
	return Options{RetryTimeout: 5 * time.Second, MaxRetries: 3}
}

// Callbacks connect the tracker to the rest of the session.
type Callbacks struct {
	// Resend re-transmits a message. retries is the message's retry count
	// after this resend.
	Resend func(tempID string, retries int)
	// Fail is called once when a message is given up on.
	Fail func(tempID string, cause error)
}

type entry struct {
	tempID  string
	order   uint64
	retries int
}

// Tracker owns the retry timers of outstanding messages. It is not safe
// for concurrent use; drive it from the dispatch loop.
type Tracker struct {
	sched  Scheduler
	opts   Options
	cb     Callbacks
	logger *zap.Logger

	entries   map[string]*entry
	next      uint64
	connected bool
}

// New creates a tracker. It starts disconnected.
func New(sched Scheduler, opts Options, cb Callbacks, logger *zap.Logger) *Tracker {
	return &Tracker{
		sched:   sched,
		opts:    opts,
		cb:      cb,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Track starts tracking a message that was just handed to the transport,
// or that will be on the next connection. retries carries over a count
// restored from disk.
func (t *Tracker) Track(tempID string, retries int) {
	if e, ok := t.entries[tempID]; ok {
		e.retries = retries
	} else {
		t.next++
		t.entries[tempID] = &entry{tempID: tempID, order: t.next, retries: retries}
	}
	if t.connected {
		t.arm(tempID)
	}
}

// Ack stops tracking an acknowledged message. It reports whether the
// message was tracked.
func (t *Tracker) Ack(tempID string) bool {
	if _, ok := t.entries[tempID]; !ok {
		return false
	}
	t.forget(tempID)
	return true
}

// Reject fails a message the server refused.
func (t *Tracker) Reject(tempID string, cause error) bool {
	if _, ok := t.entries[tempID]; !ok {
		return false
	}
	t.forget(tempID)
	t.logger.Info("message rejected by server", zap.String("temp_id", tempID), zap.Error(cause))
	t.cb.Fail(tempID, cause)
	return true
}

// OnConnected re-sends every outstanding message, oldest submission first,
// and re-arms its timer. The drain does not count as a retry.
func (t *Tracker) OnConnected() {
	t.connected = true
	pending := t.Outstanding()
	if len(pending) > 0 {
		t.logger.Info("draining outstanding messages", zap.Int("count", len(pending)))
	}
	for _, id := range pending {
		t.cb.Resend(id, t.entries[id].retries)
		t.arm(id)
	}
}

// OnDisconnected suspends all retries.
func (t *Tracker) OnDisconnected() {
	t.connected = false
	for id := range t.entries {
		t.sched.Cancel(timerKey(id))
	}
}

// Outstanding returns tracked temp ids in submission order.
func (t *Tracker) Outstanding() []string {
	es := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		es = append(es, e)
	}
	slices.SortFunc(es, func(a, b *entry) int {
		switch {
		case a.order < b.order:
			return -1
		case a.order > b.order:
			return 1
		}
		return 0
	})
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.tempID
	}
	return out
}

// Retries returns the retry count of a tracked message.
func (t *Tracker) Retries(tempID string) (int, bool) {
	e, ok := t.entries[tempID]
	if !ok {
		return 0, false
	}
	return e.retries, true
}

func (t *Tracker) arm(tempID string) {
	t.sched.AfterFunc(timerKey(tempID), t.opts.RetryTimeout, func() { t.timeout(tempID) })
}

func (t *Tracker) timeout(tempID string) {
	e, ok := t.entries[tempID]
	if !ok || !t.connected {
		return
	}
	if e.retries >= t.opts.MaxRetries {
		t.forget(tempID)
		t.logger.Warn("message delivery failed", zap.String("temp_id", tempID), zap.Int("retries", e.retries))
		t.cb.Fail(tempID, chaterr.New(chaterr.KindDeliveryTimeout, "deliver", "no ack after retries"))
		return
	}
	e.retries++
	t.logger.Debug("resending unacknowledged message", zap.String("temp_id", tempID), zap.Int("retry", e.retries))
	t.cb.Resend(tempID, e.retries)
	t.arm(tempID)
}

func (t *Tracker) forget(tempID string) {
	t.sched.Cancel(timerKey(tempID))
	delete(t.entries, tempID)
}

func timerKey(tempID string) string {
	return "delivery/" + tempID
}
