package auth

import (
	"time"

	"github.com/golang-jwt/jwt"
	"go.uber.org/zap"
)

const expiryTimer = "auth/expiry"

// DefaultLead is how long before expiry the watcher fires.
const DefaultLead = 30 * time.Second

// Scheduler arms keyed timers on the session loop.
type Scheduler interface {
	AfterFunc(key string, d time.Duration, fn func())
	Cancel(key string)
}

// Expiry returns the exp claim of a JWT. The signature is not verified:
// the server does that, the client only needs to know when to refresh.
func Expiry(token string) (time.Time, bool) {
	claims := &jwt.StandardClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == 0 {
		return time.Time{}, false
	}
	return time.Unix(claims.ExpiresAt, 0), true
}

// ExpiryWatcher fires onExpire shortly before the current token expires.
// Opaque tokens are never watched. A token fires at most twice: once lead
// before its expiry and, if it is watched again, once at the expiry itself.
type ExpiryWatcher struct {
	sched    Scheduler
	lead     time.Duration
	onExpire func()
	logger   *zap.Logger
	now      func() time.Time

	token string
	fired int
}

// NewExpiryWatcher creates a watcher. onExpire runs on the scheduler's loop.
func NewExpiryWatcher(sched Scheduler, lead time.Duration, onExpire func(), logger *zap.Logger) *ExpiryWatcher {
	return &ExpiryWatcher{
		sched:    sched,
		lead:     lead,
		onExpire: onExpire,
		logger:   logger,
		now:      time.Now,
	}
}

// Watch replaces any previous watch with one for token. It reports whether
// the token carries an expiry.
func (w *ExpiryWatcher) Watch(token string) bool {
	w.sched.Cancel(expiryTimer)
	exp, ok := Expiry(token)
	if !ok {
		w.token, w.fired = "", 0
		return false
	}
	if token != w.token {
		w.token, w.fired = token, 0
	}

	var at time.Time
	switch w.fired {
	case 0:
		at = exp.Add(-w.lead)
	case 1:
		at = exp
	default:
		w.logger.Warn("token expired and was not replaced", zap.Time("expires_at", exp))
		return true
	}
	d := max(at.Sub(w.now()), 0)
	w.logger.Debug("watching token expiry", zap.Time("expires_at", exp), zap.Duration("fires_in", d))
	w.sched.AfterFunc(expiryTimer, d, w.fire)
	return true
}

func (w *ExpiryWatcher) fire() {
	w.fired++
	w.onExpire()
}

// Stop cancels the current watch.
func (w *ExpiryWatcher) Stop() {
	w.sched.Cancel(expiryTimer)
}
