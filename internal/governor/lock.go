// Package governor keeps concurrent sync traffic within safe bounds:
// one mutating push per user at a time, per-user rate limits, adaptive
// load shedding, and a short-lived pull response cache.
package governor

import (
	"sync"
	"time"

	apperrors "github.com/shelfmark/shelfmark/backend/internal/errors"
	"github.com/shelfmark/shelfmark/backend/internal/logging"
)

// lockPollInterval is how often a waiting Acquire retries.
const lockPollInterval = 50 * time.Millisecond

// UserLocks serializes pushes per user. A contended acquire waits up to
// the configured timeout; a lock left behind by a crashed request
// expires after the TTL so a user is never wedged permanently. The lock
// table is in-process only, one server instance.
type UserLocks struct {
	mu      sync.Mutex
	held    map[string]time.Time
	timeout time.Duration
	ttl     time.Duration

	now func() time.Time
}

// NewUserLocks creates the lock table. timeout bounds how long Acquire
// waits on a contended lock (zero means fail immediately); ttl bounds
// how long an unreleased lock can block its user.
func NewUserLocks(timeout, ttl time.Duration) *UserLocks {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &UserLocks{
		held:    make(map[string]time.Time),
		timeout: timeout,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Acquire takes the push lock for userID, waiting up to the acquire
// timeout. A still-held lock past the deadline yields ErrSyncLocked
// with a retry hint; an expired one is reaped and retaken.
func (l *UserLocks) Acquire(userID string) error {
	deadline := time.Now().Add(l.timeout)
	for {
		err := l.tryAcquire(userID)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(lockPollInterval)
	}
}

func (l *UserLocks) tryAcquire(userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acquiredAt, ok := l.held[userID]; ok {
		age := l.now().Sub(acquiredAt)
		if age < l.ttl {
			remaining := l.ttl - age
			return apperrors.Throttled(apperrors.ErrSyncLocked,
				"another sync is in progress for this user", remaining.Milliseconds())
		}
		logging.Warn("reaping expired user sync lock", map[string]interface{}{
			"user_id": userID,
			"age_ms":  age.Milliseconds(),
		})
	}

	l.held[userID] = l.now()
	return nil
}

// Release frees the push lock for userID. Releasing an unheld lock is a
// no-op.
func (l *UserLocks) Release(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, userID)
}

// Held reports whether userID currently holds an unexpired lock.
func (l *UserLocks) Held(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	acquiredAt, ok := l.held[userID]
	return ok && l.now().Sub(acquiredAt) < l.ttl
}

// HeldCount returns the number of unexpired locks currently held.
func (l *UserLocks) HeldCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, acquiredAt := range l.held {
		if l.now().Sub(acquiredAt) < l.ttl {
			count++
		}
	}
	return count
}
