// Package governor provides unit tests for the per-user sync lock.
package governor

import (
	"testing"
	"time"

	apperrors "github.com/shelfmark/shelfmark/backend/internal/errors"
)

func TestLockAcquireRelease(t *testing.T) {
	locks := NewUserLocks(0, 30*time.Second)

	if err := locks.Acquire("alice"); err != nil {
		t.Fatalf("First acquire must succeed: %v", err)
	}
	if !locks.Held("alice") {
		t.Error("Lock must be reported as held")
	}

	err := locks.Acquire("alice")
	if err == nil {
		t.Fatal("Second acquire must fail while held")
	}
	if !apperrors.Is(err, apperrors.ErrSyncLocked) {
		t.Errorf("Expected sync locked error, got %v", err)
	}
	appErr := err.(*apperrors.AppError)
	if appErr.RetryAfterMillis <= 0 {
		t.Error("Lock rejection must carry a retry hint")
	}

	locks.Release("alice")
	if err := locks.Acquire("alice"); err != nil {
		t.Errorf("Acquire after release must succeed: %v", err)
	}
}

func TestLockIsPerUser(t *testing.T) {
	locks := NewUserLocks(0, 30*time.Second)

	if err := locks.Acquire("alice"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := locks.Acquire("bob"); err != nil {
		t.Errorf("Different users must not contend: %v", err)
	}
}

func TestLockExpiresAfterTTL(t *testing.T) {
	locks := NewUserLocks(0, 30*time.Second)

	base := time.Now()
	locks.now = func() time.Time { return base }

	if err := locks.Acquire("alice"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Simulate a crashed request that never released.
	locks.now = func() time.Time { return base.Add(31 * time.Second) }

	if locks.Held("alice") {
		t.Error("Expired lock must not be reported as held")
	}
	if err := locks.Acquire("alice"); err != nil {
		t.Errorf("Expired lock must be reaped on acquire: %v", err)
	}
}

func TestLockReleaseUnheldIsNoop(t *testing.T) {
	locks := NewUserLocks(0, 30*time.Second)
	locks.Release("nobody")
}

func TestLockAcquireWaitsForRelease(t *testing.T) {
	locks := NewUserLocks(2*time.Second, 30*time.Second)

	if err := locks.Acquire("alice"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		locks.Release("alice")
	}()

	if err := locks.Acquire("alice"); err != nil {
		t.Errorf("Contended acquire within the timeout must succeed: %v", err)
	}
}

func TestLockHeldCount(t *testing.T) {
	locks := NewUserLocks(0, 30*time.Second)

	if n := locks.HeldCount(); n != 0 {
		t.Fatalf("Expected 0 held locks, got %d", n)
	}
	if err := locks.Acquire("alice"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := locks.Acquire("bob"); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if n := locks.HeldCount(); n != 2 {
		t.Errorf("Expected 2 held locks, got %d", n)
	}
	locks.Release("alice")
	if n := locks.HeldCount(); n != 1 {
		t.Errorf("Expected 1 held lock after release, got %d", n)
	}
}
