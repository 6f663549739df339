package lockfile

import (
	"path/filepath"
	"testing"
)

func TestTryLockAcquiresAndUnlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive")
	l := New(path)

	ok, err := l.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if !ok {
		t.Fatal("TryLock() = false on an uncontended lock")
	}
	if !l.Locked() {
		t.Fatal("Locked() = false after a successful TryLock")
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestTryLockIsExclusiveAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive")
	first := New(path)
	second := New(path)

	ok, err := first.TryLock()
	if err != nil || !ok {
		t.Fatalf("first.TryLock() = (%v, %v), want (true, nil)", ok, err)
	}
	defer first.Unlock()

	ok, err = second.TryLock()
	if err != nil {
		t.Fatalf("second.TryLock(): %v", err)
	}
	if ok {
		t.Fatal("second.TryLock() = true while first still holds the lock")
	}
}
