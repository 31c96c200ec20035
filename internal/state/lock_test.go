package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "unitmon.lock")
}

func writeLockInfo(t *testing.T, path string, info LockInfo) {
	t.Helper()
	b, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireRelease(t *testing.T) {
	l := NewLock(lockPath(t), time.Hour)
	if err := l.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	info, err := l.Owner()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Fatalf("owner pid %d, want %d", info.PID, os.Getpid())
	}
	if info.AcquiredAt.IsZero() {
		t.Fatalf("acquired_at not stamped")
	}
	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Fatalf("lock file must be gone after release: %v", err)
	}
}

func TestContention(t *testing.T) {
	path := lockPath(t)
	l1 := NewLock(path, time.Hour)
	if err := l1.Acquire(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer func() { _ = l1.Release() }()

	l2 := NewLock(path, time.Hour)
	if err := l2.Acquire(); !errors.Is(err, ErrLocked) {
		t.Fatalf("second acquire: want ErrLocked, got %v", err)
	}
}

func TestStaleDeadOwnerIsBroken(t *testing.T) {
	path := lockPath(t)
	// far above any realistic pid_max, so the owner cannot exist
	writeLockInfo(t, path, LockInfo{PID: 1<<30 + 7, AcquiredAt: time.Now().UTC()})
	ownHost, _ := os.Hostname()
	rewriteHostname(t, path, ownHost)

	l := NewLock(path, time.Hour)
	if err := l.Acquire(); err != nil {
		t.Fatalf("stale lock with dead owner must be broken: %v", err)
	}
	if info, err := l.Owner(); err != nil || info.PID != os.Getpid() {
		t.Fatalf("lock not taken over: %+v err=%v", info, err)
	}
	_ = l.Release()
}

func TestStaleByAgeIsBroken(t *testing.T) {
	path := lockPath(t)
	ownHost, _ := os.Hostname()
	writeLockInfo(t, path, LockInfo{
		PID:        os.Getpid(), // alive, but the lock is ancient
		Hostname:   ownHost,
		AcquiredAt: time.Now().UTC().Add(-time.Hour),
	})
	l := NewLock(path, time.Minute)
	if err := l.Acquire(); err != nil {
		t.Fatalf("over-age lock must be broken even with a live owner: %v", err)
	}
	_ = l.Release()
}

func TestFreshLiveOwnerBlocks(t *testing.T) {
	path := lockPath(t)
	ownHost, _ := os.Hostname()
	writeLockInfo(t, path, LockInfo{
		PID:        os.Getpid(),
		Hostname:   ownHost,
		AcquiredAt: time.Now().UTC(),
	})
	l := NewLock(path, time.Hour)
	if err := l.Acquire(); !errors.Is(err, ErrLocked) {
		t.Fatalf("fresh live lock must block: %v", err)
	}
}

func TestCorruptLockFile(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	// fresh mtime: treat as held
	l := NewLock(path, time.Hour)
	if err := l.Acquire(); !errors.Is(err, ErrLocked) {
		t.Fatalf("fresh corrupt lock must block: %v", err)
	}
	// backdate it past the staleness window: may be broken
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(); err != nil {
		t.Fatalf("old corrupt lock must be broken: %v", err)
	}
	_ = l.Release()
}

func TestConcurrentAcquireExactlyOneWins(t *testing.T) {
	path := lockPath(t)
	const n = 16
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			l := NewLock(path, time.Hour)
			if err := l.Acquire(); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrLocked) {
				t.Errorf("unexpected acquire error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestReleaseRefusesForeignLock(t *testing.T) {
	path := lockPath(t)
	l := NewLock(path, time.Hour)
	if err := l.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// someone broke our lock as stale and took over
	writeLockInfo(t, path, LockInfo{PID: 1, AcquiredAt: time.Now().UTC()})
	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("foreign lock must survive our release: %v", err)
	}
}

func TestVerifyOwnerYieldsToConcurrentBreaker(t *testing.T) {
	path := lockPath(t)
	l := NewLock(path, time.Hour)
	if err := l.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// a second breaker of the same stale lock removed our file and wrote
	// its own between our create and the ownership re-read
	writeLockInfo(t, path, LockInfo{PID: 1, AcquiredAt: time.Now().UTC()})
	if err := l.verifyOwner(); !errors.Is(err, ErrLocked) {
		t.Fatalf("foreign owner must demote to ErrLocked, got %v", err)
	}
	if l.acquired {
		t.Fatal("lock must not be marked held after losing the re-read")
	}
	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("the winner's lock must survive: %v", err)
	}
}

func TestVerifyOwnerYieldsWhenFileVanished(t *testing.T) {
	path := lockPath(t)
	l := NewLock(path, time.Hour)
	if err := l.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := l.verifyOwner(); !errors.Is(err, ErrLocked) {
		t.Fatalf("missing lock file must demote to ErrLocked, got %v", err)
	}
}

func TestStaleBreakVerifiesOwnership(t *testing.T) {
	path := lockPath(t)
	ownHost, _ := os.Hostname()
	writeLockInfo(t, path, LockInfo{
		PID:        os.Getpid(),
		Hostname:   ownHost,
		AcquiredAt: time.Now().UTC().Add(-time.Hour),
	})
	l := NewLock(path, time.Minute)
	if err := l.Acquire(); err != nil {
		t.Fatalf("breaking a stale lock uncontended must succeed: %v", err)
	}
	info, err := l.Owner()
	if err != nil || info.PID != os.Getpid() {
		t.Fatalf("lock not owned after break: %+v err=%v", info, err)
	}
	_ = l.Release()
}

func TestReleaseWithoutAcquire(t *testing.T) {
	l := NewLock(lockPath(t), time.Hour)
	if err := l.Release(); err != nil {
		t.Fatalf("release without acquire must be a no-op: %v", err)
	}
}

// rewriteHostname stamps the given hostname into an existing lock file so
// liveness (not host mismatch) decides staleness.
func rewriteHostname(t *testing.T, path, hostname string) {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var info LockInfo
	if err := json.Unmarshal(b, &info); err != nil {
		t.Fatal(err)
	}
	info.Hostname = hostname
	writeLockInfo(t, path, info)
}
