package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrLocked reports that another invocation holds the lock. It is a normal
// concurrency outcome, not a failure.
var ErrLocked = errors.New("another instance holds the lock")

// LockInfo identifies the lock holder.
type LockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a cross-process mutex built on atomic exclusive file creation.
// A left-behind lock is broken when its owner process is gone or when it is
// older than the staleness window; in-process locking is deliberately not
// provided because the hazard this guards against is cross-process.
type Lock struct {
	path       string
	staleAfter time.Duration
	acquired   bool
}

func NewLock(path string, staleAfter time.Duration) *Lock {
	return &Lock{path: path, staleAfter: staleAfter}
}

func (l *Lock) Path() string { return l.path }

// Acquire takes the lock or returns ErrLocked. A stale lock is removed and
// acquisition retried once. Remove-then-create is not atomic: a second
// breaker can remove our fresh lock between our create and its own, so
// after breaking we re-read the owner and yield unless it is still us.
func (l *Lock) Acquire() error {
	err := l.tryOnce()
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrLocked) {
		return err
	}
	stale, serr := l.isStale()
	if serr != nil || !stale {
		return ErrLocked
	}
	_ = os.Remove(l.path)
	if err := l.tryOnce(); err != nil {
		return err
	}
	return l.verifyOwner()
}

// verifyOwner confirms the lock file still names this process. Called after
// breaking a stale lock, where a concurrent breaker may have replaced our
// file; losing the re-read means losing the lock.
func (l *Lock) verifyOwner() error {
	hostname, _ := os.Hostname()
	info, err := l.Owner()
	if err != nil || info.PID != os.Getpid() || info.Hostname != hostname {
		l.acquired = false
		return ErrLocked
	}
	return nil
}

func (l *Lock) tryOnce() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrLocked
		}
		return fmt.Errorf("create lock %s: %w", l.path, err)
	}
	hostname, _ := os.Hostname()
	info := LockInfo{PID: os.Getpid(), Hostname: hostname, AcquiredAt: time.Now().UTC()}
	b, _ := json.Marshal(info)
	_, werr := f.Write(b)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(l.path)
		if werr == nil {
			werr = cerr
		}
		return fmt.Errorf("write lock %s: %w", l.path, werr)
	}
	l.acquired = true
	return nil
}

// Release removes the lock file. It refuses to remove a lock it does not
// own, which matters when another process broke ours as stale and took over.
func (l *Lock) Release() error {
	if !l.acquired {
		return nil
	}
	l.acquired = false
	info, err := l.Owner()
	if err == nil && info.PID != 0 && info.PID != os.Getpid() {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock %s: %w", l.path, err)
	}
	return nil
}

// Owner reads the current holder's metadata.
func (l *Lock) Owner() (LockInfo, error) {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return LockInfo{}, err
	}
	var info LockInfo
	if err := json.Unmarshal(b, &info); err != nil {
		return LockInfo{}, fmt.Errorf("parse lock %s: %w", l.path, err)
	}
	return info, nil
}

// isStale decides whether the existing lock may be broken: the owner died,
// or the lock outlived the staleness window (which also covers PID reuse
// and unreadable owner metadata).
func (l *Lock) isStale() (bool, error) {
	info, err := l.Owner()
	if err != nil {
		if os.IsNotExist(err) {
			// racing holder released it already
			return true, nil
		}
		// metadata unreadable; fall back to file age
		fi, serr := os.Stat(l.path)
		if serr != nil {
			return os.IsNotExist(serr), nil
		}
		return time.Since(fi.ModTime()) > l.staleAfter, nil
	}
	if time.Since(info.AcquiredAt) > l.staleAfter {
		return true, nil
	}
	hostname, _ := os.Hostname()
	if info.Hostname != "" && hostname != "" && info.Hostname != hostname {
		// lock from another host (shared filesystem): only age can judge it
		return false, nil
	}
	alive, err := process.PidExists(int32(info.PID))
	if err != nil {
		// cannot tell; assume the holder is alive
		return false, nil
	}
	return !alive, nil
}
