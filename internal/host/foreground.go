package host

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
)

var ErrForegroundHeld = errors.New("another recorder holds the foreground lock")

// Foreground is the keep-alive privilege held while a recording is active
type Foreground interface {
	Acquire() error
	Release()
}

// LockForeground holds an exclusive flock on a lock file for the duration
// of a recording, so a second daemon on the same storage cannot record at
// the same time. The file carries the holder's pid.
type LockForeground struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func NewLockForeground(path string) *LockForeground {
	return &LockForeground{path: path}
}

// Acquire takes the lock; acquiring while already held is a no-op
func (l *LockForeground) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrForegroundHeld
		}
		return fmt.Errorf("acquiring file lock: %w", err)
	}

	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	l.file = f
	slog.Debug("Foreground lock acquired", "path", l.path)
	return nil
}

// Release drops the lock if held
func (l *LockForeground) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}

	l.file.Truncate(0)
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Failed to release foreground lock", "path", l.path, "error", err)
	}
	l.file.Close()
	l.file = nil
	slog.Debug("Foreground lock released", "path", l.path)
}

// Held reports whether this process holds the lock
func (l *LockForeground) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}
