package fsutil

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by TryLock when the lock is held by another
// process, or by LockWithTimeout when the timeout expires.
var ErrWouldBlock = errors.New("lock would block")

// Locker provides file-based locking using flock(2). Used to hold the
// per-database directory LOCK that keeps a second process from opening the
// same database.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker creates a Locker that uses the given filesystem for file operations.
func NewLocker(fs FS) *Locker {
	return &Locker{fs: fs, flock: unix.Flock}
}

// Lock represents a held file lock. Call [Lock.Close] to release it.
type Lock struct {
	mu   sync.Mutex
	file File
	flk  func(fd int, how int) error
}

// Close releases the lock and closes the underlying file descriptor.
// Idempotent: safe to call multiple times.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	fd := int(lk.file.Fd())
	unlockErr := lk.flk(fd, unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		return fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		return fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return nil
}

type lockType int

const (
	sharedLock    lockType = unix.LOCK_SH
	exclusiveLock lockType = unix.LOCK_EX
)

// Lock acquires an exclusive lock on path, blocking until available.
// The file (and its parent directories) are created if they do not exist.
func (l *Locker) Lock(path string) (*Lock, error) {
	return l.lockBlocking(path, exclusiveLock)
}

// RLock acquires a shared lock on path, blocking until available.
func (l *Locker) RLock(path string) (*Lock, error) {
	return l.lockBlocking(path, sharedLock)
}

// TryLock attempts to acquire an exclusive lock without blocking, returning
// [ErrWouldBlock] immediately if another process holds it.
func (l *Locker) TryLock(path string) (*Lock, error) {
	return l.lockNonBlocking(path, exclusiveLock)
}

// LockWithTimeout retries TryLock every millisecond until timeout expires.
func (l *Locker) LockWithTimeout(timeout time.Duration, path string) (*Lock, error) {
	deadline := time.Now().Add(timeout)

	for {
		lk, err := l.lockNonBlocking(path, exclusiveLock)
		if err == nil {
			return lk, nil
		}

		if !errors.Is(err, ErrWouldBlock) {
			return nil, err
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrWouldBlock, timeout)
		}

		time.Sleep(time.Millisecond)
	}
}

func (l *Locker) lockBlocking(path string, lt lockType) (*Lock, error) {
	file, err := l.openLockFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening lockfile: %w", err)
	}

	if err := l.flock(int(file.Fd()), int(lt)); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("flock: %w", err)
	}

	return &Lock{file: file, flk: l.flock}, nil
}

func (l *Locker) lockNonBlocking(path string, lt lockType) (*Lock, error) {
	file, err := l.openLockFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening lockfile: %w", err)
	}

	err = l.flock(int(file.Fd()), int(lt)|unix.LOCK_NB)
	if err == nil {
		return &Lock{file: file, flk: l.flock}, nil
	}

	_ = file.Close()

	if errors.Is(err, unix.EWOULDBLOCK) {
		return nil, ErrWouldBlock
	}

	return nil, fmt.Errorf("flock: %w", err)
}

func (l *Locker) openLockFile(path string) (File, error) {
	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
}
