package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when the lock is held by another process and
	// could not be acquired before the timeout.
	ErrWouldBlock = errors.New("lock would block")

	errInodeMismatch = errors.New("inode mismatch")
)

// LockFileName is the lock file ck keeps in a run directory.
const LockFileName = ".ck.lock"

// Locker takes exclusive flock(2) locks on lock files.
//
// flock is advisory and applies to an inode, not a pathname. Locker checks
// after flock that the open file is still the one at path, so a lock file
// replaced during acquisition is retried instead of silently locking a stale
// inode. Do not replace or unlink a lock file while it may be held.
type Locker struct {
	fs    FS
	flock func(fd int, how int) error
}

// NewLocker creates a Locker that opens lock files through fs.
func NewLocker(fs FS) *Locker {
	return &Locker{fs: fs, flock: unix.Flock}
}

// Lock is a held lock. Call [Lock.Close] to release it.
type Lock struct {
	mu    sync.Mutex
	file  *os.File
	flock func(fd int, how int) error
}

// Close releases the lock and closes the file. It is idempotent.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	unlockErr := flockRetryEINTR(lk.flock, int(lk.file.Fd()), unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// TryLock acquires the lock at path or returns [ErrWouldBlock] at once.
func (l *Locker) TryLock(path string) (*Lock, error) {
	return l.lock(path, 0)
}

// LockWithTimeout retries with backoff (1ms to 25ms) until the lock is
// acquired or timeout passes. The lock file and its parent directories are
// created as needed.
func (l *Locker) LockWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	return l.lock(path, timeout)
}

func (l *Locker) lock(path string, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	backoff := time.Millisecond

	for {
		file, err := l.open(path)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = l.acquire(file, path)
		if err == nil {
			return &Lock{file: file, flock: l.flock}, nil
		}

		_ = file.Close()

		if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, errInodeMismatch) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if timeout == 0 {
				return nil, fmt.Errorf("%w: %s", ErrWouldBlock, path)
			}

			return nil, fmt.Errorf("%w: %s: timed out after %s", ErrWouldBlock, path, timeout)
		}

		time.Sleep(min(backoff, remaining))

		backoff = min(backoff*2, 25*time.Millisecond)
	}
}

// acquire flocks file without blocking and verifies it is still the file at
// path. On failure the file is unlocked but not closed.
func (l *Locker) acquire(file *os.File, path string) error {
	fd := int(file.Fd())

	if err := flockRetryEINTR(l.flock, fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return ErrWouldBlock
		}

		return fmt.Errorf("flock: %w", err)
	}

	match, err := l.sameInode(path, file)
	if err == nil && match {
		return nil
	}

	_ = flockRetryEINTR(l.flock, fd, unix.LOCK_UN)

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("verifying inode match: %w", err)
	}

	return errInodeMismatch
}

func (l *Locker) open(path string) (*os.File, error) {
	f, err := l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	return l.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
}

// sameInode compares (dev, inode) of the open file with the file at path.
func (l *Locker) sameInode(path string, f *os.File) (bool, error) {
	openInfo, err := f.Stat()
	if err != nil {
		return false, err
	}

	pathInfo, err := l.fs.Stat(path)
	if err != nil {
		return false, err
	}

	a, okA := openInfo.Sys().(*unix.Stat_t)
	b, okB := pathInfo.Sys().(*unix.Stat_t)

	if !okA || !okB {
		return os.SameFile(openInfo, pathInfo), nil
	}

	return a.Dev == b.Dev && a.Ino == b.Ino, nil
}

// flockRetryEINTR retries flock while it is interrupted by a signal, up to
// a fixed cap.
func flockRetryEINTR(flock func(fd int, how int) error, fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
