// Package lockfile implements the advisory on-disk locks that serialize
// concurrent access to a dataset's segments and index (§5): a per-segment
// append lock, a per-segment repack lock that fails fast rather than
// blocking, a shared read lock for readers, and the
// dataset-wide "needs-check-do-not-pack" flag file that repack refuses
// to proceed past.
//
// Grounded on the teacher's mmap Msync/Close discipline (internal/segment)
// for "every writer leaves the file in a recoverable state on close", and
// on the directory-lock pattern in the chunk-file-manager example
// (syscall.Flock(fd, LOCK_EX|LOCK_NB) to fail fast instead of queuing) —
// the only pack file doing OS-level advisory locking.
package lockfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var ErrLockHeld = errors.New("lockfile: a read lock is already held")

// Lock is a held advisory lock on a file descriptor, released by Unlock.
type Lock struct {
	f *os.File
}

func lockPath(dir, name string) string {
	return dir + "/." + name + ".lock"
}

func openLockFile(dir, name string) (*os.File, error) {
	path := lockPath(dir, name)
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
}

// AppendLock takes an exclusive, blocking lock serializing writers that
// append to the same segment (§4.5: "multiple writers on the same
// segment serialize on the append lock").
func AppendLock(dir, segmentRelPath string) (*Lock, error) {
	f, err := openLockFile(dir, "append-"+sanitize(segmentRelPath))
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("lockfile: append lock on %s: %w", segmentRelPath, err)
	}
	return &Lock{f: f}, nil
}

// RepackLock takes an exclusive, non-blocking lock on a segment; it
// fails fast with ErrLockHeld rather than waiting, since repack should
// never queue behind readers or writers (§5).
func RepackLock(dir, segmentRelPath string) (*Lock, error) {
	f, err := openLockFile(dir, "repack-"+sanitize(segmentRelPath))
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("lockfile: repack lock on %s: %w", segmentRelPath, err)
	}
	return &Lock{f: f}, nil
}

// SharedReadLock takes a shared lock on a segment's repack lock file.
// It never blocks a writer append, only a concurrent repack (which takes
// an exclusive lock). Segment readers do not take it when they open.
func SharedReadLock(dir, segmentRelPath string) (*Lock, error) {
	f, err := openLockFile(dir, "repack-"+sanitize(segmentRelPath))
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		f.Close()
		return nil, fmt.Errorf("lockfile: shared read lock on %s: %w", segmentRelPath, err)
	}
	return &Lock{f: f}, nil
}

func (l *Lock) Unlock() error {
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return closeErr
}

func sanitize(relPath string) string {
	out := make([]rune, 0, len(relPath))
	for _, r := range relPath {
		if r == '/' {
			r = '_'
		}
		out = append(out, r)
	}
	return string(out)
}

// NeedsCheckFlag is the dataset-level "needs-check-do-not-pack" marker
// (§4.6: "repack refuses to proceed if the needs-check-do-not-pack
// flag-file is present").
type NeedsCheckFlag struct {
	path string
}

func NewNeedsCheckFlag(datasetRoot string) *NeedsCheckFlag {
	return &NeedsCheckFlag{path: datasetRoot + "/.needs-check-do-not-pack"}
}

func (f *NeedsCheckFlag) Set(reason string) error {
	return os.WriteFile(f.path, []byte(reason), 0644)
}

func (f *NeedsCheckFlag) Present() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

func (f *NeedsCheckFlag) Clear() error {
	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
