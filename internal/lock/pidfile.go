package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// FileLocker writes the holder PID into an exclusively created file.
// A file left behind by a dead process is reclaimed.
type FileLocker struct {
	path  string
	pid   int
	alive func(pid int) bool
}

// NewFileLocker constructs a PID-file locker at path.
func NewFileLocker(path string) *FileLocker {
	return &FileLocker{path: path, pid: os.Getpid(), alive: processAlive}
}

// Acquire creates the PID file or reports the live holder.
func (l *FileLocker) Acquire(ctx context.Context) (Lease, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(l.pid) + "\n")
			cerr := f.Close()
			if werr = errors.Join(werr, cerr); werr != nil {
				_ = os.Remove(l.path)
				return nil, fmt.Errorf("lock: write pid file: %w", werr)
			}
			return &fileLease{path: l.path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("lock: create pid file: %w", err)
		}

		holder, readErr := readPID(l.path)
		if readErr == nil && holder != l.pid && l.alive(holder) {
			return nil, &AlreadyRunningError{Name: l.path, Holder: "pid " + strconv.Itoa(holder)}
		}
		if holder == l.pid {
			return nil, &AlreadyRunningError{Name: l.path, Holder: "this process"}
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("lock: remove stale pid file: %w", err)
		}
	}
	return nil, &AlreadyRunningError{Name: l.path}
}

type fileLease struct {
	once sync.Once
	path string
	err  error
}

func (l *fileLease) Release(context.Context) error {
	l.once.Do(func() {
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.err = fmt.Errorf("lock: remove pid file: %w", err)
		}
	})
	return l.err
}

func readPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("lock: malformed pid file %s", path)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
