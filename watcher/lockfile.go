package watcher

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ditox-dev/ditox/ditoxerr"
)

// Owner identifies who holds the single-instance lockfile.
type Owner string

const (
	OwnerManaged  Owner = "managed"
	OwnerExternal Owner = "external"
)

// lockInfo is the parsed contents of managed-daemon.lock.
type lockInfo struct {
	PID       int
	StartedAt int64
	Owner     Owner
}

func (l lockInfo) encode() string {
	return fmt.Sprintf("pid=%d\nstarted_at_unix=%d\nowner=%s\n", l.PID, l.StartedAt, l.Owner)
}

func parseLockInfo(data []byte) (lockInfo, error) {
	var l lockInfo
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch k {
		case "pid":
			n, err := strconv.Atoi(v)
			if err != nil {
				return lockInfo{}, ditoxerr.Wrap(ditoxerr.Corruption, "parse lockfile pid", err)
			}
			l.PID = n
		case "started_at_unix":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return lockInfo{}, ditoxerr.Wrap(ditoxerr.Corruption, "parse lockfile started_at", err)
			}
			l.StartedAt = n
		case "owner":
			l.Owner = Owner(v)
		}
	}
	return l, nil
}

// Lock guards single-instance capture at a fixed path under the state
// directory.
type Lock struct {
	path string
	held bool
}

// NewLock returns a Lock bound to path. Acquire must be called before use.
func NewLock(path string) *Lock { return &Lock{path: path} }

// Acquire creates the lockfile exclusively. If a stale lock (dead pid) is
// found, it is removed and acquisition retried once.
func (l *Lock) Acquire(owner Owner) error {
	info := lockInfo{PID: os.Getpid(), StartedAt: time.Now().Unix(), Owner: owner}
	err := l.tryCreate(info)
	if err == nil {
		l.held = true
		return nil
	}
	if !os.IsExist(err) {
		return ditoxerr.Wrap(ditoxerr.Fatal, "create lockfile", err)
	}

	existing, readErr := os.ReadFile(l.path)
	if readErr != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "read existing lockfile", readErr)
	}
	existingInfo, parseErr := parseLockInfo(existing)
	if parseErr == nil && processAlive(existingInfo.PID) {
		return ditoxerr.New(ditoxerr.Unavailable, "external capture active")
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return ditoxerr.Wrap(ditoxerr.Fatal, "remove stale lockfile", err)
	}
	if err := l.tryCreate(info); err != nil {
		return ditoxerr.Wrap(ditoxerr.Fatal, "create lockfile after stale removal", err)
	}
	l.held = true
	return nil
}

func (l *Lock) tryCreate(info lockInfo) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(info.encode()); err != nil {
		return err
	}
	return f.Sync()
}

// Release removes the lockfile. It is a no-op if not held, so shutdown
// paths can call it unconditionally.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return ditoxerr.Wrap(ditoxerr.Fatal, "release lockfile", err)
	}
	return nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
