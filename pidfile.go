package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidFilePermissions: owner rw, group/other r.
const pidFilePermissions = 0o644

// pidDirPermissions matches the token file's data directory.
const pidDirPermissions = 0o700

// errNoWatcher is returned when no sync --watch process owns the PID file.
var errNoWatcher = errors.New("no running sync --watch found")

// writePIDFile writes the current process ID to path and acquires an exclusive
// flock. Returns a cleanup function that removes the file and releases the
// lock. If the lock cannot be acquired, another watcher is already running.
func writePIDFile(path string) (cleanup func(), err error) {
	if path == "" {
		return nil, errors.New("PID file path is empty: cannot determine data directory")
	}

	if mkdirErr := os.MkdirAll(filepath.Dir(path), pidDirPermissions); mkdirErr != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", mkdirErr)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	// Non-blocking: fail at once if another process holds the lock.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another sync --watch is already running (could not lock %s)", path)
	}

	if err := writePID(f); err != nil {
		f.Close()

		return nil, err
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	// Readers must see the PID as soon as the lock is held.
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing PID file: %w", err)
	}

	return nil
}

// readPIDFile reads the PID from the given file path. Returns 0 and an error
// if the file does not exist or contains invalid content.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// findWatcher returns the live watcher process named by the PID file. A PID
// file left behind by a dead process is removed.
func findWatcher(pidPath string) (*os.Process, error) {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errNoWatcher
		}

		return nil, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("finding process %d: %w", pid, err)
	}

	// Signal 0 only checks that the process exists.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return nil, fmt.Errorf("%w (PID %d is gone, stale PID file removed)", errNoWatcher, pid)
	}

	return proc, nil
}

// sendSIGHUP asks the running watcher to reload its config file.
func sendSIGHUP(pidPath string) (int, error) {
	proc, err := findWatcher(pidPath)
	if err != nil {
		return 0, err
	}

	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, fmt.Errorf("sending SIGHUP to watcher (PID %d): %w", proc.Pid, err)
	}

	return proc.Pid, nil
}
