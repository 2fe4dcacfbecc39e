//go:build windows

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// The daemon holds an exclusive byte-range lock on the first byte of
// daemon.pid for its whole life, so only one process drains the inbox,
// polls heartbeats and writes status.json. CLI commands probe the same
// lock to tell a live daemon from a stale file.

const lockFlags = windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY

func lockFile(f *os.File) error {
	if err := windows.LockFileEx(windows.Handle(f.Fd()), lockFlags, 0, 1, 0, new(windows.Overlapped)); err != nil {
		return fmt.Errorf("lock %s: %w", f.Name(), err)
	}
	return nil
}

func unlockFile(f *os.File) error {
	if err := windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, new(windows.Overlapped)); err != nil {
		return fmt.Errorf("unlock %s: %w", f.Name(), err)
	}
	return nil
}
