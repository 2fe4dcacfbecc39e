//go:build !windows

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// The daemon holds an exclusive flock on daemon.pid for its whole life, so
// only one process drains the inbox, polls heartbeats and writes
// status.json. CLI commands probe the same lock to tell a live daemon from
// a stale file. flock locks belong to the open file, so a second open in
// the same process conflicts too.

func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("lock %s: %w", f.Name(), err)
	}
	return nil
}

func unlockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("unlock %s: %w", f.Name(), err)
	}
	return nil
}
