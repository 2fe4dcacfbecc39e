//go:build !windows

package main

import (
	"os"
	"syscall"
)

// SIGINT from a terminal, SIGTERM from systemd or launchd.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
