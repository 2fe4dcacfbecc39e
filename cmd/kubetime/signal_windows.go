//go:build windows

package main

import "os"

// The runtime maps Ctrl+C, Ctrl+Break and console close onto os.Interrupt.
var shutdownSignals = []os.Signal{os.Interrupt}
