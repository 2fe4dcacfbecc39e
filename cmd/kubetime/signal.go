package main

import (
	"context"
	"os/signal"
)

// shutdownContext returns a context canceled when the daemon is asked to
// stop. Cancellation ends every loop of app.Run, after which the daemon
// writes a final status snapshot and releases the PID lock.
func shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals...)
}
