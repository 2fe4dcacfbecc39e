package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackclub/hackatime-desktop/internal/api"
	"github.com/hackclub/hackatime-desktop/internal/auth"
	"github.com/hackclub/hackatime-desktop/internal/inbox"
)

// ///////////////////////////////////////////////
// Daemon Loops
// ///////////////////////////////////////////////

// Run drives the daemon until ctx is canceled. It runs the heartbeat poll
// with housekeeping, the inbox consumer woken by wake and the Discord
// reconnect loop side by side, plus a one-off release check when enabled.
// Each component guards its own state, so the loops run concurrently.
func (a *App) Run(ctx context.Context, wake <-chan struct{}) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.pollLoop(ctx) })
	g.Go(func() error { return a.inboxLoop(ctx, wake) })
	if a.presence != nil {
		g.Go(func() error { return a.presenceLoop(ctx) })
	}
	if a.cfg.Update.Check {
		g.Go(func() error {
			if _, err := a.CheckUpdate(ctx); err != nil && ctx.Err() == nil {
				slog.Debug("release check failed", "error", err)
			}
			return nil
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pollLoop polls the latest heartbeat every poll interval. A 429 pauses
// polling for the configured backoff instead of hammering the service.
func (a *App) pollLoop(ctx context.Context) error {
	a.Housekeeping(ctx)

	poll := time.NewTicker(a.cfg.Session.PollInterval())
	defer poll.Stop()
	cleanup := time.NewTicker(a.cfg.Stats.CleanupInterval())
	defer cleanup.Stop()

	var pausedUntil time.Time
	tick := func() {
		if now := a.now(); now.Before(pausedUntil) {
			slog.Debug("poll skipped, rate limited", "resume_at", pausedUntil)
			return
		}
		_, err := a.Poll(ctx)
		switch {
		case err == nil:
		case errors.Is(err, api.ErrRateLimited):
			pausedUntil = a.now().Add(a.cfg.Session.RateLimitBackoff())
			slog.Warn("rate limited, backing off", "backoff", a.cfg.Session.RateLimitBackoff())
		case errors.Is(err, auth.ErrAuthenticationRequired):
			slog.Debug("poll skipped, not logged in")
		case ctx.Err() != nil:
		default:
			slog.Warn("poll failed", "error", err)
		}
	}

	tick()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			tick()
		case <-cleanup.C:
			a.Housekeeping(ctx)
		}
	}
}

// inboxLoop drains the inbox at startup and whenever wake fires, handling
// commands one at a time in queue order.
func (a *App) inboxLoop(ctx context.Context, wake <-chan struct{}) error {
	for {
		a.drainInbox(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		}
	}
}

func (a *App) drainInbox(ctx context.Context) {
	cmds, err := inbox.Drain(a.paths.Inbox())
	if err != nil {
		slog.Warn("drain inbox", "error", err)
		return
	}
	for _, cmd := range cmds {
		if ctx.Err() != nil {
			return
		}
		if err := a.HandleCommand(ctx, cmd); err != nil {
			slog.Warn("command failed", "kind", cmd.Kind, "error", err)
		}
	}
}

// presenceLoop keeps the Discord connection up.
func (a *App) presenceLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Discord.ReconnectInterval())
	defer ticker.Stop()

	for {
		if err := a.ConnectPresence(ctx); err != nil && ctx.Err() == nil {
			slog.Debug("discord unavailable", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
