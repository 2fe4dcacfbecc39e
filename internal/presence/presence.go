// Package presence turns coding activity into Discord Rich Presence.
//
// [Discord] owns the IPC connection behind its own lock. It renders an
// [Activity] through the display templates and privacy rules in the config,
// and it only talks to Discord when the rendered activity differs from what
// Discord last acknowledged. While disconnected it remembers the desired
// activity and pushes it after the next successful [Discord.Connect].
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hackclub/hackatime-desktop/internal/config"
	"github.com/hackclub/hackatime-desktop/internal/discord"
)

// defaultRetryDelay separates connect attempts within one Connect call.
const defaultRetryDelay = 2 * time.Second

// ipcClient is the part of *discord.Client the sink drives.
type ipcClient interface {
	Connect() error
	SetActivity(*discord.Activity) error
	Close() error
	Connected() bool
}

// Activity is what the user is doing right now, as reported by the
// heartbeat that started or continued the session.
type Activity struct {
	Project  string
	Language string
	Editor   string
	Entity   string
	// Start is when the session began. Zero omits the elapsed timer.
	Start time.Time
}

// Status is a point-in-time view of the sink.
type Status struct {
	Connected bool   `json:"connected"`
	Showing   bool   `json:"showing"`
	Details   string `json:"details,omitempty"`
	State     string `json:"state,omitempty"`
}

// ///////////////////////////////////////////////
// Discord Sink
// ///////////////////////////////////////////////

// Discord publishes activities to the local Discord client.
type Discord struct {
	cfg        *config.Config
	client     ipcClient
	retryDelay time.Duration

	mu sync.Mutex
	// want is the activity that should be visible; nil means none.
	want *discord.Activity
	// shown is the hash of what Discord last acknowledged, "" for nothing.
	shown string
	// synced is false when shown cannot be trusted, e.g. after a failed push.
	synced bool
}

// NewDiscord creates a sink for the configured Discord application. It does
// not connect.
func NewDiscord(cfg *config.Config) *Discord {
	return newDiscord(cfg, discord.NewClient(cfg.Discord.AppID))
}

func newDiscord(cfg *config.Config, client ipcClient) *Discord {
	return &Discord{cfg: cfg, client: client, retryDelay: defaultRetryDelay}
}

// Connect dials Discord, trying up to discord.connect_attempts times. On
// success the desired activity, if any, is pushed. Connecting while already
// connected is a no-op.
func (d *Discord) Connect(ctx context.Context) error {
	attempts := max(d.cfg.Discord.ConnectAttempts, 1)

	for attempt := 1; ; attempt++ {
		d.mu.Lock()
		if d.client.Connected() {
			d.mu.Unlock()
			return nil
		}
		err := d.client.Connect()
		if err == nil {
			d.shown, d.synced = "", true
			if err := d.syncLocked(); err != nil {
				slog.Warn("restoring presence after connect failed", "error", err)
			}
			d.mu.Unlock()
			slog.Info("connected to discord", "attempt", attempt)
			return nil
		}
		d.mu.Unlock()

		slog.Debug("discord connect attempt failed", "attempt", attempt, "error", err)
		if attempt >= attempts {
			return fmt.Errorf("connect to discord after %d attempts: %w", attempts, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.retryDelay):
		}
	}
}

// Disconnect clears the activity and closes the connection.
func (d *Discord) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.shown, d.synced = "", false
	return d.client.Close()
}

// Connected reports whether the IPC connection is up.
func (d *Discord) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client.Connected()
}

// SetActivity shows a. An activity whose project or file matches a
// privacy.ignore pattern clears the presence instead. When disconnected the
// activity is remembered and nil is returned.
func (d *Discord) SetActivity(a Activity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.IsIgnored(a.Project, a.Entity) {
		slog.Debug("presence suppressed by ignore pattern", "project", a.Project)
		d.want = nil
	} else {
		d.want = build(d.cfg, a)
	}
	return d.syncLocked()
}

// ClearActivity removes the activity.
func (d *Discord) ClearActivity() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.want = nil
	return d.syncLocked()
}

// Snapshot returns the current status.
func (d *Discord) Snapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Status{Connected: d.client.Connected()}
	if s.Connected && d.synced && d.shown != "" && d.want != nil {
		s.Showing = true
		s.Details, s.State = d.want.Details, d.want.State
	}
	return s
}

// syncLocked pushes want unless Discord already shows it. The caller must
// hold d.mu.
func (d *Discord) syncLocked() error {
	if !d.client.Connected() {
		return nil
	}
	h := hash(d.want)
	if d.synced && h == d.shown {
		return nil
	}
	if err := d.client.SetActivity(d.want); err != nil {
		d.synced = false
		return fmt.Errorf("update presence: %w", err)
	}
	d.shown, d.synced = h, true

	if d.want == nil {
		slog.Debug("presence cleared")
	} else {
		slog.Debug("presence updated", "details", d.want.Details, "state", d.want.State)
	}
	return nil
}
