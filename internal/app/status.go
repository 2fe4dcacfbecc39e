package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hackclub/hackatime-desktop/internal/atomicfile"
	"github.com/hackclub/hackatime-desktop/internal/presence"
)

// Status is the snapshot written to status.json for `kubetime status`.
type Status struct {
	Authenticated bool   `json:"authenticated"`
	User          string `json:"user,omitempty"`
	LoginPending  bool   `json:"login_pending"`

	SessionActive   bool       `json:"session_active"`
	SessionStart    *time.Time `json:"session_start,omitempty"`
	SessionDuration int64      `json:"session_duration"` // seconds
	Project         string     `json:"project"`
	Editor          string     `json:"editor"`
	Language        string     `json:"language"`
	HeartbeatCount  uint32     `json:"heartbeat_count"`

	DiscordConnected bool             `json:"discord_connected"`
	Presence         *presence.Status `json:"presence,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Status assembles the current snapshot.
func (a *App) Status() Status {
	now := a.now()
	as := a.tokens.Snapshot()
	s := a.session.Snapshot()

	st := Status{
		Authenticated:   as.IsAuthenticated,
		User:            displayName(as.UserInfo),
		LoginPending:    a.auth.Pending(),
		SessionActive:   s.IsActive,
		SessionStart:    s.StartTime,
		SessionDuration: int64(s.Duration(now) / time.Second),
		Project:         orDefault(s.Project, "No project"),
		Editor:          orDefault(s.Editor, "No editor"),
		Language:        orDefault(s.Language, "No language"),
		HeartbeatCount:  s.HeartbeatCount,
		UpdatedAt:       now.UTC(),
	}
	if a.presence != nil {
		ps := a.presence.Snapshot()
		st.DiscordConnected = ps.Connected
		st.Presence = &ps
	}
	return st
}

// WriteStatus replaces status.json. Failures are logged.
func (a *App) WriteStatus() {
	if err := atomicfile.WriteJSON(a.paths.Status(), a.Status(), 0o644); err != nil {
		slog.Warn("write status", "error", err)
	}
}

// ReadStatus loads a snapshot written by the daemon.
func ReadStatus(path string) (Status, error) {
	var st Status
	data, err := os.ReadFile(path)
	if err != nil {
		return st, fmt.Errorf("read status: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse status: %w", err)
	}
	return st, nil
}

func orDefault(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// displayName picks a human-readable name out of the profile.
func displayName(info map[string]any) string {
	for _, key := range []string{"username", "display_name", "name", "email"} {
		if v, ok := info[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
