package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hackclub/hackatime-desktop/internal/api"
	"github.com/hackclub/hackatime-desktop/internal/auth"
	"github.com/hackclub/hackatime-desktop/internal/presence"
)

// HeartbeatSource returns the user's most recent heartbeat, or nil when
// there is none. *api.Client implements it.
type HeartbeatSource interface {
	LatestHeartbeat(ctx context.Context, token string) (*api.Heartbeat, error)
}

// TokenSource exposes the current bearer token. *auth.Store implements it.
type TokenSource interface {
	AccessToken() (string, bool)
}

// Presence receives session changes. *presence.Discord implements it.
type Presence interface {
	SetActivity(presence.Activity) error
	ClearActivity() error
}

// Options configures an [Engine].
type Options struct {
	Source HeartbeatSource
	Tokens TokenSource
	// Presence is notified after each committed change. Nil disables it.
	Presence Presence
	// Threshold is the heartbeat age at which a session ends.
	Threshold time.Duration
	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// Engine owns the session state.
type Engine struct {
	source    HeartbeatSource
	tokens    TokenSource
	presence  Presence
	threshold time.Duration
	now       func() time.Time

	mu    sync.Mutex
	state State
}

// New creates an idle Engine.
func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		source:    opts.Source,
		tokens:    opts.Tokens,
		presence:  opts.Presence,
		threshold: opts.Threshold,
		now:       now,
	}
}

// Poll fetches the latest heartbeat and applies the resulting transition.
//
// The fetch runs without the engine lock. Errors, including
// api.ErrRateLimited, leave the state untouched. The token is checked again
// under the lock before committing, so a logout that lands while the fetch
// is in flight wins.
func (e *Engine) Poll(ctx context.Context) (Transition, error) {
	token, ok := e.tokens.AccessToken()
	if !ok {
		return Transition{Kind: None, State: e.Snapshot()}, auth.ErrAuthenticationRequired
	}

	hb, err := e.source.LatestHeartbeat(ctx, token)
	if err != nil {
		return Transition{Kind: None, State: e.Snapshot()}, fmt.Errorf("poll latest heartbeat: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if cur, ok := e.tokens.AccessToken(); !ok || cur != token {
		slog.Debug("discarding heartbeat fetched before logout")
		return Transition{Kind: None, State: e.state.clone()}, auth.ErrAuthenticationRequired
	}

	t := decide(e.state, hb, e.now(), e.threshold)
	e.state = t.State
	e.notifyLocked(t)

	switch t.Kind {
	case Started:
		slog.Info("session started", "project", deref(t.State.Project), "editor", deref(t.State.Editor))
	case Continued:
		slog.Debug("session continued", "heartbeats", t.State.HeartbeatCount)
	case Ended:
		slog.Info("session ended")
	}

	t.State = t.State.clone()
	return t, nil
}

// Reset ends any active session and clears the presence.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasActive := e.state.IsActive
	e.state = State{}
	e.notifyLocked(Transition{Kind: Ended})
	if wasActive {
		slog.Info("session reset")
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Resync pushes the active session to the presence sink again, e.g. after
// the sink reconnected.
func (e *Engine) Resync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.IsActive {
		e.notifyLocked(Transition{Kind: Continued, State: e.state})
	}
}

// notifyLocked forwards t to the presence sink. Failures are logged. The
// caller must hold e.mu.
func (e *Engine) notifyLocked(t Transition) {
	if e.presence == nil {
		return
	}
	var err error
	switch t.Kind {
	case Started, Continued:
		err = e.presence.SetActivity(activity(t.State))
	case Ended:
		err = e.presence.ClearActivity()
	default:
		return
	}
	if err != nil {
		slog.Warn("presence update failed", "transition", t.Kind, "error", err)
	}
}

// activity converts an active state into the presence payload.
func activity(s State) presence.Activity {
	a := presence.Activity{
		Project:  deref(s.Project),
		Language: deref(s.Language),
		Editor:   deref(s.Editor),
		Entity:   deref(s.Entity),
	}
	if s.StartTime != nil {
		a.Start = *s.StartTime
	}
	return a
}
