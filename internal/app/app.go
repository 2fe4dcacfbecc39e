// Package app wires the daemon together. [App] owns the store, the API
// client, the token store and OAuth engine, the session engine, the stats
// cache and the presence sink, and is the single place commands from the
// inbox are dispatched to.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hackclub/hackatime-desktop/internal/api"
	"github.com/hackclub/hackatime-desktop/internal/auth"
	"github.com/hackclub/hackatime-desktop/internal/config"
	"github.com/hackclub/hackatime-desktop/internal/inbox"
	"github.com/hackclub/hackatime-desktop/internal/paths"
	"github.com/hackclub/hackatime-desktop/internal/presence"
	"github.com/hackclub/hackatime-desktop/internal/session"
	"github.com/hackclub/hackatime-desktop/internal/stats"
	"github.com/hackclub/hackatime-desktop/internal/store"
	"github.com/hackclub/hackatime-desktop/internal/update"
)

// Options configures an [App].
type Options struct {
	Config *config.Config
	Paths  paths.DataDir
	// Version is reported in the User-Agent.
	Version string
	// OpenURL launches the authorize page. Nil leaves the URL to the log.
	OpenURL func(string) error
	// Logger receives HTTP retry diagnostics. Nil disables them.
	Logger *slog.Logger
	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// App is the application context.
type App struct {
	cfg   *config.Config
	paths   paths.DataDir
	version string
	now     func() time.Time

	store    *store.Store
	api      *api.Client
	tokens   *auth.Store
	auth     *auth.Engine
	session  *session.Engine
	stats    *stats.Cache
	presence *presence.Discord // nil when Discord is disabled
}

// New opens the store, restores the last login and builds every component.
// It does not touch the network or Discord.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	st, err := store.Open(ctx, opts.Paths.Database())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ua := "kubetime"
	if opts.Version != "" {
		ua += "/" + opts.Version
	}
	client := api.New(api.Options{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout(),
		RetryMax:  cfg.API.RetryMax,
		UserAgent: ua,
		Logger:    opts.Logger,
	})

	tokens := auth.NewStore(st)
	if err := tokens.Load(ctx); err != nil {
		slog.Warn("could not restore login", "error", err)
	}

	var openURL func(string) error
	if cfg.Auth.OpenBrowser {
		openURL = opts.OpenURL
	}
	engine, err := auth.New(auth.Options{
		BaseURL:     cfg.API.BaseURL,
		ClientID:    cfg.API.ClientID,
		RedirectURI: cfg.API.RedirectURI,
		Scope:       cfg.API.Scope,
		PKCETTL:     cfg.Auth.PKCETTL(),
		HTTPClient:  client.HTTPClient(),
		Profiles:    client,
		Store:       tokens,
		OpenURL:     openURL,
		Now:         now,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("auth engine: %w", err)
	}

	a := &App{
		cfg:     cfg,
		paths:   opts.Paths,
		version: opts.Version,
		now:     now,
		store:   st,
		api:     client,
		tokens:  tokens,
		auth:    engine,
		stats: stats.NewCache(stats.Options{
			KV:        st,
			Remote:    client,
			Tokens:    tokens,
			RangeTTL:  cfg.Stats.RangeTTL(),
			StreakTTL: cfg.Stats.StreakTTL(),
			Now:       now,
		}),
	}

	sessOpts := session.Options{
		Source:    client,
		Tokens:    tokens,
		Threshold: cfg.Session.Threshold(),
		Now:       now,
	}
	if cfg.Discord.Enabled {
		a.presence = presence.NewDiscord(cfg)
		sessOpts.Presence = a.presence
	}
	a.session = session.New(sessOpts)
	return a, nil
}

// Close disconnects Discord and closes the store.
func (a *App) Close() error {
	if a.presence != nil {
		if err := a.presence.Disconnect(); err != nil {
			slog.Debug("discord disconnect", "error", err)
		}
	}
	return a.store.Close()
}

// Auth exposes the current authentication state.
func (a *App) Auth() auth.AuthState { return a.tokens.Snapshot() }

// Session exposes the current session.
func (a *App) Session() session.State { return a.session.Snapshot() }

// ///////////////////////////////////////////////
// Commands
// ///////////////////////////////////////////////

// HandleCommand executes one inbox command. A completed login is followed
// by an immediate poll so presence catches up without waiting a tick.
func (a *App) HandleCommand(ctx context.Context, cmd inbox.Command) error {
	slog.Info("handling command", "command", cmd)

	var err error
	switch cmd.Kind {
	case inbox.KindCallback:
		_, err = a.auth.HandleCallbackURL(ctx, cmd.URL)
	case inbox.KindLogin:
		err = a.Login(ctx)
	case inbox.KindToken:
		_, err = a.auth.ValidateOpaqueToken(ctx, cmd.Token)
	case inbox.KindLogout:
		a.Logout(ctx)
	case inbox.KindRefresh:
		_, err = a.Poll(ctx)
	default:
		err = fmt.Errorf("%w: %q", inbox.ErrUnknownKind, cmd.Kind)
	}

	if err == nil && (cmd.Kind == inbox.KindCallback || cmd.Kind == inbox.KindToken) {
		if _, pollErr := a.Poll(ctx); pollErr != nil {
			slog.Debug("post-login poll failed", "error", pollErr)
		}
	}
	a.WriteStatus()
	return err
}

// Login starts an authorization flow. When the browser cannot be opened the
// URL is logged so the user can open it by hand, and the flow stays valid.
func (a *App) Login(ctx context.Context) error {
	authURL, err := a.auth.BeginAuthorization(ctx)
	if errors.Is(err, auth.ErrBrowserOpen) {
		slog.Warn("open this URL to sign in", "url", authURL)
		return nil
	}
	if err != nil {
		return fmt.Errorf("begin authorization: %w", err)
	}
	if !a.cfg.Auth.OpenBrowser {
		slog.Info("open this URL to sign in", "url", authURL)
	}
	return nil
}

// Logout forgets the credential and ends the session. The token store is
// cleared first, so a poll racing with the logout cannot commit.
func (a *App) Logout(ctx context.Context) {
	a.auth.Logout(ctx)
	a.session.Reset()
}

// Poll runs one session poll and refreshes the status snapshot.
func (a *App) Poll(ctx context.Context) (session.Transition, error) {
	t, err := a.session.Poll(ctx)
	a.WriteStatus()
	return t, err
}

// ///////////////////////////////////////////////
// Statistics and Account
// ///////////////////////////////////////////////

// Statistics builds the processed statistics view.
func (a *App) Statistics(ctx context.Context) (stats.StatisticsData, error) {
	d, err := a.stats.Dashboard(ctx)
	if err != nil {
		return stats.StatisticsData{}, err
	}
	classes, err := stats.LoadClasses(a.paths.ProgrammerClasses())
	if err != nil {
		slog.Warn("ignoring programmer classes", "error", err)
	}
	return stats.Process(d, classes), nil
}

// Projects lists the user's projects, or describes one when name is set.
func (a *App) Projects(ctx context.Context, name string) (json.RawMessage, error) {
	token, ok := a.tokens.AccessToken()
	if !ok {
		return nil, auth.ErrAuthenticationRequired
	}
	if name != "" {
		return a.api.ProjectDetails(ctx, token, name)
	}
	return a.api.Projects(ctx, token)
}

// APIKey returns the key editor plugins use to send heartbeats.
func (a *App) APIKey(ctx context.Context) (string, error) {
	token, ok := a.tokens.AccessToken()
	if !ok {
		return "", auth.ErrAuthenticationRequired
	}
	return a.api.APIKey(ctx, token)
}

// ///////////////////////////////////////////////
// Maintenance
// ///////////////////////////////////////////////

// Housekeeping removes expired cache entries and old session rows.
func (a *App) Housekeeping(ctx context.Context) {
	sessions, cache, err := a.store.Cleanup(ctx, a.cfg.Stats.SessionRetentionDays)
	if err != nil {
		slog.Warn("housekeeping failed", "error", err)
		return
	}
	slog.Debug("housekeeping done", "sessions_removed", sessions, "cache_removed", cache)
}

// CheckUpdate looks for a newer release and logs when one is out.
func (a *App) CheckUpdate(ctx context.Context) (update.Result, error) {
	res, err := update.Check(ctx, a.api.HTTPClient(), a.cfg.Update.ManifestURL, a.version)
	if err != nil {
		return res, fmt.Errorf("check for update: %w", err)
	}
	if res.Available {
		slog.Info("new version available", "current", res.Current, "latest", res.Latest)
	}
	return res, nil
}

// ConnectPresence connects to Discord if it is enabled and not connected,
// then pushes the current session again.
func (a *App) ConnectPresence(ctx context.Context) error {
	if a.presence == nil || a.presence.Connected() {
		return nil
	}
	if err := a.presence.Connect(ctx); err != nil {
		return err
	}
	slog.Info("connected to Discord")
	a.session.Resync()
	a.WriteStatus()
	return nil
}
