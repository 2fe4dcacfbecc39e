// Package auth implements the desktop OAuth2 authorization-code flow with
// PKCE, driven by custom-scheme deep-link callbacks, and the token store it
// feeds.
//
// A login is a two-step affair. [Engine.BeginAuthorization] records a
// verifier and a random state in a single in-flight slot and opens the
// provider's authorize page. The provider later redirects the browser to
// kubetime://auth/callback, the OS hands that URL to a new process, and it
// reaches [Engine.HandleCallbackURL] in the daemon. The callback is checked
// against the slot (expiry, then state) before any network call, the code is
// exchanged, and the credential is committed together with clearing the slot.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ProfileFetcher looks up the owner of a bearer token. *api.Client
// implements it.
type ProfileFetcher interface {
	Me(ctx context.Context, token string) (map[string]any, error)
}

// Options configures an [Engine].
type Options struct {
	// BaseURL is the service root; the authorize and token endpoints live
	// under it.
	BaseURL     string
	ClientID    string
	RedirectURI string
	// Scope is a space-separated scope list.
	Scope string
	// PKCETTL is how long an in-flight authorization stays valid.
	PKCETTL time.Duration
	// HTTPClient performs the token exchange. Nil uses http.DefaultClient.
	HTTPClient *http.Client
	// Profiles resolves the user behind a token.
	Profiles ProfileFetcher
	// Store receives accepted credentials.
	Store *Store
	// OpenURL launches the authorize page. Nil skips it.
	OpenURL func(url string) error
	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// Engine runs authorization flows against a single provider.
type Engine struct {
	oauth      *oauth2.Config
	redirect   *url.URL
	httpClient *http.Client
	profiles   ProfileFetcher
	store      *Store
	pkce       *pkceSlot
	openURL    func(string) error
}

// New creates an Engine. It fails when the redirect URI cannot be parsed.
func New(opts Options) (*Engine, error) {
	redirect, err := url.Parse(opts.RedirectURI)
	if err != nil || redirect.Scheme == "" {
		return nil, fmt.Errorf("invalid redirect uri %q", opts.RedirectURI)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}

	return &Engine{
		oauth: &oauth2.Config{
			ClientID:    opts.ClientID,
			RedirectURL: opts.RedirectURI,
			Scopes:      strings.Fields(opts.Scope),
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		redirect:   redirect,
		httpClient: hc,
		profiles:   opts.Profiles,
		store:      opts.Store,
		pkce:       newPKCESlot(opts.PKCETTL, opts.Now),
		openURL:    opts.OpenURL,
	}, nil
}

// Store returns the token store the engine commits to.
func (e *Engine) Store() *Store { return e.store }

// Pending reports whether an unexpired authorization is in flight.
func (e *Engine) Pending() bool { return e.pkce.pending() }

// ///////////////////////////////////////////////
// Authorization Flow
// ///////////////////////////////////////////////

// BeginAuthorization starts a new flow, replacing any in flight, and returns
// the authorize URL. When the browser cannot be opened the URL is still
// returned together with an error wrapping ErrBrowserOpen.
func (e *Engine) BeginAuthorization(ctx context.Context) (string, error) {
	verifier := oauth2.GenerateVerifier()
	state, err := generateState()
	if err != nil {
		return "", err
	}
	e.pkce.put(verifier, state)

	authURL := e.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
	slog.Info("authorization started", "redirect_uri", e.oauth.RedirectURL)

	if e.openURL != nil {
		if err := e.openURL(authURL); err != nil {
			slog.Warn("could not open browser", "error", err)
			return authURL, fmt.Errorf("%w: %w", ErrBrowserOpen, err)
		}
	}
	return authURL, nil
}

// CompleteAuthorization exchanges code for a token if state matches the
// in-flight flow, then commits the credential and clears the flow in one
// step under the token store lock.
func (e *Engine) CompleteAuthorization(ctx context.Context, code, state string) (AuthState, error) {
	flow, err := e.pkce.claim(state)
	if err != nil {
		slog.Warn("authorization callback rejected", "error", err)
		return e.store.Snapshot(), err
	}

	token, err := e.exchange(ctx, code, flow.verifier)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && !transient(re) {
			// The provider rejected the code; it cannot succeed on retry.
			e.pkce.discard(flow)
		} else {
			e.pkce.release(flow)
		}
		slog.Error("token exchange failed", "error", err)
		return e.store.Snapshot(), fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}

	profile := e.fetchProfile(ctx, token)

	s, err := e.commit(ctx, flow, 0, Credential{AccessToken: token, UserInfo: profile})
	if err != nil {
		return s, err
	}
	slog.Info("authorization completed")
	return s, nil
}

// ValidateOpaqueToken accepts a pasted token if the service recognizes it.
func (e *Engine) ValidateOpaqueToken(ctx context.Context, token string) (AuthState, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return e.store.Snapshot(), fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	if e.profiles == nil {
		return e.store.Snapshot(), fmt.Errorf("%w: no profile endpoint configured", ErrInvalidToken)
	}
	epoch := e.store.currentEpoch()

	profile, err := e.profiles.Me(ctx, token)
	if err != nil {
		slog.Warn("token validation failed", "error", err)
		return e.store.Snapshot(), fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	s, err := e.commit(ctx, nil, epoch, Credential{AccessToken: token, UserInfo: profile})
	if err != nil {
		return s, err
	}
	slog.Info("token accepted")
	return s, nil
}

// HandleCallbackURL dispatches a deep-link callback. An error redirect
// discards the in-flight flow and returns ErrAuthorizationDenied.
func (e *Engine) HandleCallbackURL(ctx context.Context, raw string) (AuthState, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return e.store.Snapshot(), fmt.Errorf("%w: %w", ErrInvalidCallback, err)
	}
	if !e.isRedirect(u) {
		return e.store.Snapshot(), fmt.Errorf("%w: %s://%s%s is not %s",
			ErrInvalidCallback, u.Scheme, u.Host, u.Path, e.oauth.RedirectURL)
	}

	q := u.Query()
	if reason := q.Get("error"); reason != "" {
		e.pkce.clear()
		if desc := q.Get("error_description"); desc != "" {
			reason += ": " + desc
		}
		slog.Warn("authorization denied", "reason", reason)
		return e.store.Snapshot(), fmt.Errorf("%w: %s", ErrAuthorizationDenied, reason)
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		return e.store.Snapshot(), fmt.Errorf("%w: missing code or state", ErrInvalidCallback)
	}
	return e.CompleteAuthorization(ctx, code, state)
}

// Logout clears the credential, persisted sessions, the statistics cache and
// any in-flight flow. It never fails; persistence errors are logged.
func (e *Engine) Logout(ctx context.Context) {
	e.store.Clear(ctx)
	e.pkce.clear()
	slog.Info("logged out")
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// exchange trades code for an access token.
func (e *Engine) exchange(ctx context.Context, code, verifier string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	tok, err := e.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response has no access_token")
	}
	return tok.AccessToken, nil
}

// fetchProfile returns the token owner's profile, or an empty profile when
// it cannot be fetched. A missing profile does not fail the login.
func (e *Engine) fetchProfile(ctx context.Context, token string) map[string]any {
	if e.profiles == nil {
		return map[string]any{}
	}
	profile, err := e.profiles.Me(ctx, token)
	if err != nil {
		slog.Warn("profile lookup after login failed", "error", fmt.Errorf("%w: %w", ErrProfileFetchFailed, err))
		return map[string]any{}
	}
	return profile
}

// commit installs cred and clears the in-flight flow atomically. With a
// flow, the commit is refused if that flow was replaced or discarded while
// the exchange ran. Without one, it is refused if a logout happened since
// epoch was read.
func (e *Engine) commit(ctx context.Context, flow *pkceFlow, epoch uint64, cred Credential) (AuthState, error) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.pkce.mu.Lock()
	defer e.pkce.mu.Unlock()

	if flow != nil && e.pkce.cur != flow {
		return e.store.snapshotLocked(), fmt.Errorf("%w: flow superseded while exchanging", ErrNoPendingFlow)
	}
	if flow == nil && e.store.epoch != epoch {
		return e.store.snapshotLocked(), fmt.Errorf("%w: logged out while validating", ErrInvalidToken)
	}

	e.store.setLocked(ctx, cred)
	e.pkce.cur = nil
	return e.store.snapshotLocked(), nil
}

// isRedirect reports whether u targets the configured redirect URI.
func (e *Engine) isRedirect(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, e.redirect.Scheme) &&
		strings.EqualFold(u.Host, e.redirect.Host) &&
		strings.TrimRight(u.Path, "/") == strings.TrimRight(e.redirect.Path, "/")
}

// transient reports whether a token endpoint failure may succeed on retry.
func transient(re *oauth2.RetrieveError) bool {
	if re.Response == nil {
		return true
	}
	code := re.Response.StatusCode
	return code == http.StatusTooManyRequests || code >= 500
}
