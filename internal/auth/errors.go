package auth

import "errors"

var (
	// ErrAuthenticationRequired is returned when an operation needs a token
	// and none is stored.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrStateMismatch is returned when a callback's state does not match the
	// in-flight authorization. No token request is made.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrPKCEExpired is returned when a callback arrives after the in-flight
	// authorization expired. The flow is discarded.
	ErrPKCEExpired = errors.New("authorization expired, please log in again")
	// ErrNoPendingFlow is returned when no authorization is in flight, or the
	// flow is already being completed by another callback.
	ErrNoPendingFlow = errors.New("no authorization in progress")
	// ErrTokenExchangeFailed is returned when the authorization code could not
	// be exchanged for a token.
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	// ErrInvalidToken is returned when a pasted token is rejected.
	ErrInvalidToken = errors.New("invalid token")
	// ErrProfileFetchFailed marks a failed profile lookup after a successful
	// exchange. It is logged, never returned from a completed login.
	ErrProfileFetchFailed = errors.New("profile fetch failed")
	// ErrPersistence marks a failed save or clear of durable auth state. It
	// is logged and never blocks the in-memory state.
	ErrPersistence = errors.New("persistence failed")
	// ErrAuthorizationDenied is returned when the provider redirects back
	// with an error instead of a code.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrInvalidCallback is returned for a URL that is not a well-formed
	// callback for the configured redirect URI.
	ErrInvalidCallback = errors.New("invalid callback url")
	// ErrBrowserOpen is returned alongside the authorization URL when the
	// default browser could not be launched.
	ErrBrowserOpen = errors.New("could not open browser")
)
