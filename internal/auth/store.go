package auth

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/hackclub/hackatime-desktop/internal/store"
)

// Persistence is the durable backing of the token store. *store.Store
// implements it.
type Persistence interface {
	SaveSession(ctx context.Context, rec store.SessionRecord) (string, error)
	LoadLatestSession(ctx context.Context) (*store.SessionRecord, error)
	ClearSessions(ctx context.Context) error
	ClearCache(ctx context.Context) error
}

// Credential is an accepted bearer token and the profile it belongs to.
type Credential struct {
	AccessToken string
	UserInfo    map[string]any
}

// AuthState is the externally visible authentication state.
// IsAuthenticated is true exactly when AccessToken is non-empty.
type AuthState struct {
	IsAuthenticated bool           `json:"is_authenticated"`
	AccessToken     string         `json:"access_token,omitempty"`
	UserInfo        map[string]any `json:"user_info,omitempty"`
}

// Store holds the current credential behind a read/write lock and mirrors
// every change to its Persistence.
type Store struct {
	mu      sync.RWMutex
	cred    *Credential
	epoch   uint64
	persist Persistence
}

// NewStore returns an empty, logged-out store. p may be nil, in which case
// nothing survives a restart.
func NewStore(p Persistence) *Store {
	return &Store{persist: p}
}

// Load restores the most recent persisted session. A stored session without
// a token leaves the store logged out.
func (s *Store) Load(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	rec, err := s.persist.LoadLatestSession(ctx)
	if err != nil {
		return fmt.Errorf("%w: load session: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec == nil || !rec.IsAuthenticated || rec.AccessToken == "" {
		s.cred = nil
		return nil
	}
	s.cred = &Credential{AccessToken: rec.AccessToken, UserInfo: rec.UserInfo}
	slog.Info("restored session", "session_id", rec.ID)
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// AccessToken returns the current bearer token.
func (s *Store) AccessToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return "", false
	}
	return s.cred.AccessToken, true
}

// WhileCurrent runs fn only if token is still the held credential, and
// holds the read lock while fn runs so a concurrent Clear or Replace waits
// for it. It reports whether fn ran.
func (s *Store) WhileCurrent(token string, fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil || s.cred.AccessToken != token {
		return false
	}
	fn()
	return true
}

// IsAuthenticated reports whether a credential is held.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred != nil
}

// Replace installs cred and persists it. An empty token clears the store
// instead.
func (s *Store) Replace(ctx context.Context, cred Credential) AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(ctx, cred)
	return s.snapshotLocked()
}

// Clear logs out: the in-memory credential is dropped first, then persisted
// sessions and the statistics cache are cleared. Persistence failures are
// logged; the store is logged out regardless.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	s.epoch++

	if s.persist == nil {
		return
	}
	if err := s.persist.ClearSessions(ctx); err != nil {
		slog.Error("clear sessions", "error", fmt.Errorf("%w: %w", ErrPersistence, err))
	}
	if err := s.persist.ClearCache(ctx); err != nil {
		slog.Error("clear cache", "error", fmt.Errorf("%w: %w", ErrPersistence, err))
	}
}

// currentEpoch identifies the login generation. It changes on every Clear,
// letting a slow login detect that a logout happened meanwhile.
func (s *Store) currentEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// setLocked installs cred and persists it. Must be called with mu held.
func (s *Store) setLocked(ctx context.Context, cred Credential) {
	if cred.AccessToken == "" {
		s.cred = nil
		return
	}
	c := &Credential{AccessToken: cred.AccessToken, UserInfo: maps.Clone(cred.UserInfo)}
	s.cred = c

	if s.persist == nil {
		return
	}
	_, err := s.persist.SaveSession(ctx, store.SessionRecord{
		IsAuthenticated: true,
		AccessToken:     c.AccessToken,
		UserInfo:        c.UserInfo,
	})
	if err != nil {
		slog.Error("save session", "error", fmt.Errorf("%w: %w", ErrPersistence, err))
	}
}

func (s *Store) snapshotLocked() AuthState {
	if s.cred == nil {
		return AuthState{}
	}
	return AuthState{
		IsAuthenticated: true,
		AccessToken:     s.cred.AccessToken,
		UserInfo:        maps.Clone(s.cred.UserInfo),
	}
}
