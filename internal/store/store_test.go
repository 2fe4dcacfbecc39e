// Tests for the SQLite store covering schema setup, session save/load/clear
// and retention, cache hits, misses and expiry, and the nil-store guard.

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// fakeClock is a settable time source shared with the store under test.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func openTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	clock := &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	s.now = clock.now
	return s, clock
}

// ///////////////////////////////////////////////
// Open
// ///////////////////////////////////////////////

func TestOpenEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenTwiceKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.SaveSession(ctx, SessionRecord{IsAuthenticated: true, AccessToken: "tok"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	s.Close()

	s2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	n, err := s2.SessionCount(ctx)
	if err != nil {
		t.Fatalf("SessionCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("SessionCount = %d, want 1 after reopen", n)
	}
}

func TestNilStore(t *testing.T) {
	var s *Store
	ctx := context.Background()
	if _, err := s.SaveSession(ctx, SessionRecord{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("SaveSession err = %v, want ErrNotConfigured", err)
	}
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Get err = %v, want ErrNotConfigured", err)
	}
	if err := s.ClearCache(ctx); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ClearCache err = %v, want ErrNotConfigured", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil store: %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	s, _ := openTestStore(t)
	s.Close()
	if err := s.ClearSessions(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("ClearSessions after Close err = %v, want ErrNotConfigured", err)
	}
}

// ///////////////////////////////////////////////
// Sessions
// ///////////////////////////////////////////////

func TestSaveAndLoadLatestSession(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveSession(ctx, SessionRecord{IsAuthenticated: true, AccessToken: "old"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	clock.advance(time.Minute)
	id, err := s.SaveSession(ctx, SessionRecord{
		IsAuthenticated: true,
		AccessToken:     "new",
		UserInfo:        map[string]any{"username": "ada", "id": float64(42)},
	})
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	clock.advance(time.Minute)
	rec, err := s.LoadLatestSession(ctx)
	if err != nil {
		t.Fatalf("LoadLatestSession: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a session")
	}
	if rec.ID != id || rec.AccessToken != "new" || !rec.IsAuthenticated {
		t.Errorf("loaded %+v, want newest session", rec)
	}
	if rec.UserInfo["username"] != "ada" || rec.UserInfo["id"] != float64(42) {
		t.Errorf("UserInfo = %v", rec.UserInfo)
	}
	if !rec.LastAccessedAt.Equal(clock.t) {
		t.Errorf("LastAccessedAt = %v, want %v", rec.LastAccessedAt, clock.t)
	}
}

func TestLoadLatestSessionEmpty(t *testing.T) {
	s, _ := openTestStore(t)
	rec, err := s.LoadLatestSession(context.Background())
	if err != nil {
		t.Fatalf("LoadLatestSession: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil, got %+v", rec)
	}
}

func TestLoadLatestSessionTouchesRow(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	first, _ := s.SaveSession(ctx, SessionRecord{AccessToken: "a", IsAuthenticated: true})
	clock.advance(time.Minute)
	s.SaveSession(ctx, SessionRecord{AccessToken: "b", IsAuthenticated: true})

	// Updating the first row makes it the most recently accessed.
	clock.advance(time.Minute)
	if err := s.UpdateSession(ctx, first, SessionRecord{AccessToken: "a2", IsAuthenticated: true}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	rec, err := s.LoadLatestSession(ctx)
	if err != nil {
		t.Fatalf("LoadLatestSession: %v", err)
	}
	if rec.ID != first || rec.AccessToken != "a2" {
		t.Fatalf("loaded %+v, want updated first session", rec)
	}
}

func TestUpdateSessionMissing(t *testing.T) {
	s, _ := openTestStore(t)
	if err := s.UpdateSession(context.Background(), "nope", SessionRecord{}); err == nil {
		t.Fatal("expected error for missing session")
	}
}

func TestSessionWithoutCredential(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	s.SaveSession(ctx, SessionRecord{})

	rec, err := s.LoadLatestSession(ctx)
	if err != nil {
		t.Fatalf("LoadLatestSession: %v", err)
	}
	if rec.IsAuthenticated || rec.AccessToken != "" || rec.UserInfo != nil {
		t.Fatalf("expected empty credential, got %+v", rec)
	}
}

func TestClearSessions(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	s.SaveSession(ctx, SessionRecord{AccessToken: "a", IsAuthenticated: true})
	s.SaveSession(ctx, SessionRecord{AccessToken: "b", IsAuthenticated: true})

	if err := s.ClearSessions(ctx); err != nil {
		t.Fatalf("ClearSessions: %v", err)
	}
	if n, _ := s.SessionCount(ctx); n != 0 {
		t.Fatalf("SessionCount = %d, want 0", n)
	}
}

func TestCleanupOldSessions(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	s.SaveSession(ctx, SessionRecord{AccessToken: "stale", IsAuthenticated: true})
	clock.advance(40 * 24 * time.Hour)
	s.SaveSession(ctx, SessionRecord{AccessToken: "fresh", IsAuthenticated: true})

	n, err := s.CleanupOldSessions(ctx, 30)
	if err != nil {
		t.Fatalf("CleanupOldSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d sessions, want 1", n)
	}
	rec, _ := s.LoadLatestSession(ctx)
	if rec == nil || rec.AccessToken != "fresh" {
		t.Fatalf("remaining session = %+v, want fresh", rec)
	}
}

// ///////////////////////////////////////////////
// Cache
// ///////////////////////////////////////////////

func TestCacheSetGet(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "hours:2024-01-01:2024-01-01"); err != nil || ok {
		t.Fatalf("Get on empty cache = ok %v, err %v", ok, err)
	}
	if err := s.Set(ctx, "hours:2024-01-01:2024-01-01", []byte(`{"total_seconds":3600}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get(ctx, "hours:2024-01-01:2024-01-01")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v", ok, err)
	}
	if string(v) != `{"total_seconds":3600}` {
		t.Fatalf("value = %s", v)
	}
}

func TestCacheOverwrite(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	s.Set(ctx, "k", []byte("1"), time.Hour)
	s.Set(ctx, "k", []byte("2"), time.Hour)

	v, _, _ := s.Get(ctx, "k")
	if string(v) != "2" {
		t.Fatalf("value = %s, want 2", v)
	}
	if n, _ := s.CacheCount(ctx); n != 1 {
		t.Fatalf("CacheCount = %d, want 1", n)
	}
}

func TestCacheExpiry(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()
	s.Set(ctx, "short", []byte("x"), time.Minute)
	s.Set(ctx, "long", []byte("y"), 24*time.Hour)

	clock.advance(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "short"); ok {
		t.Fatal("expired entry should be a miss")
	}
	if _, ok, _ := s.Get(ctx, "long"); !ok {
		t.Fatal("live entry should be a hit")
	}

	n, err := s.CleanupExpiredCache(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredCache: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed %d, want 1", n)
	}
}

func TestCacheRejectsNonPositiveTTL(t *testing.T) {
	s, _ := openTestStore(t)
	if err := s.Set(context.Background(), "k", []byte("v"), 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestClearCache(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	s.Set(ctx, "a", []byte("1"), time.Hour)
	s.Set(ctx, "b", []byte("2"), time.Hour)

	if err := s.ClearCache(ctx); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	if n, _ := s.CacheCount(ctx); n != 0 {
		t.Fatalf("CacheCount = %d, want 0", n)
	}
}

func TestCleanup(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()
	s.SaveSession(ctx, SessionRecord{AccessToken: "old", IsAuthenticated: true})
	s.Set(ctx, "k", []byte("v"), time.Hour)
	clock.advance(31 * 24 * time.Hour)

	sessions, cache, err := s.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if sessions != 1 || cache != 1 {
		t.Fatalf("Cleanup removed sessions=%d cache=%d, want 1 and 1", sessions, cache)
	}
}
