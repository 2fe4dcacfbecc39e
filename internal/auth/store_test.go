// Tests for the token store covering restore from persistence, snapshot
// isolation, replace and clear, and the state generator.

package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hackclub/hackatime-desktop/internal/store"
)

func TestStoreLoad(t *testing.T) {
	tests := []struct {
		name     string
		latest   *store.SessionRecord
		loadErr  error
		wantAuth bool
		wantErr  error
	}{
		{
			name:     "authenticated session",
			latest:   &store.SessionRecord{ID: "s1", IsAuthenticated: true, AccessToken: "tok", UserInfo: map[string]any{"username": "ada"}},
			wantAuth: true,
		},
		{
			name:   "flag without token",
			latest: &store.SessionRecord{ID: "s2", IsAuthenticated: true},
		},
		{
			name:   "token without flag",
			latest: &store.SessionRecord{ID: "s3", AccessToken: "tok"},
		},
		{name: "no session"},
		{name: "load failure", loadErr: errors.New("locked"), wantErr: ErrPersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(&fakePersistence{latest: tt.latest, loadErr: tt.loadErr})
			err := s.Load(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Load err = %v, want %v", err, tt.wantErr)
			}
			snap := s.Snapshot()
			assertInvariant(t, snap)
			if snap.IsAuthenticated != tt.wantAuth {
				t.Fatalf("IsAuthenticated = %v, want %v", snap.IsAuthenticated, tt.wantAuth)
			}
		})
	}
}

func TestStoreWithoutPersistence(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Replace(ctx, Credential{AccessToken: "tok"})
	if tok, ok := s.AccessToken(); !ok || tok != "tok" {
		t.Fatalf("AccessToken = %q, %v", tok, ok)
	}
	s.Clear(ctx)
	if s.IsAuthenticated() {
		t.Fatal("expected logged out")
	}
}

func TestStoreReplaceEmptyTokenLogsOut(t *testing.T) {
	p := &fakePersistence{}
	s := NewStore(p)
	ctx := context.Background()
	s.Replace(ctx, Credential{AccessToken: "tok"})

	snap := s.Replace(ctx, Credential{UserInfo: map[string]any{"x": 1}})
	assertInvariant(t, snap)
	if snap.IsAuthenticated {
		t.Fatal("empty token must not authenticate")
	}
	if len(p.saved) != 1 {
		t.Fatalf("persisted %d sessions, want only the real credential", len(p.saved))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore(nil)
	info := map[string]any{"username": "ada"}
	s.Replace(context.Background(), Credential{AccessToken: "tok", UserInfo: info})

	info["username"] = "mallory"
	snap := s.Snapshot()
	snap.UserInfo["username"] = "eve"

	if got := s.Snapshot().UserInfo["username"]; got != "ada" {
		t.Fatalf("stored username = %v, want ada", got)
	}
}

func TestClearBumpsEpoch(t *testing.T) {
	s := NewStore(nil)
	before := s.currentEpoch()
	s.Clear(context.Background())
	if s.currentEpoch() == before {
		t.Fatal("Clear must change the epoch")
	}
}

func TestWhileCurrent(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)

	ran := false
	if s.WhileCurrent("", func() { ran = true }) || ran {
		t.Fatal("WhileCurrent ran while logged out")
	}

	s.Replace(ctx, Credential{AccessToken: "tok-a"})
	if !s.WhileCurrent("tok-a", func() { ran = true }) || !ran {
		t.Fatal("WhileCurrent skipped the current token")
	}

	ran = false
	s.Replace(ctx, Credential{AccessToken: "tok-b"})
	if s.WhileCurrent("tok-a", func() { ran = true }) || ran {
		t.Fatal("WhileCurrent ran for a replaced token")
	}

	s.Clear(ctx)
	if s.WhileCurrent("tok-b", func() { ran = true }) || ran {
		t.Fatal("WhileCurrent ran after logout")
	}
}

func TestWhileCurrentHoldsOffClear(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil)
	s.Replace(ctx, Credential{AccessToken: "tok"})

	inside := make(chan struct{})
	release := make(chan struct{})
	done := make(chan bool, 1)
	go func() {
		done <- s.WhileCurrent("tok", func() {
			close(inside)
			<-release
		})
	}()
	<-inside

	cleared := make(chan struct{})
	go func() {
		s.Clear(ctx)
		close(cleared)
	}()
	select {
	case <-cleared:
		t.Fatal("Clear finished while WhileCurrent was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if !<-done {
		t.Fatal("WhileCurrent reported it did not run")
	}
	<-cleared
	if s.IsAuthenticated() {
		t.Fatal("Clear did not log out")
	}
}

func TestGenerateState(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		st, err := generateState()
		if err != nil {
			t.Fatalf("generateState: %v", err)
		}
		if len(st) != stateLength {
			t.Fatalf("len = %d, want %d", len(st), stateLength)
		}
		for _, r := range st {
			if !strings.ContainsRune(stateAlphabet, r) {
				t.Fatalf("state %q contains %q", st, r)
			}
		}
		if seen[st] {
			t.Fatalf("duplicate state %q", st)
		}
		seen[st] = true
	}
}
