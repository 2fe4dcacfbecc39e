package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hackclub/hackatime-desktop/internal/inbox"
)

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	if got := resolveVersion(); got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "dev"
	// Test binaries may or may not carry VCS info.
	if got := resolveVersion(); !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, expected to start with 'dev'", got)
	}
}

func TestDefaultDataDir(t *testing.T) {
	if dir := defaultDataDir(); !strings.HasSuffix(dir, ".kubetime") {
		t.Errorf("defaultDataDir() = %q, want path ending in .kubetime", dir)
	}
}

// ///////////////////////////////////////////////
// PID Tests
// ///////////////////////////////////////////////

func TestPidToken(t *testing.T) {
	a, b := pidToken(), pidToken()
	if a == b {
		t.Errorf("pidToken() returned the same value twice: %q", a)
	}
	if len(a) != 16 {
		t.Errorf("pidToken() length = %d, want 16", len(a))
	}
}

func TestWritePIDContent(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	// Read through the open handle; on Windows the lock blocks os.ReadFile.
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	data := make([]byte, 256)
	n, err := f.Read(data)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if want := fmt.Sprintf("%d:%s", os.Getpid(), token); string(data[:n]) != want {
		t.Errorf("PID file content = %q, want %q", data[:n], want)
	}
}

func TestRemovePID(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantExists bool
	}{
		{"matching token removes", "", false},
		{"mismatched token keeps", "wrong-token", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dp := DataPaths{Root: t.TempDir()}
			token := pidToken()
			f, err := writePID(dp, token)
			if err != nil {
				t.Fatalf("writePID() error: %v", err)
			}
			remove := token
			if tt.token != "" {
				remove = tt.token
			}
			removePID(dp, remove, f)

			_, statErr := os.Stat(dp.PID())
			if exists := statErr == nil; exists != tt.wantExists {
				t.Errorf("PID file exists = %v, want %v", exists, tt.wantExists)
			}
		})
	}
}

func TestRemovePIDNilFile(t *testing.T) {
	removePID(DataPaths{Root: t.TempDir()}, "any-token", nil)
}

func TestCheckStalePID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	if alive, pid := checkStalePID(dp); alive || pid != 0 {
		t.Fatalf("no file: alive=%v pid=%d", alive, pid)
	}

	// An unlocked file is what a crashed daemon leaves behind.
	if err := os.WriteFile(dp.PID(), []byte("99999:staletoken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if alive, _ := checkStalePID(dp); alive {
		t.Error("stale PID reported alive")
	}
	if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
		t.Error("stale PID file should have been removed")
	}
}

func TestSecondDaemonCannotLock(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()
	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}

	if _, err := writePID(dp, pidToken()); err == nil {
		t.Fatal("second writePID() took a held lock")
	}
	// The Windows lock also blocks reads, so only liveness is portable.
	if alive, _ := checkStalePID(dp); !alive {
		t.Fatal("checkStalePID() did not see the held lock")
	}

	removePID(dp, token, f)
	if alive, _ := checkStalePID(dp); alive {
		t.Fatal("daemon still reported alive after removePID()")
	}
}

func TestShutdownContext(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := shutdownContext(parent)
	defer stop()

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("shutdown context ignored parent cancellation")
	}
	if len(shutdownSignals) == 0 || shutdownSignals[0] != os.Interrupt {
		t.Fatalf("shutdownSignals = %v, want os.Interrupt first", shutdownSignals)
	}
}

// ///////////////////////////////////////////////
// CLI Tests
// ///////////////////////////////////////////////

func runCLI(t *testing.T, dir string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(append([]string{"-data-dir", dir}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestEnqueueCommands(t *testing.T) {
	tests := []struct {
		args []string
		want inbox.Command
	}{
		{[]string{"login"}, inbox.Command{Kind: inbox.KindLogin}},
		{[]string{"logout"}, inbox.Command{Kind: inbox.KindLogout}},
		{[]string{"refresh"}, inbox.Command{Kind: inbox.KindRefresh}},
		{[]string{"open-url", "kubetime://auth/callback?code=c&state=s"}, inbox.Command{Kind: inbox.KindCallback, URL: "kubetime://auth/callback?code=c&state=s"}},
		{[]string{"token", "abc"}, inbox.Command{Kind: inbox.KindToken, Token: "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			dir := t.TempDir()
			code, stdout, stderr := runCLI(t, dir, tt.args...)
			if code != 0 {
				t.Fatalf("exit %d: %s", code, stderr)
			}
			if !strings.Contains(stdout, "queued") || !strings.Contains(stderr, "not running") {
				t.Fatalf("stdout=%q stderr=%q", stdout, stderr)
			}

			cmds, err := inbox.Drain(DataPaths{Root: dir}.Inbox())
			if err != nil || len(cmds) != 1 {
				t.Fatalf("drained %v, %v", cmds, err)
			}
			got := cmds[0]
			if got.Kind != tt.want.Kind || got.URL != tt.want.URL || got.Token != tt.want.Token {
				t.Fatalf("queued %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"open-url without url", []string{"open-url"}},
		{"token with extra args", []string{"token", "a", "b"}},
		{"api-key with args", []string{"api-key", "x"}},
		{"bad logs flag", []string{"logs", "-n", "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCLI(t, t.TempDir(), tt.args...); code != 2 {
				t.Fatalf("exit = %d, want 2", code)
			}
		})
	}
}

func TestStatusCommand(t *testing.T) {
	dir := t.TempDir()
	if code, _, stderr := runCLI(t, dir, "status"); code != 1 || !strings.Contains(stderr, "no status yet") {
		t.Fatalf("missing status: exit %d, %q", code, stderr)
	}

	body := `{"authenticated":true,"session_active":true,"project":"kubetime","editor":"vscode","language":"Go","heartbeat_count":4}`
	os.WriteFile(filepath.Join(dir, "status.json"), []byte(body), 0o644)

	code, stdout, _ := runCLI(t, dir, "status")
	if code != 0 || !strings.Contains(stdout, `"project": "kubetime"`) || !strings.Contains(stdout, `"heartbeat_count": 4`) {
		t.Fatalf("exit %d, stdout %q", code, stdout)
	}
}

func TestLogsCommand(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "daemon.log"), []byte("one\ntwo\nthree\n"), 0o644)

	code, stdout, _ := runCLI(t, dir, "logs", "-n", "2")
	if code != 0 || stdout != "two\nthree\n" {
		t.Fatalf("exit %d, stdout %q", code, stdout)
	}

	if code, _, _ := runCLI(t, t.TempDir(), "logs"); code != 1 {
		t.Fatalf("missing log exit = %d, want 1", code)
	}
}

func TestQueryRequiresLogin(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := runCLI(t, dir, "api-key")
	if code != 1 || !strings.Contains(stderr, "not logged in") {
		t.Fatalf("exit %d, stderr %q", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("default config not seeded: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := runCLI(t, t.TempDir(), "version")
	if code != 0 || strings.TrimSpace(stdout) == "" {
		t.Fatalf("exit %d, stdout %q", code, stdout)
	}
}
