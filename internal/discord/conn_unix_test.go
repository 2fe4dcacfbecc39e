//go:build !windows

package discord

import (
	"os"
	"slices"
	"strconv"
	"testing"
)

func TestSocketPathsOrder(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	t.Setenv("TMPDIR", "/var/folders/xy/T/")

	paths := socketPaths()
	if paths[0] != "/run/user/1000/discord-ipc-0" {
		t.Fatalf("first path = %q", paths[0])
	}
	tmpdir := slices.Index(paths, "/var/folders/xy/T/discord-ipc-0")
	tmp := slices.Index(paths, "/tmp/discord-ipc-0")
	if tmpdir < 0 || tmp < 0 || tmpdir > tmp {
		t.Fatalf("TMPDIR index %d, /tmp index %d", tmpdir, tmp)
	}
	if !slices.Contains(paths, "/run/user/1000/discordcanary-ipc-9") {
		t.Fatal("missing canary slot 9")
	}

	flatpak := "/run/user/" + strconv.Itoa(os.Getuid()) + "/app/com.discordapp.Discord/discord-ipc-0"
	if i := slices.Index(paths, flatpak); i < tmp {
		t.Fatalf("flatpak index %d, want after /tmp (%d)", i, tmp)
	}
}

func TestSocketPathsWithoutEnv(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	t.Setenv("TMPDIR", "/tmp/")

	paths := socketPaths()
	if paths[0] != "/tmp/discord-ipc-0" {
		t.Fatalf("first path = %q", paths[0])
	}
	if n := len(slices.Compact(slices.Clone(paths))); n != len(paths) {
		t.Fatalf("adjacent duplicate paths in %v", paths)
	}
}
