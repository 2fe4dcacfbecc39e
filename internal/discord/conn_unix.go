//go:build !windows

package discord

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// Socket prefixes of the stable, Canary and PTB clients.
var socketPrefixes = []string{"discord-ipc", "discordcanary-ipc", "discordptb-ipc"}

// connectToDiscord dials the first reachable socket from socketPaths.
func connectToDiscord() (net.Conn, error) {
	conn, err := dialFirst(socketPaths(), func(p string) (net.Conn, error) {
		return net.DialTimeout("unix", p, dialTimeout)
	})
	if errors.Is(err, ErrIPCNotAvailable) && isWSL() {
		return nil, fmt.Errorf("%w: under WSL Discord needs a socat + npiperelay.exe relay", err)
	}
	return conn, err
}

// socketPaths lists candidate sockets in probe order: XDG_RUNTIME_DIR,
// TMPDIR, /tmp, then the Snap and Flatpak sandboxes, then WSL relays.
func socketPaths() []string {
	var dirs []string
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		dirs = append(dirs, dir)
	}
	if dir := strings.TrimRight(os.Getenv("TMPDIR"), "/"); dir != "" && dir != "/tmp" {
		dirs = append(dirs, dir)
	}
	dirs = append(dirs, "/tmp")

	var paths []string
	for _, dir := range dirs {
		for _, prefix := range socketPrefixes {
			paths = append(paths, slots(dir, prefix)...)
		}
	}

	run := "/run/user/" + strconv.Itoa(os.Getuid())
	for _, sandbox := range []string{
		"snap.discord",
		"snap.discord-canary",
		"snap.discord-ptb",
		"app/com.discordapp.Discord",
		"app/com.discordapp.DiscordCanary",
		"app/com.discordapp.DiscordPTB",
	} {
		paths = append(paths, slots(run+"/"+sandbox, "discord-ipc")...)
	}

	return append(paths, wslSocketPaths()...)
}
