// Under WSL2 the Windows pipe is only reachable through a relay such as:
//
//	socat UNIX-LISTEN:/tmp/discord-ipc-0,fork EXEC:"npiperelay.exe -ep -s //./pipe/discord-ipc-0"

//go:build linux

package discord

import (
	"os"
	"strings"
	"sync"
)

// isWSL reports whether the process runs inside WSL.
var isWSL = sync.OnceValue(func() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
})

// wslSocketPaths adds the WSLg runtime dir, where relays started from a
// WSLg session listen, or nil outside WSL. /tmp is probed by socketPaths.
func wslSocketPaths() []string {
	if !isWSL() {
		return nil
	}
	return slots("/mnt/wslg/runtime-dir", "discord-ipc")
}
