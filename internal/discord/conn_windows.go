//go:build windows

package discord

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// connectToDiscord dials the first named pipe slot that answers within
// dialTimeout. Every Windows build of Discord uses the same pipe names.
func connectToDiscord() (net.Conn, error) {
	pipes := make([]string, 0, ipcSlots)
	for _, s := range slots("", "discord-ipc") {
		pipes = append(pipes, `\\.\pipe\`+s)
	}
	return dialFirst(pipes, func(name string) (net.Conn, error) {
		timeout := dialTimeout
		return winio.DialPipe(name, &timeout)
	})
}
