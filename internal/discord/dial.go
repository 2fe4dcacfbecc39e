package discord

import (
	"fmt"
	"net"
	"path"
)

// slots returns the numbered endpoint names under dir for one socket prefix,
// e.g. dir/discord-ipc-0 through dir/discord-ipc-9.
func slots(dir, prefix string) []string {
	out := make([]string, 0, ipcSlots)
	for i := range ipcSlots {
		out = append(out, path.Join(dir, fmt.Sprintf("%s-%d", prefix, i)))
	}
	return out
}

// dialFirst returns the first candidate dial accepts.
func dialFirst(candidates []string, dial func(string) (net.Conn, error)) (net.Conn, error) {
	for _, c := range candidates {
		if conn, err := dial(c); err == nil {
			return conn, nil
		}
	}
	return nil, ErrIPCNotAvailable
}
