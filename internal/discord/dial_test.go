package discord

import (
	"errors"
	"net"
	"slices"
	"testing"
)

func TestSlots(t *testing.T) {
	got := slots("/tmp", "discord-ipc")
	if len(got) != ipcSlots || got[0] != "/tmp/discord-ipc-0" || got[9] != "/tmp/discord-ipc-9" {
		t.Fatalf("slots = %v", got)
	}
	if got := slots("", "discord-ipc")[3]; got != "discord-ipc-3" {
		t.Fatalf("bare slot = %q", got)
	}
}

func TestDialFirst(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	var tried []string
	conn, err := dialFirst([]string{"a", "b", "c"}, func(name string) (net.Conn, error) {
		tried = append(tried, name)
		if name == "b" {
			return client, nil
		}
		return nil, errors.New("refused")
	})
	if err != nil || conn != client {
		t.Fatalf("dialFirst = %v, %v", conn, err)
	}
	if !slices.Equal(tried, []string{"a", "b"}) {
		t.Fatalf("tried %v, want a then b", tried)
	}

	_, err = dialFirst([]string{"a"}, func(string) (net.Conn, error) { return nil, errors.New("refused") })
	if !errors.Is(err, ErrIPCNotAvailable) {
		t.Fatalf("err = %v, want ErrIPCNotAvailable", err)
	}
}
