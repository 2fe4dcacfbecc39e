// Tests for the IPC client against an in-memory Discord peer: handshake,
// command replies matched by nonce, ping handling and dropping a broken
// connection.
package discord

import (
	"encoding/json"
	"errors"
	"net"
	"os"
	"testing"
)

// ///////////////////////////////////////////////
// Test Helpers
// ///////////////////////////////////////////////

// readFrame reads one frame from the peer side and decodes its JSON payload.
func readFrame(t *testing.T, conn net.Conn) (Opcode, map[string]any) {
	t.Helper()
	f, err := ReadFrame(conn)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		t.Fatalf("parse frame %q: %v", f.Payload, err)
	}
	return f.Op, m
}

// writeFrame sends v as a JSON frame from the peer side.
func writeFrame(t *testing.T, conn net.Conn, op Opcode, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(mustMarshal(t, Frame{Op: op, Payload: payload})); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// pipeClient returns a client whose dialer hands out one end of a pipe.
func pipeClient(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })

	c := NewClient("app-id")
	c.dial = func() (net.Conn, error) { return client, nil }
	return c, server
}

// connected returns a client that has completed the handshake.
func connected(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	c, server := pipeClient(t)
	done := make(chan error, 1)
	go func() { done <- c.Connect() }()

	readFrame(t, server)
	writeFrame(t, server, OpFrame, map[string]any{"cmd": "DISPATCH", "evt": "READY"})
	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c, server
}

// ///////////////////////////////////////////////
// Connect
// ///////////////////////////////////////////////

func TestConnectHandshake(t *testing.T) {
	c, server := pipeClient(t)
	done := make(chan error, 1)
	go func() { done <- c.Connect() }()

	op, m := readFrame(t, server)
	if op != OpHandshake {
		t.Fatalf("opcode = %d, want handshake", op)
	}
	if m["client_id"] != "app-id" || m["v"] != float64(1) {
		t.Fatalf("handshake = %v", m)
	}
	writeFrame(t, server, OpFrame, map[string]any{"cmd": "DISPATCH", "evt": "READY"})

	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Connected() {
		t.Fatal("expected connected")
	}
}

func TestConnectHandshakeRejected(t *testing.T) {
	c, server := pipeClient(t)
	done := make(chan error, 1)
	go func() { done <- c.Connect() }()

	readFrame(t, server)
	writeFrame(t, server, OpFrame, map[string]any{
		"evt":  "ERROR",
		"data": map[string]any{"code": 4000, "message": "Invalid Client ID"},
	})

	if err := <-done; err == nil {
		t.Fatal("expected handshake error")
	}
	if c.Connected() {
		t.Fatal("rejected handshake must not leave a connection")
	}
}

func TestConnectDialFailure(t *testing.T) {
	c := NewClient("app-id")
	c.dial = func() (net.Conn, error) { return nil, ErrIPCNotAvailable }
	if err := c.Connect(); !errors.Is(err, ErrIPCNotAvailable) {
		t.Fatalf("err = %v, want ErrIPCNotAvailable", err)
	}
}

// ///////////////////////////////////////////////
// Commands
// ///////////////////////////////////////////////

func TestSetActivity(t *testing.T) {
	c, server := connected(t)
	done := make(chan error, 1)
	go func() {
		done <- c.SetActivity(&Activity{
			Details:    "Editing main.go",
			State:      "kubetime",
			Timestamps: &Timestamps{Start: 1700000000},
			Assets:     &Assets{LargeImage: "kubetime", SmallImage: "coding", SmallText: "Coding"},
		})
	}()

	op, m := readFrame(t, server)
	if op != OpFrame || m["cmd"] != "SET_ACTIVITY" {
		t.Fatalf("frame = %d %v", op, m)
	}
	args := m["args"].(map[string]any)
	if int(args["pid"].(float64)) != os.Getpid() {
		t.Fatalf("pid = %v", args["pid"])
	}
	act := args["activity"].(map[string]any)
	if act["details"] != "Editing main.go" || act["state"] != "kubetime" {
		t.Fatalf("activity = %v", act)
	}
	if ts := act["timestamps"].(map[string]any); ts["start"] != float64(1700000000) {
		t.Fatalf("timestamps = %v", ts)
	}

	writeFrame(t, server, OpFrame, map[string]any{"cmd": "SET_ACTIVITY", "nonce": m["nonce"]})
	if err := <-done; err != nil {
		t.Fatalf("SetActivity: %v", err)
	}
}

func TestSetActivitySkipsUnrelatedFrames(t *testing.T) {
	c, server := connected(t)
	done := make(chan error, 1)
	go func() { done <- c.ClearActivity() }()

	_, m := readFrame(t, server)
	if act, ok := m["args"].(map[string]any)["activity"]; !ok || act != nil {
		t.Fatalf("clear must send a null activity, got %v", act)
	}

	writeFrame(t, server, OpPing, map[string]any{"t": 7})
	op, pong := readFrame(t, server)
	if op != OpPong || pong["t"] != float64(7) {
		t.Fatalf("pong = %d %v", op, pong)
	}
	writeFrame(t, server, OpFrame, map[string]any{"cmd": "DISPATCH", "evt": "ACTIVITY_JOIN", "nonce": "other"})
	writeFrame(t, server, OpFrame, map[string]any{"cmd": "SET_ACTIVITY", "nonce": m["nonce"]})

	if err := <-done; err != nil {
		t.Fatalf("ClearActivity: %v", err)
	}
}

func TestSetActivityRejected(t *testing.T) {
	c, server := connected(t)
	done := make(chan error, 1)
	go func() { done <- c.SetActivity(&Activity{State: "x"}) }()

	_, m := readFrame(t, server)
	writeFrame(t, server, OpFrame, map[string]any{
		"evt":   "ERROR",
		"nonce": m["nonce"],
		"data":  map[string]any{"code": 4002, "message": "child \"activity\" fails"},
	})

	if err := <-done; !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("err = %v, want ErrCommandRejected", err)
	}
	if !c.Connected() {
		t.Fatal("a rejected command must keep the connection")
	}
}

func TestSetActivityDropsBrokenConnection(t *testing.T) {
	tests := []struct {
		name string
		peer func(t *testing.T, server net.Conn)
	}{
		{
			name: "peer hangs up",
			peer: func(t *testing.T, server net.Conn) {
				readFrame(t, server)
				server.Close()
			},
		},
		{
			name: "peer sends close",
			peer: func(t *testing.T, server net.Conn) {
				readFrame(t, server)
				writeFrame(t, server, OpClose, map[string]any{"code": 1000, "message": "bye"})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, server := connected(t)
			done := make(chan error, 1)
			go func() { done <- c.SetActivity(&Activity{State: "x"}) }()

			tt.peer(t, server)
			if err := <-done; err == nil {
				t.Fatal("expected error")
			}
			if c.Connected() {
				t.Fatal("broken connection must be dropped")
			}
			if err := c.SetActivity(&Activity{}); !errors.Is(err, ErrNotConnected) {
				t.Fatalf("after drop err = %v, want ErrNotConnected", err)
			}
		})
	}
}

func TestNonceIncrements(t *testing.T) {
	c, server := connected(t)
	var nonces []any
	for range 2 {
		done := make(chan error, 1)
		go func() { done <- c.ClearActivity() }()
		_, m := readFrame(t, server)
		nonces = append(nonces, m["nonce"])
		writeFrame(t, server, OpFrame, map[string]any{"nonce": m["nonce"]})
		if err := <-done; err != nil {
			t.Fatalf("ClearActivity: %v", err)
		}
	}
	if nonces[0] == nonces[1] {
		t.Fatalf("nonces repeat: %v", nonces)
	}
}

// ///////////////////////////////////////////////
// Close
// ///////////////////////////////////////////////

func TestCloseClearsActivity(t *testing.T) {
	c, server := connected(t)
	done := make(chan error, 1)
	go func() { done <- c.Close() }()

	_, m := readFrame(t, server)
	if m["cmd"] != "SET_ACTIVITY" {
		t.Fatalf("cmd = %v", m["cmd"])
	}
	writeFrame(t, server, OpFrame, map[string]any{"nonce": m["nonce"]})

	if err := <-done; err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Connected() {
		t.Fatal("expected disconnected")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
