// Package discord provides a client for Discord's local IPC socket,
// enabling Rich Presence updates via the SET_ACTIVITY command.
//
// The [Client] type manages connection lifecycle, command framing and the
// reply to each command. Platform-specific socket discovery is handled by
// conn_unix.go and conn_windows.go.
package discord

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

// ErrNotConnected is returned when an operation requires an active connection.
var ErrNotConnected = errors.New("not connected")

// ErrCommandRejected is returned when Discord answers a command with an
// ERROR event.
var ErrCommandRejected = errors.New("discord rejected command")

// ioTimeout bounds every write and every wait for a reply.
const ioTimeout = 5 * time.Second

// maxSkippedFrames bounds how many unrelated frames are read while waiting
// for a command's reply.
const maxSkippedFrames = 16

// ///////////////////////////////////////////////
// Data Types
// ///////////////////////////////////////////////

// Timestamps holds the start timestamp for an activity.
type Timestamps struct {
	Start int64 `json:"start,omitempty"`
}

// Assets holds image keys and tooltip text for an activity.
type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

// Activity represents a Discord Rich Presence activity.
type Activity struct {
	Details    string      `json:"details,omitempty"`
	State      string      `json:"state,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Assets     *Assets     `json:"assets,omitempty"`
}

// response is the subset of a reply frame the client inspects.
type response struct {
	Cmd   string `json:"cmd"`
	Evt   string `json:"evt"`
	Nonce string `json:"nonce"`
	Data  struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"data"`
}

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Client manages a connection to Discord's IPC socket.
type Client struct {
	// appID is the Discord application (OAuth2 client) identifier.
	appID string
	// dial opens the IPC socket. Replaced in tests.
	dial func() (net.Conn, error)

	// mu protects conn and nonce from concurrent access.
	mu sync.Mutex
	// conn is the active IPC socket connection, or nil when disconnected.
	conn net.Conn
	// nonce is a monotonically increasing counter used to tag each command frame.
	nonce uint64
}

// NewClient creates a new Discord IPC client for the given application ID.
func NewClient(appID string) *Client {
	return &Client{appID: appID, dial: connectToDiscord}
}

// Connect establishes a connection to Discord via IPC and sends the handshake.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Close old connection if reconnecting.
	c.dropLocked()

	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.conn = conn

	if err := c.handshake(); err != nil {
		c.dropLocked()
		return err
	}
	return nil
}

// SetActivity sends a SET_ACTIVITY command and waits for Discord's reply.
func (c *Client) SetActivity(activity *Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.command("SET_ACTIVITY", map[string]any{
		"pid":      os.Getpid(),
		"activity": activity,
	})
}

// ClearActivity sends a SET_ACTIVITY command with a nil activity.
func (c *Client) ClearActivity() error {
	return c.SetActivity(nil)
}

// Close clears the activity and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	// Best-effort clear before closing.
	_ = c.command("SET_ACTIVITY", map[string]any{
		"pid":      os.Getpid(),
		"activity": nil,
	})

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Connected reports whether the client has an active connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// handshake sends the initial handshake frame to Discord and validates the
// response. The caller must hold c.mu.
func (c *Client) handshake() error {
	payload, err := json.Marshal(map[string]any{
		"v":         1,
		"client_id": c.appID,
	})
	if err != nil {
		return fmt.Errorf("marshaling handshake: %w", err)
	}
	if err := c.write(OpHandshake, payload); err != nil {
		return fmt.Errorf("writing handshake: %w", err)
	}

	resp, err := c.readReply("")
	if err != nil {
		return fmt.Errorf("reading handshake response: %w", err)
	}
	if resp.Evt == "ERROR" {
		return fmt.Errorf("handshake rejected: %s", resp.Data.Message)
	}
	return nil
}

// command writes a command frame and reads frames until the reply with the
// same nonce arrives. Any I/O failure drops the connection so the caller can
// reconnect. The caller must hold c.mu.
func (c *Client) command(cmd string, args map[string]any) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	c.nonce++
	nonce := strconv.FormatUint(c.nonce, 10)

	payload, err := json.Marshal(map[string]any{
		"cmd":   cmd,
		"args":  args,
		"nonce": nonce,
	})
	if err != nil {
		return fmt.Errorf("marshaling command: %w", err)
	}
	if err := c.write(OpFrame, payload); err != nil {
		c.dropLocked()
		return fmt.Errorf("writing command: %w", err)
	}

	resp, err := c.readReply(nonce)
	if err != nil {
		c.dropLocked()
		return fmt.Errorf("reading %s reply: %w", cmd, err)
	}
	if resp.Evt == "ERROR" {
		return fmt.Errorf("%w: %s (code %d)", ErrCommandRejected, resp.Data.Message, resp.Data.Code)
	}
	return nil
}

// write encodes and sends one frame under the I/O deadline.
func (c *Client) write(op Opcode, payload []byte) error {
	frame, err := Frame{Op: op, Payload: payload}.MarshalBinary()
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	_, err = c.conn.Write(frame)
	return err
}

// readReply reads frames until one matches nonce, answering pings on the
// way. An empty nonce accepts the first data frame.
func (c *Client) readReply(nonce string) (*response, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(ioTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	for range maxSkippedFrames {
		f, err := ReadFrame(c.conn)
		if err != nil {
			return nil, err
		}
		data := f.Payload
		switch f.Op {
		case OpPing:
			if err := c.write(OpPong, data); err != nil {
				return nil, fmt.Errorf("answering ping: %w", err)
			}
			continue
		case OpClose:
			return nil, fmt.Errorf("discord closed the connection: %s", data)
		case OpFrame:
		default:
			return nil, fmt.Errorf("unexpected %s frame", f.Op)
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
		if nonce == "" || resp.Nonce == nonce {
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("no reply after %d frames", maxSkippedFrames)
}

// dropLocked closes and forgets the connection. The caller must hold c.mu.
func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
