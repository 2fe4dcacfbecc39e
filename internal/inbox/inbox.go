// Package inbox delivers commands from short-lived CLI invocations to the
// running daemon. Each command is a JSON file dropped atomically into the
// inbox directory; the daemon is woken by a [Watcher] and drains the
// directory in name order, deleting every file it reads.
package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackclub/hackatime-desktop/internal/atomicfile"
)

// Kind identifies what a command asks the daemon to do.
type Kind string

const (
	// KindCallback carries a deep-link callback URL.
	KindCallback Kind = "callback"
	// KindLogin starts an authorization flow.
	KindLogin Kind = "login"
	// KindToken authenticates with an opaque token.
	KindToken Kind = "token"
	// KindLogout forgets the stored credentials.
	KindLogout Kind = "logout"
	// KindRefresh forces an immediate heartbeat poll.
	KindRefresh Kind = "refresh"
)

// Valid reports whether k is a known command kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCallback, KindLogin, KindToken, KindLogout, KindRefresh:
		return true
	}
	return false
}

// ErrUnknownKind is returned by [Write] for a command with an unrecognized kind.
var ErrUnknownKind = errors.New("unknown command kind")

// Command is one queued request.
type Command struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	URL       string    `json:"url,omitempty"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LogValue keeps the token out of logs.
func (c Command) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("id", c.ID), slog.String("kind", string(c.Kind))}
	if c.URL != "" {
		attrs = append(attrs, slog.Bool("has_url", true))
	}
	return slog.GroupValue(attrs...)
}

const fileExt = ".json"

// Write queues cmd in dir, creating the directory if needed. ID and
// CreatedAt are filled in when empty. File names sort in creation order.
func Write(dir string, cmd Command) (string, error) {
	if !cmd.Kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, cmd.Kind)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create inbox: %w", err)
	}

	name := fmt.Sprintf("%020d-%s%s", cmd.CreatedAt.UnixNano(), cmd.ID, fileExt)
	path := filepath.Join(dir, name)
	if err := atomicfile.WriteJSON(path, cmd, 0o600); err != nil {
		return "", fmt.Errorf("queue %s command: %w", cmd.Kind, err)
	}
	return path, nil
}

// isCommandFile reports whether name is a complete command file.
func isCommandFile(name string) bool {
	return strings.HasSuffix(name, fileExt) && !atomicfile.IsTemp(name)
}

// Drain reads and removes every queued command in name order. Unreadable
// or malformed files are logged and removed so they cannot wedge the
// queue. A missing directory is an empty inbox.
func Drain(dir string) ([]Command, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}

	var cmds []Command
	for _, e := range entries {
		if e.IsDir() || !isCommandFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, readErr := os.ReadFile(path)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("cannot remove inbox file", "file", e.Name(), "error", err)
		}
		if readErr != nil {
			slog.Warn("cannot read inbox file", "file", e.Name(), "error", readErr)
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			slog.Warn("discarding malformed inbox file", "file", e.Name(), "error", err)
			continue
		}
		if !cmd.Kind.Valid() {
			slog.Warn("discarding inbox file with unknown kind", "file", e.Name(), "kind", cmd.Kind)
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}
