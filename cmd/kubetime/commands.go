package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hackclub/hackatime-desktop/internal/app"
	"github.com/hackclub/hackatime-desktop/internal/auth"
	"github.com/hackclub/hackatime-desktop/internal/inbox"
	"github.com/hackclub/hackatime-desktop/internal/logger"
)

// queryTimeout bounds one-shot commands that talk to the service.
const queryTimeout = 60 * time.Second

// ///////////////////////////////////////////////
// Inbox Commands
// ///////////////////////////////////////////////

// commandFor builds the inbox command for a CLI subcommand.
func commandFor(name string, args []string) (inbox.Command, error) {
	want := 0
	cmd := inbox.Command{}
	switch name {
	case "login":
		cmd.Kind = inbox.KindLogin
	case "logout":
		cmd.Kind = inbox.KindLogout
	case "refresh":
		cmd.Kind = inbox.KindRefresh
	case "open-url":
		cmd.Kind, want = inbox.KindCallback, 1
	case "token":
		cmd.Kind, want = inbox.KindToken, 1
	default:
		return cmd, fmt.Errorf("%w: %q", inbox.ErrUnknownKind, name)
	}
	if len(args) != want {
		return cmd, fmt.Errorf("%s takes %d argument(s), got %d", name, want, len(args))
	}
	switch cmd.Kind {
	case inbox.KindCallback:
		cmd.URL = args[0]
	case inbox.KindToken:
		cmd.Token = args[0]
	}
	return cmd, nil
}

// enqueueCommand drops a command into the daemon's inbox. The daemon picks
// it up when it next runs, so a stopped daemon only earns a warning.
func enqueueCommand(dp DataPaths, name string, args []string, stdout, stderr io.Writer) int {
	cmd, err := commandFor(name, args)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n\n%s", err, usage)
		return 2
	}
	if _, err := inbox.Write(dp.Inbox(), cmd); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if alive, _ := checkStalePID(dp); !alive {
		fmt.Fprintln(stderr, "warning: the daemon is not running; the request runs when it starts")
	}
	fmt.Fprintf(stdout, "%s queued\n", name)
	return 0
}

// ///////////////////////////////////////////////
// Local Reads
// ///////////////////////////////////////////////

// printStatus prints the snapshot the daemon last wrote.
func printStatus(dp DataPaths, stdout, stderr io.Writer) int {
	st, err := app.ReadStatus(dp.Status())
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(stderr, "no status yet; is the daemon running?")
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if alive, _ := checkStalePID(dp); !alive {
		fmt.Fprintln(stderr, "warning: the daemon is not running; status may be stale")
	}
	return printJSON(stdout, stderr, st)
}

// printLogs prints the tail of the daemon log.
func printLogs(dp DataPaths, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	n := fs.Int("n", 50, "number of lines")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tail, err := logger.ReadTail(dp.Log(), *n)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if tail != "" {
		fmt.Fprintln(stdout, tail)
	}
	return 0
}

// ///////////////////////////////////////////////
// Service Queries
// ///////////////////////////////////////////////

// queryService runs a read-only request with the stored login. It opens the
// shared store next to the running daemon and logs to stderr.
func queryService(dp DataPaths, name string, args []string, stdout, stderr io.Writer) int {
	if (name == "projects" && len(args) > 1) || (name != "projects" && len(args) > 0) {
		fmt.Fprintf(stderr, "too many arguments for %s\n\n%s", name, usage)
		return 2
	}

	cfg, err := loadConfig(dp)
	if err != nil {
		fmt.Fprintf(stderr, "fatal: %v\n", err)
		return 1
	}
	slog.SetDefault(logger.NewConsole(stderr, slog.LevelWarn))

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	a, err := app.New(ctx, app.Options{Config: cfg, Paths: dp, Version: resolveVersion()})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer a.Close()

	var out any
	switch name {
	case "stats":
		out, err = a.Statistics(ctx)
	case "projects":
		var project string
		if len(args) == 1 {
			project = args[0]
		}
		out, err = a.Projects(ctx, project)
	case "api-key":
		var key string
		if key, err = a.APIKey(ctx); err == nil {
			fmt.Fprintln(stdout, key)
			return 0
		}
	}

	if errors.Is(err, auth.ErrAuthenticationRequired) {
		fmt.Fprintln(stderr, "not logged in; run `kubetime login` first")
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return printJSON(stdout, stderr, out)
}

func printJSON(stdout, stderr io.Writer, v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(data))
	return 0
}
