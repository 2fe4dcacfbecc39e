// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import "path/filepath"

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile               = "daemon.pid"
	ConfigFile            = "config.toml"
	LogFile               = "daemon.log"
	DatabaseFile          = "store.db"
	StatusFile            = "status.json"
	InboxDir              = "inbox"
	ProgrammerClassesFile = "programmer_classes.json"
)

// Binary and data directory naming.
const (
	BinaryName = "kubetime"
	DataDirRel = ".kubetime" // relative to $HOME
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Database returns the full path to the SQLite store.
func (d DataDir) Database() string { return filepath.Join(d.Root, DatabaseFile) }

// Status returns the full path to the status snapshot written by the daemon.
func (d DataDir) Status() string { return filepath.Join(d.Root, StatusFile) }

// Inbox returns the directory the daemon watches for queued commands.
func (d DataDir) Inbox() string { return filepath.Join(d.Root, InboxDir) }

// ProgrammerClasses returns the full path to the optional programmer class
// definitions used by the statistics processor.
func (d DataDir) ProgrammerClasses() string {
	return filepath.Join(d.Root, ProgrammerClassesFile)
}
