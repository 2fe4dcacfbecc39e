// Package config provides configuration loading and defaults for the kubetime
// daemon.
//
// Configuration is loaded from a TOML file in the user's data directory and
// then overlaid with KUBETIME_* environment variables. The package covers the
// remote API and OAuth client settings, heartbeat polling, statistics caching,
// Discord presence display, privacy controls, and logging.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/caarlos0/env/v11"
	"github.com/hackclub/hackatime-desktop/internal/atomicfile"
	"github.com/hackclub/hackatime-desktop/internal/paths"
)

// CurrentVersion is the config schema version written by this build.
const CurrentVersion = 1

// EnvPrefix is prepended to every environment override, e.g.
// KUBETIME_API_BASE_URL or KUBETIME_LOG_LEVEL.
const EnvPrefix = "KUBETIME_"

// Built-in identifiers of the public Hackatime desktop OAuth application and
// the KubeTime Discord application.
const (
	DefaultBaseURL        = "https://hackatime.hackclub.com"
	DefaultClientID       = "BPr5VekIV-xuQ2ZhmxbGaahJ3XVd7gM83pql-HYGYxQ"
	DefaultRedirectURI    = "kubetime://auth/callback"
	DefaultScope          = "profile"
	DefaultDiscordAppID   = "1423077619183779872"
	DefaultManifestURL    = "https://github.com/hackclub/hackatime-desktop/releases/latest/download/latest.json"
	DetailsSeparator      = " • "
	defaultUnknownProject = "Unknown Project"
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version.
	Version int `toml:"version"`
	// API holds remote service and OAuth client settings.
	API APIConfig `toml:"api" envPrefix:"API_"`
	// Auth holds authorization flow settings.
	Auth AuthConfig `toml:"auth" envPrefix:"AUTH_"`
	// Session holds heartbeat polling settings.
	Session SessionConfig `toml:"session" envPrefix:"SESSION_"`
	// Stats holds statistics cache and housekeeping settings.
	Stats StatsConfig `toml:"stats" envPrefix:"STATS_"`
	// Discord holds Discord connection settings.
	Discord DiscordConfig `toml:"discord" envPrefix:"DISCORD_"`
	// Display holds presence display settings.
	Display DisplayConfig `toml:"display"`
	// Privacy holds privacy and project-hiding settings.
	Privacy PrivacyConfig `toml:"privacy"`
	// Update holds release check settings.
	Update UpdateConfig `toml:"update" envPrefix:"UPDATE_"`
	// Log holds logging settings.
	Log LogConfig `toml:"log" envPrefix:"LOG_"`
}

// APIConfig holds remote service and OAuth client settings.
type APIConfig struct {
	// BaseURL is the root of the time-tracking service.
	BaseURL string `toml:"base_url" env:"BASE_URL"`
	// ClientID is the public OAuth client identifier.
	ClientID string `toml:"client_id" env:"CLIENT_ID"`
	// RedirectURI is the custom-scheme callback registered with the OS.
	RedirectURI string `toml:"redirect_uri" env:"REDIRECT_URI"`
	// Scope is the space-separated OAuth scope list.
	Scope string `toml:"scope" env:"SCOPE"`
	// TimeoutSeconds bounds each HTTP attempt.
	TimeoutSeconds int `toml:"timeout_seconds" env:"TIMEOUT_SECONDS"`
	// RetryMax is the number of retries for transport errors and 5xx responses.
	RetryMax int `toml:"retry_max" env:"RETRY_MAX"`
}

// AuthConfig holds authorization flow settings.
type AuthConfig struct {
	// PKCETTLSeconds is how long an in-flight authorization stays valid.
	PKCETTLSeconds int `toml:"pkce_ttl_seconds" env:"PKCE_TTL_SECONDS"`
	// OpenBrowser opens the authorization URL in the default browser.
	OpenBrowser bool `toml:"open_browser" env:"OPEN_BROWSER"`
}

// SessionConfig holds heartbeat polling settings.
type SessionConfig struct {
	// HeartbeatThresholdSeconds is the age after which the latest heartbeat
	// no longer counts as live activity. Must exceed PollIntervalSeconds.
	HeartbeatThresholdSeconds int `toml:"heartbeat_threshold_seconds" env:"HEARTBEAT_THRESHOLD_SECONDS"`
	// PollIntervalSeconds is the delay between latest-heartbeat polls.
	PollIntervalSeconds int `toml:"poll_interval_seconds" env:"POLL_INTERVAL_SECONDS"`
	// RateLimitBackoffSeconds pauses polling after the service answers 429.
	RateLimitBackoffSeconds int `toml:"rate_limit_backoff_seconds" env:"RATE_LIMIT_BACKOFF_SECONDS"`
}

// StatsConfig holds statistics cache and housekeeping settings.
type StatsConfig struct {
	// RangeTTLDays is the cache lifetime of a historical hours range.
	RangeTTLDays int `toml:"range_ttl_days" env:"RANGE_TTL_DAYS"`
	// StreakTTLHours is the cache lifetime of the per-day streak entry.
	StreakTTLHours int `toml:"streak_ttl_hours" env:"STREAK_TTL_HOURS"`
	// SessionRetentionDays is how long persisted session rows are kept.
	SessionRetentionDays int `toml:"session_retention_days" env:"SESSION_RETENTION_DAYS"`
	// CleanupIntervalHours is how often expired rows are purged.
	CleanupIntervalHours int `toml:"cleanup_interval_hours" env:"CLEANUP_INTERVAL_HOURS"`
}

// DiscordConfig holds Discord connection settings.
type DiscordConfig struct {
	// Enabled turns Rich Presence on or off.
	Enabled bool `toml:"enabled" env:"ENABLED"`
	// AppID is the Discord application ID for Rich Presence.
	AppID string `toml:"app_id" env:"APP_ID"`
	// ReconnectIntervalSeconds is the delay between reconnect attempts.
	ReconnectIntervalSeconds int `toml:"reconnect_interval_seconds" env:"RECONNECT_INTERVAL_SECONDS"`
	// ConnectAttempts is how many times a single connect cycle retries.
	ConnectAttempts int `toml:"connect_attempts" env:"CONNECT_ATTEMPTS"`
}

// DisplayConfig holds presence display settings.
type DisplayConfig struct {
	// Details is the top line template. Segments are separated by " • " and a
	// segment whose placeholder resolves empty is dropped.
	// Supports {project}, {language}, {editor}, {file}.
	Details string `toml:"details"`
	// State is the bottom line template. Supports the same placeholders.
	State string `toml:"state"`
	// UnknownProject replaces a missing project name.
	UnknownProject string `toml:"unknown_project"`
	// Assets holds Discord Rich Presence asset settings.
	Assets AssetsConfig `toml:"assets"`
	// ShowElapsed sends the session start time so Discord renders a timer.
	ShowElapsed bool `toml:"show_elapsed"`
}

// AssetsConfig holds Discord Rich Presence asset settings.
type AssetsConfig struct {
	// LargeImage is the key for the large image asset in Discord.
	LargeImage string `toml:"large_image"`
	// LargeText is the tooltip text for the large image.
	LargeText string `toml:"large_text"`
	// SmallImage is the key for the small image asset in Discord.
	SmallImage string `toml:"small_image"`
	// SmallText is the tooltip text for the small image.
	SmallText string `toml:"small_text"`
}

// PrivacyOverride applies privacy settings to projects matching a glob pattern.
type PrivacyOverride struct {
	// Pattern is a glob pattern matched against the project name and the
	// heartbeat entity path.
	Pattern string `toml:"pattern"`
	// HideProjectName replaces the project name with HiddenText when true.
	HideProjectName bool `toml:"hide_project_name"`
	// HiddenText is the replacement text shown when HideProjectName is true.
	HiddenText string `toml:"hidden_text"`
}

// PrivacyConfig holds privacy settings for hiding project names and suppressing presence.
type PrivacyConfig struct {
	// HideProjectName replaces all project names with HiddenProjectText.
	HideProjectName bool `toml:"hide_project_name"`
	// HiddenProjectText is the generic text shown when HideProjectName is true.
	HiddenProjectText string `toml:"hidden_project_text"`
	// HideFile omits the file name from presence.
	HideFile bool `toml:"hide_file"`
	// Ignore is a list of glob patterns for projects or paths where presence
	// is suppressed.
	Ignore []string `toml:"ignore"`
	// Overrides provides per-project privacy settings matched by glob pattern.
	Overrides []PrivacyOverride `toml:"overrides"`
}

// UpdateConfig holds release check settings.
type UpdateConfig struct {
	// Check looks for a newer release once at daemon start.
	Check bool `toml:"check" env:"CHECK"`
	// ManifestURL serves the latest release manifest.
	ManifestURL string `toml:"manifest_url" env:"MANIFEST_URL"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level" env:"LEVEL"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb" env:"MAX_SIZE_MB"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		API: APIConfig{
			BaseURL:        DefaultBaseURL,
			ClientID:       DefaultClientID,
			RedirectURI:    DefaultRedirectURI,
			Scope:          DefaultScope,
			TimeoutSeconds: 10,
			RetryMax:       2,
		},
		Auth: AuthConfig{
			PKCETTLSeconds: 600,
			OpenBrowser:    true,
		},
		Session: SessionConfig{
			HeartbeatThresholdSeconds: 120,
			PollIntervalSeconds:       30,
			RateLimitBackoffSeconds:   120,
		},
		Stats: StatsConfig{
			RangeTTLDays:         30,
			StreakTTLHours:       24,
			SessionRetentionDays: 30,
			CleanupIntervalHours: 6,
		},
		Discord: DiscordConfig{
			Enabled:                  true,
			AppID:                    DefaultDiscordAppID,
			ReconnectIntervalSeconds: 15,
			ConnectAttempts:          3,
		},
		Display: DisplayConfig{
			Details:        "Language: {language} • Editor: {editor} • File: {file}",
			State:          "{project}",
			UnknownProject: defaultUnknownProject,
			Assets: AssetsConfig{
				LargeImage: "kubetime",
				LargeText:  "KubeTime - Time Tracking",
				SmallImage: "coding",
				SmallText:  "Coding",
			},
			ShowElapsed: true,
		},
		Privacy: PrivacyConfig{
			HideProjectName:   false,
			HiddenProjectText: "a project",
			Ignore:            []string{},
		},
		Update: UpdateConfig{
			Check:       true,
			ManifestURL: DefaultManifestURL,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ///////////////////////////////////////////////
// Durations
// ///////////////////////////////////////////////

// Timeout returns the per-attempt HTTP timeout.
func (a APIConfig) Timeout() time.Duration { return seconds(a.TimeoutSeconds) }

// PKCETTL returns the lifetime of an in-flight authorization.
func (a AuthConfig) PKCETTL() time.Duration { return seconds(a.PKCETTLSeconds) }

// Threshold returns the heartbeat recency threshold.
func (s SessionConfig) Threshold() time.Duration { return seconds(s.HeartbeatThresholdSeconds) }

// PollInterval returns the delay between heartbeat polls.
func (s SessionConfig) PollInterval() time.Duration { return seconds(s.PollIntervalSeconds) }

// RateLimitBackoff returns the pause applied after a 429 response.
func (s SessionConfig) RateLimitBackoff() time.Duration {
	return seconds(s.RateLimitBackoffSeconds)
}

// RangeTTL returns the cache lifetime of a historical hours range.
func (s StatsConfig) RangeTTL() time.Duration {
	return time.Duration(s.RangeTTLDays) * 24 * time.Hour
}

// StreakTTL returns the cache lifetime of the per-day streak entry.
func (s StatsConfig) StreakTTL() time.Duration {
	return time.Duration(s.StreakTTLHours) * time.Hour
}

// CleanupInterval returns how often expired rows are purged.
func (s StatsConfig) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalHours) * time.Hour
}

// ReconnectInterval returns the delay between Discord reconnect attempts.
func (d DiscordConfig) ReconnectInterval() time.Duration {
	return seconds(d.ReconnectIntervalSeconds)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads dataDir/config.toml, applies KUBETIME_* environment overrides
// and validates the result. A missing file yields the defaults (still
// subject to environment overrides).
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if v := PeekVersion(data); v > CurrentVersion {
			return nil, fmt.Errorf("config version %d is newer than supported version %d", v, CurrentVersion)
		}
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		for _, key := range md.Undecoded() {
			slog.Warn("unknown config key ignored", "key", key.String())
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg.Version = CurrentVersion

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api.base_url %q: must be an absolute http(s) URL", c.API.BaseURL)
	}

	if strings.TrimSpace(c.API.ClientID) == "" {
		return fmt.Errorf("api.client_id must not be empty")
	}

	r, err := url.Parse(c.API.RedirectURI)
	if err != nil || r.Scheme == "" {
		return fmt.Errorf("invalid api.redirect_uri %q: must include a URI scheme", c.API.RedirectURI)
	}

	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0, got %d", c.API.TimeoutSeconds)
	}

	if c.API.RetryMax < 0 {
		return fmt.Errorf("api.retry_max must be >= 0, got %d", c.API.RetryMax)
	}

	if c.Auth.PKCETTLSeconds <= 0 {
		return fmt.Errorf("auth.pkce_ttl_seconds must be > 0, got %d", c.Auth.PKCETTLSeconds)
	}

	if c.Session.PollIntervalSeconds <= 0 {
		return fmt.Errorf("session.poll_interval_seconds must be > 0, got %d", c.Session.PollIntervalSeconds)
	}

	if c.Session.HeartbeatThresholdSeconds <= c.Session.PollIntervalSeconds {
		return fmt.Errorf("session.heartbeat_threshold_seconds (%d) must exceed session.poll_interval_seconds (%d)",
			c.Session.HeartbeatThresholdSeconds, c.Session.PollIntervalSeconds)
	}

	if c.Session.RateLimitBackoffSeconds < 0 {
		return fmt.Errorf("session.rate_limit_backoff_seconds must be >= 0, got %d", c.Session.RateLimitBackoffSeconds)
	}

	if c.Stats.RangeTTLDays <= 0 {
		return fmt.Errorf("stats.range_ttl_days must be > 0, got %d", c.Stats.RangeTTLDays)
	}

	if c.Stats.StreakTTLHours <= 0 {
		return fmt.Errorf("stats.streak_ttl_hours must be > 0, got %d", c.Stats.StreakTTLHours)
	}

	if c.Stats.SessionRetentionDays <= 0 {
		return fmt.Errorf("stats.session_retention_days must be > 0, got %d", c.Stats.SessionRetentionDays)
	}

	if c.Stats.CleanupIntervalHours <= 0 {
		return fmt.Errorf("stats.cleanup_interval_hours must be > 0, got %d", c.Stats.CleanupIntervalHours)
	}

	if c.Discord.Enabled && c.Discord.AppID == "" {
		return fmt.Errorf("discord.app_id must be set when discord.enabled is true")
	}

	if c.Discord.ReconnectIntervalSeconds <= 0 {
		return fmt.Errorf("discord.reconnect_interval_seconds must be > 0, got %d", c.Discord.ReconnectIntervalSeconds)
	}

	if c.Discord.ConnectAttempts <= 0 {
		return fmt.Errorf("discord.connect_attempts must be > 0, got %d", c.Discord.ConnectAttempts)
	}

	if c.Update.Check {
		m, err := url.Parse(c.Update.ManifestURL)
		if err != nil || (m.Scheme != "http" && m.Scheme != "https") || m.Host == "" {
			return fmt.Errorf("invalid update.manifest_url %q: must be an absolute http(s) URL", c.Update.ManifestURL)
		}
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}

	for _, p := range c.Privacy.Ignore {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid privacy.ignore pattern %q", p)
		}
	}
	for _, o := range c.Privacy.Overrides {
		if !doublestar.ValidatePattern(o.Pattern) {
			return fmt.Errorf("invalid privacy.overrides pattern %q", o.Pattern)
		}
	}

	return nil
}

// ///////////////////////////////////////////////
// Formatting Helpers
// ///////////////////////////////////////////////

// Fields is the set of values substituted into display templates.
type Fields struct {
	Project  string
	Language string
	Editor   string
	File     string
}

// FormatDetails renders the details template. Segments separated by
// [DetailsSeparator] whose placeholders all resolve empty are dropped, so
// "Language: Go • Editor:  • File: main.go" becomes "Language: Go • File: main.go".
func (c *Config) FormatDetails(f Fields) string {
	return render(c.Display.Details, f)
}

// FormatState renders the state template.
func (c *Config) FormatState(f Fields) string {
	return render(c.Display.State, f)
}

// render applies the placeholder replacer segment by segment.
func render(tmpl string, f Fields) string {
	values := map[string]string{
		"{project}":  f.Project,
		"{language}": f.Language,
		"{editor}":   f.Editor,
		"{file}":     f.File,
	}
	r := strings.NewReplacer(
		"{project}", f.Project,
		"{language}", f.Language,
		"{editor}", f.Editor,
		"{file}", f.File,
	)

	segments := strings.Split(tmpl, DetailsSeparator)
	kept := segments[:0]
	for _, seg := range segments {
		hasPlaceholder, hasValue := false, false
		for ph, v := range values {
			if strings.Contains(seg, ph) {
				hasPlaceholder = true
				if v != "" {
					hasValue = true
				}
			}
		}
		if hasPlaceholder && !hasValue {
			continue
		}
		kept = append(kept, r.Replace(seg))
	}
	return strings.TrimSpace(strings.Join(kept, DetailsSeparator))
}

// ///////////////////////////////////////////////
// Privacy Helpers
// ///////////////////////////////////////////////

// IsIgnored reports whether the project name or the entity path matches any
// of the configured ignore patterns.
func (c *Config) IsIgnored(project, entity string) bool {
	for _, pattern := range c.Privacy.Ignore {
		if matchAny(pattern, project, entity) {
			return true
		}
	}
	return false
}

// ProjectName returns the display name for a project, respecting privacy settings.
// Per-project overrides are checked first, then the global setting, then the
// unknown-project placeholder for an empty name.
func (c *Config) ProjectName(realName, entity string) string {
	for _, o := range c.Privacy.Overrides {
		if o.HideProjectName && matchAny(o.Pattern, realName, entity) {
			return o.HiddenText
		}
	}
	if c.Privacy.HideProjectName {
		return c.Privacy.HiddenProjectText
	}
	if realName == "" {
		return c.Display.UnknownProject
	}
	return realName
}

// FileName returns the base name of the heartbeat entity, or "" when file
// names are hidden or the entity is empty.
func (c *Config) FileName(entity string) string {
	if c.Privacy.HideFile || entity == "" {
		return ""
	}
	entity = strings.ReplaceAll(entity, `\`, "/")
	if i := strings.LastIndexByte(entity, '/'); i >= 0 {
		return entity[i+1:]
	}
	return entity
}

// matchAny reports whether pattern matches any non-empty candidate.
func matchAny(pattern string, candidates ...string) bool {
	for _, s := range candidates {
		if s == "" {
			continue
		}
		matched, err := doublestar.Match(pattern, filepath.ToSlash(s))
		if err != nil {
			slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
			return false
		}
		if matched {
			return true
		}
	}
	return false
}
