package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen             = "127.0.0.1:8080"
	DefaultTimezone           = "America/Chicago"
	DefaultCalendarID         = "groupcal.events@group.calendar.google.com"
	DefaultFutureDays         = 14
	DefaultCacheTTLSeconds    = 30
	DefaultBoundaryBufferDays = 1
	DefaultFetchTimeoutSecs   = 15
	DefaultSweep              = "@every 1m"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format" json:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone all date keys are computed in (e.g. "America/Chicago").
	Timezone string `yaml:"timezone" json:"timezone"`

	// CalendarID identifies the public calendar; the feed URL is derived from it.
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`

	// FeedURL, when set, is used verbatim instead of the derived address.
	FeedURL string `yaml:"feed_url,omitempty" json:"feed_url,omitempty"`

	// DefaultFutureDays is the window length used when no end date is requested.
	DefaultFutureDays int `yaml:"default_future_days" json:"default_future_days"`

	// CacheTTLSeconds is how long a resolved window is served from memory.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`

	// BoundaryBufferDays widens recurrence expansion on each side of the window.
	BoundaryBufferDays int `yaml:"boundary_buffer_days" json:"boundary_buffer_days"`

	// FetchTimeoutSeconds bounds one upstream feed fetch.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`

	// Sweep is a cron schedule (e.g. "@every 1m") for evicting expired
	// cache entries. "off" disables it.
	Sweep string `yaml:"sweep" json:"sweep"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Log LogConfig `yaml:"log" json:"log"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:              DefaultListen,
		Timezone:            DefaultTimezone,
		CalendarID:          DefaultCalendarID,
		DefaultFutureDays:   DefaultFutureDays,
		CacheTTLSeconds:     DefaultCacheTTLSeconds,
		BoundaryBufferDays:  DefaultBoundaryBufferDays,
		FetchTimeoutSeconds: DefaultFetchTimeoutSecs,
		Sweep:               DefaultSweep,
		BasicAuth:           nil,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	c.CalendarID = strings.TrimSpace(c.CalendarID)
	if c.CalendarID == "" {
		c.CalendarID = DefaultCalendarID
	}
	c.FeedURL = strings.TrimSpace(c.FeedURL)
	if c.DefaultFutureDays <= 0 {
		c.DefaultFutureDays = DefaultFutureDays
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = DefaultCacheTTLSeconds
	}
	// Zero is indistinguishable from "unset" in YAML, so the buffer is at least one day.
	if c.BoundaryBufferDays <= 0 {
		c.BoundaryBufferDays = DefaultBoundaryBufferDays
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = DefaultFetchTimeoutSecs
	}
	if c.Sweep == "" {
		c.Sweep = DefaultSweep
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
		c.Log.Format = strings.ToLower(c.Log.Format)
	default:
		c.Log.Format = "console"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".groupcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
