// Package config loads the client configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultAPIURL         = "https://dealsafe-backend.vercel.app"
	defaultConfigPath     = "~/.config/dealsafe/config.toml"
	defaultStatePath      = "~/.local/state/dealsafe/state.db"
	defaultWorkDir        = "~/.cache/dealsafe/work"
	defaultInboxDir       = "~/.local/share/dealsafe/inbox"
	defaultImageQuality   = 80
	defaultMaxDimension   = 0
	defaultSettleDelayMS  = 500
	defaultPollIntervalMS = 1000
	defaultNtfyTimeout    = 10
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
)

// Upload contains image conversion and batch settings.
type Upload struct {
	ImageQuality  int  `toml:"image_quality"`
	MaxDimension  uint `toml:"max_dimension"`
	SettleDelayMS int  `toml:"settle_delay_ms"`
}

// Share contains inbox watcher settings.
type Share struct {
	PollIntervalMS int `toml:"poll_interval_ms"`
}

// Notifications contains push registration settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	DeviceName     string `toml:"device_name"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration values for the client.
type Config struct {
	APIURL        string        `toml:"api_url"`
	StatePath     string        `toml:"state_path"`
	WorkDir       string        `toml:"work_dir"`
	InboxDir      string        `toml:"inbox_dir"`
	Upload        Upload        `toml:"upload"`
	Share         Share         `toml:"share"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// Defaults returns a Config populated with defaults.
func Defaults() Config {
	return Config{
		APIURL:    defaultAPIURL,
		StatePath: defaultStatePath,
		WorkDir:   defaultWorkDir,
		InboxDir:  defaultInboxDir,
		Upload: Upload{
			ImageQuality:  defaultImageQuality,
			MaxDimension:  defaultMaxDimension,
			SettleDelayMS: defaultSettleDelayMS,
		},
		Share: Share{
			PollIntervalMS: defaultPollIntervalMS,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// Load reads the file at path, or the default location when path is empty.
// A missing file is not an error; defaults are returned and exists is false.
func Load(path string) (cfg *Config, exists bool, err error) {
	c := Defaults()

	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath
	}
	resolved, err = ExpandPath(resolved)
	if err != nil {
		return nil, false, err
	}

	file, err := os.Open(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, false, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		exists = true
		if err := toml.NewDecoder(file).Decode(&c); err != nil {
			return nil, false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.normalize(); err != nil {
		return nil, false, err
	}
	if err := c.Validate(); err != nil {
		return nil, false, err
	}
	return &c, exists, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.APIURL, "http://") && !strings.HasPrefix(c.APIURL, "https://") {
		return fmt.Errorf("api_url must be an http(s) URL, got %q", c.APIURL)
	}
	if c.Upload.ImageQuality < 1 || c.Upload.ImageQuality > 100 {
		return errors.New("upload.image_quality must be between 1 and 100")
	}
	if c.Upload.SettleDelayMS < 0 {
		return errors.New("upload.settle_delay_ms must not be negative")
	}
	if c.Share.PollIntervalMS <= 0 {
		return errors.New("share.poll_interval_ms must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// SettleDelay is the pause between a finished batch and the progress reset
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Upload.SettleDelayMS) * time.Millisecond
}

// PollInterval is how often the inbox is scanned
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Share.PollIntervalMS) * time.Millisecond
}

// NtfyTimeout bounds a single ntfy request
func (c *Config) NtfyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// EnsureDirectories creates the directories the client writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{filepath.Dir(c.StatePath), c.WorkDir, c.InboxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}

	var err error
	if c.StatePath, err = ExpandPath(orDefault(c.StatePath, defaultStatePath)); err != nil {
		return fmt.Errorf("state_path: %w", err)
	}
	if c.WorkDir, err = ExpandPath(orDefault(c.WorkDir, defaultWorkDir)); err != nil {
		return fmt.Errorf("work_dir: %w", err)
	}
	if c.InboxDir, err = ExpandPath(orDefault(c.InboxDir, defaultInboxDir)); err != nil {
		return fmt.Errorf("inbox_dir: %w", err)
	}

	if c.Upload.ImageQuality == 0 {
		c.Upload.ImageQuality = defaultImageQuality
	}
	if c.Share.PollIntervalMS == 0 {
		c.Share.PollIntervalMS = defaultPollIntervalMS
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Logging.Level = strings.ToLower(orDefault(strings.TrimSpace(c.Logging.Level), defaultLogLevel))
	c.Logging.Format = strings.ToLower(orDefault(strings.TrimSpace(c.Logging.Format), defaultLogFormat))
	return nil
}

// ExpandPath resolves ~ and makes the path absolute.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
