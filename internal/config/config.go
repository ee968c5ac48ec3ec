// Package config loads the TOML configuration file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"rss_transmission/internal/model"
)

//go:embed sample_config.toml
var sampleConfig string

// Persistence configures the link database.
type Persistence struct {
	Path string `toml:"path"`
}

// Transmission configures the RPC connection to the download daemon.
type Transmission struct {
	URL          string `toml:"url"`
	Username     string `toml:"username"`
	Password     string `toml:"password"`
	PasswordFile string `toml:"password_file"`
}

// Log configures log output.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Timeouts bounds network operations, in seconds.
type Timeouts struct {
	FetchSeconds  int `toml:"fetch_seconds"`
	SubmitSeconds int `toml:"submit_seconds"`
}

// Telegram enables notifications for accepted torrents when Token is set.
type Telegram struct {
	Token  string `toml:"token"`
	ChatID int64  `toml:"chat_id"`
}

// Rule is a download rule as written in the config file.
type Rule struct {
	Filter      string   `toml:"filter"`
	DownloadDir string   `toml:"download_dir"`
	Labels      []string `toml:"labels"`
}

// Feed is an RSS feed as written in the config file.
type Feed struct {
	Title string `toml:"title"`
	URL   string `toml:"url"`
	Rules []Rule `toml:"rules"`
}

// Config holds the application configuration.
type Config struct {
	BaseDownloadDir string       `toml:"base_download_dir"`
	Concurrency     int          `toml:"concurrency"`
	Persistence     Persistence  `toml:"persistence"`
	Transmission    Transmission `toml:"transmission"`
	Log             Log          `toml:"log"`
	Timeouts        Timeouts     `toml:"timeouts"`
	Telegram        Telegram     `toml:"telegram"`
	Feeds           []Feed       `toml:"rss_feeds"`
}

// Default returns a Config with every optional value filled in.
func Default() Config {
	return Config{
		Log: Log{Level: "info", Format: "auto"},
		Timeouts: Timeouts{
			FetchSeconds:  5,
			SubmitSeconds: 5,
		},
	}
}

// DefaultPath returns the config file location used when none is given.
// RSS_TRANSMISSION_CONFIG overrides it.
func DefaultPath() (string, error) {
	if p := os.Getenv("RSS_TRANSMISSION_CONFIG"); p != "" {
		return ExpandPath(p)
	}
	return ExpandPath("~/.config/rss-transmission/config.toml")
}

// Load reads, normalizes, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = file.Close() }()

	cfg := Default()
	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.normalize(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize(configDir string) error {
	var err error
	if c.BaseDownloadDir, err = ExpandPath(strings.TrimSpace(c.BaseDownloadDir)); err != nil {
		return err
	}

	c.Persistence.Path = strings.TrimSpace(c.Persistence.Path)
	if c.Persistence.Path == "" {
		c.Persistence.Path = filepath.Join(configDir, "links.db")
	}
	if c.Persistence.Path, err = ExpandPath(c.Persistence.Path); err != nil {
		return err
	}

	c.Transmission.URL = strings.TrimSpace(c.Transmission.URL)
	if c.Transmission.PasswordFile != "" {
		if c.Transmission.Password != "" {
			return errors.New("transmission: password and password_file are mutually exclusive")
		}
		path, err := ExpandPath(c.Transmission.PasswordFile)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(path) //nolint:gosec // path comes from the operator's config
		if err != nil {
			return fmt.Errorf("read transmission password file: %w", err)
		}
		c.Transmission.Password = strings.TrimSpace(string(raw))
	}

	if lvl := os.Getenv("RSS_TRANSMISSION_LOG_LEVEL"); lvl != "" {
		c.Log.Level = lvl
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	for i := range c.Feeds {
		for j := range c.Feeds[i].Rules {
			c.Feeds[i].Rules[j].DownloadDir = filepath.Clean(c.Feeds[i].Rules[j].DownloadDir)
		}
	}
	return nil
}

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if c.BaseDownloadDir == "" {
		return errors.New("base_download_dir is required")
	}
	if c.Transmission.URL == "" {
		return errors.New("transmission.url is required")
	}
	if u, err := url.Parse(c.Transmission.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("transmission.url %q is not a valid URL", c.Transmission.URL)
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	if c.Timeouts.FetchSeconds <= 0 || c.Timeouts.SubmitSeconds <= 0 {
		return errors.New("timeouts must be positive")
	}
	switch c.Log.Format {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("log.format %q must be auto, text or json", c.Log.Format)
	}
	if c.Telegram.Token != "" && c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required when telegram.token is set")
	}

	for i, f := range c.Feeds {
		if strings.TrimSpace(f.Title) == "" {
			return fmt.Errorf("rss_feeds[%d]: title is required", i)
		}
		if strings.TrimSpace(f.URL) == "" {
			return fmt.Errorf("feed %q: url is required", f.Title)
		}
		for j, r := range f.Rules {
			if filepath.IsAbs(r.DownloadDir) || r.DownloadDir == ".." || strings.HasPrefix(r.DownloadDir, ".."+string(filepath.Separator)) {
				return fmt.Errorf("feed %q rule %d: download_dir %q must be relative to base_download_dir", f.Title, j, r.DownloadDir)
			}
		}
	}
	return nil
}

// FetchTimeout returns the per-feed fetch bound.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Timeouts.FetchSeconds) * time.Second
}

// SubmitTimeout returns the per-submission bound.
func (c *Config) SubmitTimeout() time.Duration {
	return time.Duration(c.Timeouts.SubmitSeconds) * time.Second
}

// PrepareDirectories creates the download directory of every rule. Rules
// whose directory cannot be created are dropped and logged.
func (c *Config) PrepareDirectories(log *slog.Logger) {
	for i := range c.Feeds {
		kept := c.Feeds[i].Rules[:0]
		for _, r := range c.Feeds[i].Rules {
			dir := filepath.Join(c.BaseDownloadDir, r.DownloadDir)
			if _, err := os.Stat(dir); err != nil {
				log.Info("creating directory", "path", dir)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				log.Error("unable to create directory, skipping rule",
					"feed", c.Feeds[i].Title, "filter", r.Filter, "path", dir, "error", err)
				continue
			}
			kept = append(kept, r)
		}
		c.Feeds[i].Rules = kept
	}
}

// ModelFeeds converts the configured feeds into domain feeds.
func (c *Config) ModelFeeds() []model.Feed {
	feeds := make([]model.Feed, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		rules := make([]model.Rule, 0, len(f.Rules))
		for _, r := range f.Rules {
			rules = append(rules, model.Rule{Filter: r.Filter, Dir: r.DownloadDir, Labels: r.Labels})
		}
		feeds = append(feeds, model.Feed{Name: f.Title, URL: f.URL, Rules: rules})
	}
	return feeds
}

// CreateSample writes a sample configuration file to path. An existing
// file is never overwritten.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create sample config: %w", err)
	}
	if _, err := f.WriteString(sampleConfig); err != nil {
		_ = f.Close()
		return fmt.Errorf("write sample config: %w", err)
	}
	return f.Close()
}

// ExpandPath resolves a leading ~ and returns an absolute, cleaned path.
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
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
