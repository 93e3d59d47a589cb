// Package config loads service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// AVAILSYNC_* environment variables. The CLI applies flags last.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Remote  RemoteConfig  `yaml:"remote"`
	Webhook WebhookConfig `yaml:"webhook"`

	// TokenSealingKey is a base64 encoded 32-byte key. Empty stores tokens
	// in plaintext.
	TokenSealingKey string `yaml:"token_sealing_key"`

	// SyncTimeout bounds one background schedule sync.
	SyncTimeout time.Duration `yaml:"sync_timeout"`

	// DefaultTimezone applies to accounts with no timezone of their own.
	DefaultTimezone string `yaml:"default_timezone"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

type StorageConfig struct {
	// Driver is memory, mongo or sqlite.
	Driver string `yaml:"driver"`
	// DSN is the mongo URI or the sqlite file path.
	DSN string `yaml:"dsn"`
	// Database is the mongo database name.
	Database string `yaml:"database"`
}

// RedisConfig is optional; an empty Addr keeps connect states and the
// webhook replay guard in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RemoteConfig struct {
	APIBaseURL     string        `yaml:"api_base_url"`
	BookingBaseURL string        `yaml:"booking_base_url"`
	ClientID       string        `yaml:"client_id"`
	ClientSecret   string        `yaml:"client_secret"`
	AuthURL        string        `yaml:"auth_url"`
	TokenURL       string        `yaml:"token_url"`
	RedirectURL    string        `yaml:"redirect_url"`
	Timeout        time.Duration `yaml:"timeout"`
}

type WebhookConfig struct {
	SigningKey      string        `yaml:"signing_key"`
	SignatureHeader string        `yaml:"signature_header"`
	Tolerance       time.Duration `yaml:"tolerance"`
	// CallbackURL is the public URL of the webhook endpoint. Empty skips
	// subscription registration on connect.
	CallbackURL string `yaml:"callback_url"`
}

// Default returns the configuration used before any file or environment is read.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Driver:   DriverMemory,
			Database: "availsync",
		},
		Remote: RemoteConfig{
			APIBaseURL:     "https://api.calendly.com",
			BookingBaseURL: "https://calendly.com",
			AuthURL:        "https://auth.calendly.com/oauth/authorize",
			TokenURL:       "https://auth.calendly.com/oauth/token",
			Timeout:        10 * time.Second,
		},
		Webhook: WebhookConfig{
			SignatureHeader: "Calendly-Webhook-Signature",
			Tolerance:       5 * time.Minute,
		},
		SyncTimeout:     2 * time.Minute,
		DefaultTimezone: "UTC",
	}
}

// Load builds a Config from defaults, the optional file at path and the
// process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile merges a YAML file into c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from AVAILSYNC_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"AVAILSYNC_LISTEN":                   &c.Listen,
		"AVAILSYNC_LOG_LEVEL":                &c.Log.Level,
		"AVAILSYNC_LOG_FORMAT":               &c.Log.Format,
		"AVAILSYNC_STORAGE_DRIVER":           &c.Storage.Driver,
		"AVAILSYNC_STORAGE_DSN":              &c.Storage.DSN,
		"AVAILSYNC_STORAGE_DATABASE":         &c.Storage.Database,
		"AVAILSYNC_REDIS_ADDR":               &c.Redis.Addr,
		"AVAILSYNC_REDIS_PASSWORD":           &c.Redis.Password,
		"AVAILSYNC_REMOTE_API_BASE_URL":      &c.Remote.APIBaseURL,
		"AVAILSYNC_REMOTE_BOOKING_BASE_URL":  &c.Remote.BookingBaseURL,
		"AVAILSYNC_OAUTH_CLIENT_ID":          &c.Remote.ClientID,
		"AVAILSYNC_OAUTH_CLIENT_SECRET":      &c.Remote.ClientSecret,
		"AVAILSYNC_OAUTH_AUTH_URL":           &c.Remote.AuthURL,
		"AVAILSYNC_OAUTH_TOKEN_URL":          &c.Remote.TokenURL,
		"AVAILSYNC_OAUTH_REDIRECT_URL":       &c.Remote.RedirectURL,
		"AVAILSYNC_WEBHOOK_SIGNING_KEY":      &c.Webhook.SigningKey,
		"AVAILSYNC_WEBHOOK_SIGNATURE_HEADER": &c.Webhook.SignatureHeader,
		"AVAILSYNC_WEBHOOK_CALLBACK_URL":     &c.Webhook.CallbackURL,
		"AVAILSYNC_TOKEN_SEALING_KEY":        &c.TokenSealingKey,
		"AVAILSYNC_DEFAULT_TIMEZONE":         &c.DefaultTimezone,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"AVAILSYNC_REMOTE_TIMEOUT":    &c.Remote.Timeout,
		"AVAILSYNC_WEBHOOK_TOLERANCE": &c.Webhook.Tolerance,
		"AVAILSYNC_SYNC_TIMEOUT":      &c.SyncTimeout,
	}
	for name, dst := range durations {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		*dst = d
	}

	if v, ok := lookup("AVAILSYNC_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: AVAILSYNC_REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	return nil
}

// SealingKey decodes TokenSealingKey. It returns nil when none is set.
func (c *Config) SealingKey() ([]byte, error) {
	if c.TokenSealingKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.TokenSealingKey)
	if err != nil {
		return nil, fmt.Errorf("token_sealing_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("token_sealing_key: want 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Validate reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %q", c.Log.Format))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverMongo:
		if c.Storage.DSN == "" || c.Storage.Database == "" {
			errs = append(errs, errors.New("storage.dsn and storage.database are required for mongo"))
		}
	case DriverSQLite:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage driver: %q", c.Storage.Driver))
	}

	for name, raw := range map[string]string{
		"remote.api_base_url":     c.Remote.APIBaseURL,
		"remote.booking_base_url": c.Remote.BookingBaseURL,
		"remote.auth_url":         c.Remote.AuthURL,
		"remote.token_url":        c.Remote.TokenURL,
	} {
		if err := checkURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Webhook.CallbackURL != "" {
		if err := checkURL(c.Webhook.CallbackURL); err != nil {
			errs = append(errs, fmt.Errorf("webhook.callback_url: %w", err))
		}
	}

	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be positive"))
	}
	if c.Webhook.Tolerance <= 0 {
		errs = append(errs, errors.New("webhook.tolerance must be positive"))
	}
	if c.SyncTimeout <= 0 {
		errs = append(errs, errors.New("sync_timeout must be positive"))
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil || c.DefaultTimezone == "" {
		errs = append(errs, fmt.Errorf("invalid default timezone: %q", c.DefaultTimezone))
	}
	if _, err := c.SealingKey(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("not an absolute http(s) url: %q", raw)
	}
	return nil
}
