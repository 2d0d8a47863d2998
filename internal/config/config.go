// Package config loads the taskcache shell configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the resolved shell configuration.
type Config struct {
	BaseURL        string
	Username       string
	PageSize       int
	StaleAfter     time.Duration
	RequestTimeout time.Duration
	HistoryPath    string

	Log       Log
	Retention Retention
}

type Log struct {
	Backend string // zap, logrus or slog
	Level   string // debug, info, warn, error
}

// Retention configures the tier that keeps evicted entries around.
type Retention struct {
	Provider  string // "", bigcache, ristretto or redis; "" disables retention
	Codec     string // json, cbor, cbor-det or msgpack
	TTL       time.Duration
	MaxMB     int
	RedisAddr string
	GenStore  string // local or redis
}

const (
	defaultConfigPath  = "~/.config/taskcache/config.toml"
	defaultHistoryPath = "~/.local/share/taskcache/history"
	defaultBaseURL     = "http://localhost:8080"
	defaultPageSize    = 20
	defaultTimeout     = 10 * time.Second
	defaultRetainTTL   = 10 * time.Minute
	defaultMaxMB       = 64
)

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		BaseURL:        defaultBaseURL,
		PageSize:       defaultPageSize,
		RequestTimeout: defaultTimeout,
		HistoryPath:    mustExpand(defaultHistoryPath),
		Log:            Log{Backend: "zap", Level: "info"},
		Retention:      Retention{Codec: "json", TTL: defaultRetainTTL, MaxMB: defaultMaxMB, GenStore: "local"},
	}
}

type rawConfig struct {
	BaseURL        string `toml:"base_url"`
	Username       string `toml:"username"`
	PageSize       int    `toml:"page_size"`
	StaleAfter     string `toml:"stale_after"`
	RequestTimeout string `toml:"request_timeout"`
	HistoryPath    string `toml:"history_path"`
	Log            struct {
		Backend string `toml:"backend"`
		Level   string `toml:"level"`
	} `toml:"log"`
	Retention struct {
		Provider  string `toml:"provider"`
		Codec     string `toml:"codec"`
		TTL       string `toml:"ttl"`
		MaxMB     int    `toml:"max_mb"`
		RedisAddr string `toml:"redis_addr"`
		GenStore  string `toml:"gen_store"`
	} `toml:"retention"`
}

// Load reads the config at path (or the default location), falling back to
// defaults when the file is missing.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var raw rawConfig
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.merge(raw); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) merge(raw rawConfig) error {
	if v := strings.TrimSpace(raw.BaseURL); v != "" {
		c.BaseURL = v
	}
	c.Username = strings.TrimSpace(raw.Username)
	if raw.PageSize != 0 {
		c.PageSize = raw.PageSize
	}
	if v := strings.TrimSpace(raw.HistoryPath); v != "" {
		c.HistoryPath = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.Log.Backend); v != "" {
		c.Log.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(raw.Log.Level); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	c.Retention.Provider = strings.ToLower(strings.TrimSpace(raw.Retention.Provider))
	if v := strings.TrimSpace(raw.Retention.Codec); v != "" {
		c.Retention.Codec = strings.ToLower(v)
	}
	if raw.Retention.MaxMB != 0 {
		c.Retention.MaxMB = raw.Retention.MaxMB
	}
	c.Retention.RedisAddr = strings.TrimSpace(raw.Retention.RedisAddr)
	if v := strings.TrimSpace(raw.Retention.GenStore); v != "" {
		c.Retention.GenStore = strings.ToLower(v)
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"stale_after", raw.StaleAfter, &c.StaleAfter},
		{"request_timeout", raw.RequestTimeout, &c.RequestTimeout},
		{"retention.ttl", raw.Retention.TTL, &c.Retention.TTL},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("page_size must be positive, got %d", c.PageSize))
	}
	if c.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("stale_after must not be negative"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive"))
	}
	switch c.Log.Backend {
	case "zap", "logrus", "slog":
	default:
		errs = append(errs, fmt.Errorf("log.backend %q is not one of zap, logrus, slog", c.Log.Backend))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Retention.Provider {
	case "", "bigcache", "ristretto":
	case "redis":
		if c.Retention.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("retention.redis_addr is required for the redis provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("retention.provider %q is not one of bigcache, ristretto, redis", c.Retention.Provider))
	}
	switch c.Retention.GenStore {
	case "local":
	case "redis":
		if c.Retention.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("retention.redis_addr is required for the redis gen store"))
		}
	default:
		errs = append(errs, fmt.Errorf("retention.gen_store %q is not one of local, redis", c.Retention.GenStore))
	}
	if c.Retention.Provider != "" && c.Retention.TTL <= 0 {
		errs = append(errs, fmt.Errorf("retention.ttl must be positive"))
	}
	return errors.Join(errs...)
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
