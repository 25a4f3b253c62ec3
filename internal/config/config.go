// Package config provides typed configuration with file/env layering and a
// hot-reloadable snapshot provider.
//
// Precedence: config file overrides environment variables, which override
// built-in defaults. Every field is validated individually; invalid values
// fall back to their default instead of failing the load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is one immutable configuration snapshot. Readers obtain it through
// Provider.Snapshot and must not mutate it.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `toml:"addr"`

	Lockout     LockoutConfig     `toml:"lockout"`
	Store       StoreConfig       `toml:"store"`
	Recognition RecognitionConfig `toml:"recognition"`
	Auth        AuthConfig        `toml:"auth"`

	// ReloadSeconds is the interval of the periodic config re-read.
	ReloadSeconds int `toml:"reload_seconds"`
}

// LockoutConfig controls the failure tracker.
type LockoutConfig struct {
	// MaxFailureAttempts is the lockout threshold. 0 or negative disables
	// lockout entirely: no failures are accumulated.
	MaxFailureAttempts int `toml:"max_failure_attempts"`
	// FailureResetOnSuccess clears the failure record after a successful
	// identification.
	FailureResetOnSuccess bool `toml:"failure_reset_on_success"`
	// FailureTTLSeconds is how long a failure record (or an explicit lock)
	// lives after the most recent failure.
	FailureTTLSeconds int `toml:"failure_ttl_seconds"`
	// SweepIntervalSeconds is the period of the expiry sweep.
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	// RetentionHours is how long persistent stores keep expired rows for
	// post-mortem inspection. Independent of, and longer than, the lock TTL.
	RetentionHours int `toml:"retention_hours"`
}

// StoreConfig selects the failure-record store backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "postgres".
	Backend string `toml:"backend"`
	// DSN is the PostgreSQL connection string (postgres backend).
	DSN string `toml:"dsn"`
	// SQLitePath is the database file path (sqlite backend).
	SQLitePath string `toml:"sqlite_path"`
}

// RecognitionConfig points at the third-party recognition API.
type RecognitionConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxRetries     int     `toml:"max_retries"`
	// MinConfidence is the match confidence below which an identification
	// counts as a failure, in (0, 1].
	MinConfidence float64 `toml:"min_confidence"`
	// AutoEnroll registers unknown users on their first capture instead of
	// rejecting them.
	AutoEnroll bool `toml:"auto_enroll"`
}

// AuthConfig controls token issuance and the admin surface.
type AuthConfig struct {
	// JWTKey is the HS256 signing key for access tokens issued on success.
	JWTKey string `toml:"jwt_key"`
	// AccessTTLSeconds is the access token lifetime.
	AccessTTLSeconds int `toml:"access_ttl_seconds"`
	// AdminToken guards the reset endpoint. Empty disables remote reset.
	AdminToken string `toml:"admin_token"`
}

// Default values. Invalid loaded values are clamped back to these.
const (
	defaultAddr                 = ":8080"
	defaultMaxFailureAttempts   = 5
	defaultFailureTTLSeconds    = 120
	defaultSweepIntervalSeconds = 3600
	defaultRetentionHours       = 24
	defaultBackend              = "memory"
	defaultSQLitePath           = "face-gate.db"
	defaultRecognitionURL       = "http://localhost:8000"
	defaultTimeoutSeconds       = 10
	defaultMaxRetries           = 3
	defaultMinConfidence        = 0.85
	defaultAccessTTLSeconds     = 900
	defaultReloadSeconds        = 60
)

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr: defaultAddr,
		Lockout: LockoutConfig{
			MaxFailureAttempts:    defaultMaxFailureAttempts,
			FailureResetOnSuccess: true,
			FailureTTLSeconds:     defaultFailureTTLSeconds,
			SweepIntervalSeconds:  defaultSweepIntervalSeconds,
			RetentionHours:        defaultRetentionHours,
		},
		Store: StoreConfig{
			Backend:    defaultBackend,
			SQLitePath: defaultSQLitePath,
		},
		Recognition: RecognitionConfig{
			BaseURL:        defaultRecognitionURL,
			TimeoutSeconds: defaultTimeoutSeconds,
			MaxRetries:     defaultMaxRetries,
			MinConfidence:  defaultMinConfidence,
		},
		Auth: AuthConfig{
			AccessTTLSeconds: defaultAccessTTLSeconds,
		},
		ReloadSeconds: defaultReloadSeconds,
	}
}

// Load builds a configuration: defaults, then FACEGATE_* environment
// variables, then the TOML file at path (when path is non-empty).
// A missing or unreadable file leaves the env+defaults layer intact and
// returns the error alongside it so the caller can log and continue.
func Load(path string) (Config, error) {
	cfg := Defaults()
	cfg.applyEnv()

	var loadErr error
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			loadErr = fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg.normalize()
	return cfg, loadErr
}

// applyEnv overlays FACEGATE_* environment variables.
func (c *Config) applyEnv() {
	envString("FACEGATE_ADDR", &c.Addr)
	envInt("FACEGATE_MAX_FAILURE_ATTEMPTS", &c.Lockout.MaxFailureAttempts)
	envBool("FACEGATE_FAILURE_RESET_ON_SUCCESS", &c.Lockout.FailureResetOnSuccess)
	envInt("FACEGATE_FAILURE_TTL_SECONDS", &c.Lockout.FailureTTLSeconds)
	envInt("FACEGATE_SWEEP_INTERVAL_SECONDS", &c.Lockout.SweepIntervalSeconds)
	envInt("FACEGATE_RETENTION_HOURS", &c.Lockout.RetentionHours)
	envString("FACEGATE_STORE_BACKEND", &c.Store.Backend)
	envString("FACEGATE_STORE_DSN", &c.Store.DSN)
	envString("FACEGATE_SQLITE_PATH", &c.Store.SQLitePath)
	envString("FACEGATE_RECOGNITION_URL", &c.Recognition.BaseURL)
	envString("FACEGATE_RECOGNITION_API_KEY", &c.Recognition.APIKey)
	envInt("FACEGATE_RECOGNITION_TIMEOUT_SECONDS", &c.Recognition.TimeoutSeconds)
	envInt("FACEGATE_RECOGNITION_MAX_RETRIES", &c.Recognition.MaxRetries)
	envFloat("FACEGATE_MIN_CONFIDENCE", &c.Recognition.MinConfidence)
	envBool("FACEGATE_AUTO_ENROLL", &c.Recognition.AutoEnroll)
	envString("FACEGATE_JWT_KEY", &c.Auth.JWTKey)
	envInt("FACEGATE_ACCESS_TTL_SECONDS", &c.Auth.AccessTTLSeconds)
	envString("FACEGATE_ADMIN_TOKEN", &c.Auth.AdminToken)
	envInt("FACEGATE_RELOAD_SECONDS", &c.ReloadSeconds)
}

// normalize clamps invalid values field-by-field back to defaults.
// MaxFailureAttempts is intentionally not clamped: <= 0 means "disabled".
func (c *Config) normalize() {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.Lockout.FailureTTLSeconds <= 0 {
		c.Lockout.FailureTTLSeconds = defaultFailureTTLSeconds
	}
	if c.Lockout.SweepIntervalSeconds <= 0 {
		c.Lockout.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
	if c.Lockout.RetentionHours <= 0 {
		c.Lockout.RetentionHours = defaultRetentionHours
	}
	switch strings.ToLower(c.Store.Backend) {
	case "memory", "sqlite", "postgres":
		c.Store.Backend = strings.ToLower(c.Store.Backend)
	default:
		c.Store.Backend = defaultBackend
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = defaultSQLitePath
	}
	if c.Recognition.BaseURL == "" {
		c.Recognition.BaseURL = defaultRecognitionURL
	}
	if c.Recognition.TimeoutSeconds <= 0 {
		c.Recognition.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Recognition.MaxRetries < 0 {
		c.Recognition.MaxRetries = defaultMaxRetries
	}
	if c.Recognition.MinConfidence <= 0 || c.Recognition.MinConfidence > 1 {
		c.Recognition.MinConfidence = defaultMinConfidence
	}
	if c.Auth.AccessTTLSeconds <= 0 {
		c.Auth.AccessTTLSeconds = defaultAccessTTLSeconds
	}
	if c.ReloadSeconds <= 0 {
		c.ReloadSeconds = defaultReloadSeconds
	}
}

// FailureTTL is the failure-record / lock lifetime.
func (c *Config) FailureTTL() time.Duration {
	return time.Duration(c.Lockout.FailureTTLSeconds) * time.Second
}

// SweepInterval is the expiry sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Lockout.SweepIntervalSeconds) * time.Second
}

// Retention is the persistent-store retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Lockout.RetentionHours) * time.Hour
}

// RecognitionTimeout bounds one recognition API call.
func (c *Config) RecognitionTimeout() time.Duration {
	return time.Duration(c.Recognition.TimeoutSeconds) * time.Second
}

// AccessTTL is the issued access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Auth.AccessTTLSeconds) * time.Second
}

// ReloadInterval is the periodic config re-read interval.
func (c *Config) ReloadInterval() time.Duration {
	return time.Duration(c.ReloadSeconds) * time.Second
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
