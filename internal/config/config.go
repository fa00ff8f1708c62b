// Package config handles configuration loading and runtime updates.
// The primary source is the environment (LIGHTWATCHER_*); an optional
// YAML overlay file can pin values for static deployments.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// CacheConfig sets the TTL and maximum number of entries of one
// response cache instance.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// RateLimitConfig controls the fixed-window request limiter.
type RateLimitConfig struct {
	Requests uint64        `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// Config is the top-level gateway configuration.
type Config struct {
	mu sync.RWMutex

	// Server
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"` // "debug", "info", "warn", "error"

	// Bird daemon
	BirdCtl            string `yaml:"bird_ctl"`
	ConnectionPoolSize int    `yaml:"bird_connection_pool_size"`

	// Caches
	NeighborsCache CacheConfig `yaml:"neighbors_cache"`
	RoutesCache    CacheConfig `yaml:"routes_cache"`

	// Routes parsing
	RoutesWorkerPoolSize int `yaml:"routes_worker_pool_size"`

	// Soft bound on routes returned by the per-protocol endpoints.
	// nil means no cutoff.
	RoutesProtocolCutoff *int `yaml:"routes_protocol_cutoff"`

	// Rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:             "127.0.0.1:8181",
		LogLevel:           "info",
		BirdCtl:            "/var/run/bird/bird.ctl",
		ConnectionPoolSize: 10,
		NeighborsCache: CacheConfig{
			MaxEntries: 1,
			TTL:        300 * time.Second,
		},
		RoutesCache: CacheConfig{
			MaxEntries: 25,
			TTL:        300 * time.Second,
		},
		RoutesWorkerPoolSize: runtime.NumCPU(),
		RateLimit: RateLimitConfig{
			Requests: 512,
			Window:   60 * time.Second,
		},
	}
}

// FromEnv builds a configuration from the environment, starting from the
// defaults. Malformed numeric values are reported as errors rather than
// silently ignored.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("LIGHTWATCHER_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("LIGHTWATCHER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LIGHTWATCHER_BIRD_CTL"); v != "" {
		c.BirdCtl = v
	}

	var err error
	if c.ConnectionPoolSize, err = intFromEnv(
		"LIGHTWATCHER_BIRD_CONNECTION_POOL_SIZE", c.ConnectionPoolSize); err != nil {
		return err
	}
	if c.NeighborsCache.MaxEntries, err = intFromEnv(
		"LIGHTWATCHER_NEIGHBORS_CACHE_MAX_ENTRIES", c.NeighborsCache.MaxEntries); err != nil {
		return err
	}
	if c.NeighborsCache.TTL, err = secondsFromEnv(
		"LIGHTWATCHER_NEIGHBORS_CACHE_TTL", c.NeighborsCache.TTL); err != nil {
		return err
	}
	if c.RoutesCache.MaxEntries, err = intFromEnv(
		"LIGHTWATCHER_ROUTES_CACHE_MAX_ENTRIES", c.RoutesCache.MaxEntries); err != nil {
		return err
	}
	if c.RoutesCache.TTL, err = secondsFromEnv(
		"LIGHTWATCHER_ROUTES_CACHE_TTL", c.RoutesCache.TTL); err != nil {
		return err
	}
	if c.RoutesWorkerPoolSize, err = intFromEnv(
		"LIGHTWATCHER_ROUTES_WORKER_POOL_SIZE", c.RoutesWorkerPoolSize); err != nil {
		return err
	}

	if v := os.Getenv("LIGHTWATCHER_ROUTES_PROTOCOL_CUTOFF"); v != "" {
		cutoff, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LIGHTWATCHER_ROUTES_PROTOCOL_CUTOFF: %w", err)
		}
		c.RoutesProtocolCutoff = &cutoff
	}

	requests, err := intFromEnv("LIGHTWATCHER_RATE_LIMIT_REQUESTS", int(c.RateLimit.Requests))
	if err != nil {
		return err
	}
	c.RateLimit.Requests = uint64(requests)
	if c.RateLimit.Window, err = secondsFromEnv(
		"LIGHTWATCHER_RATE_LIMIT_WINDOW", c.RateLimit.Window); err != nil {
		return err
	}

	return nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func secondsFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

// LoadOverlayFile applies a YAML overlay on top of the current values.
// The overlay is applied before the environment in FromEnvWithOverlay,
// so environment variables always win.
func (c *Config) LoadOverlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// FromEnvWithOverlay builds a configuration from defaults, then the
// overlay file (when path is non-empty), then the environment.
func FromEnvWithOverlay(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.LoadOverlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.BirdCtl == "" {
		return fmt.Errorf("bird control socket path is required")
	}
	if c.ConnectionPoolSize < 1 {
		return fmt.Errorf("bird_connection_pool_size must be at least 1")
	}
	if c.RoutesWorkerPoolSize < 1 {
		return fmt.Errorf("routes_worker_pool_size must be at least 1")
	}
	if c.NeighborsCache.MaxEntries < 1 || c.RoutesCache.MaxEntries < 1 {
		return fmt.Errorf("cache max_entries must be at least 1")
	}
	if c.RoutesProtocolCutoff != nil && *c.RoutesProtocolCutoff < 1 {
		return fmt.Errorf("routes_protocol_cutoff must be at least 1 when set")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// ok
	default:
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// SaveToFile writes the current configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// GetRateLimit returns the current rate limit config (thread-safe).
func (c *Config) GetRateLimit() RateLimitConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RateLimit
}

// GetRoutesProtocolCutoff returns the cutoff, or nil when unset (thread-safe).
func (c *Config) GetRoutesProtocolCutoff() *int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RoutesProtocolCutoff
}

// LogEnv dumps the effective configuration into the log, one line per
// setting, mirroring the environment variable names.
func (c *Config) LogEnv(log *zap.Logger) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	log.Info("env", zap.String("LIGHTWATCHER_LISTEN", c.Listen))
	log.Info("env", zap.String("LIGHTWATCHER_BIRD_CTL", c.BirdCtl))
	log.Info("env", zap.Int("LIGHTWATCHER_BIRD_CONNECTION_POOL_SIZE", c.ConnectionPoolSize))
	log.Info("env", zap.Int("LIGHTWATCHER_NEIGHBORS_CACHE_MAX_ENTRIES", c.NeighborsCache.MaxEntries))
	log.Info("env", zap.Duration("LIGHTWATCHER_NEIGHBORS_CACHE_TTL", c.NeighborsCache.TTL))
	log.Info("env", zap.Int("LIGHTWATCHER_ROUTES_CACHE_MAX_ENTRIES", c.RoutesCache.MaxEntries))
	log.Info("env", zap.Duration("LIGHTWATCHER_ROUTES_CACHE_TTL", c.RoutesCache.TTL))
	log.Info("env", zap.Int("LIGHTWATCHER_ROUTES_WORKER_POOL_SIZE", c.RoutesWorkerPoolSize))
	if c.RoutesProtocolCutoff != nil {
		log.Info("env", zap.Int("LIGHTWATCHER_ROUTES_PROTOCOL_CUTOFF", *c.RoutesProtocolCutoff))
	}
	log.Info("env", zap.Uint64("LIGHTWATCHER_RATE_LIMIT_REQUESTS", c.RateLimit.Requests))
	log.Info("env", zap.Duration("LIGHTWATCHER_RATE_LIMIT_WINDOW", c.RateLimit.Window))
}
