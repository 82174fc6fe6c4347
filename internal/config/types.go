package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds every server-level option the gateway boots with.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen   ListenConfig   `koanf:"listen"`
	Logging  LoggingConfig  `koanf:"logging"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Manifest ManifestConfig `koanf:"manifest"`
	Cache    CacheConfig    `koanf:"cache"`
	Strategy StrategyConfig `koanf:"strategy"`
	Fallback FallbackConfig `koanf:"fallback"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// UpstreamConfig names the origin the gateway fronts.
type UpstreamConfig struct {
	Origin         string `koanf:"origin"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// ManifestConfig announces where the deploy manifest lives and whether the
// gateway should watch it for new deploys.
type ManifestConfig struct {
	File  string `koanf:"file"`
	Watch bool   `koanf:"watch"`
}

// CacheConfig selects the store backend and the aging policy for the
// periodic cleanup sweep.
type CacheConfig struct {
	Backend         string            `koanf:"backend"`
	CleanupInterval string            `koanf:"cleanupInterval"`
	MaxEntryAge     string            `koanf:"maxEntryAge"`
	SkipWaiting     bool              `koanf:"skipWaiting"`
	Redis           RedisCacheConfig  `koanf:"redis"`
	SQLite          SQLiteCacheConfig `koanf:"sqlite"`
}

type RedisCacheConfig struct {
	Address  string              `koanf:"address"`
	Username string              `koanf:"username"`
	Password string              `koanf:"password"`
	DB       int                 `koanf:"db"`
	TLS      RedisTLSCacheConfig `koanf:"tls"`
}

type RedisTLSCacheConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

type SQLiteCacheConfig struct {
	Path string `koanf:"path"`
}

// StrategyConfig carries operator overrides evaluated before the built-in
// strategy classification.
type StrategyConfig struct {
	Rules []StrategyRuleConfig `koanf:"rules"`
}

// StrategyRuleConfig pairs a CEL condition with the strategy to apply when it
// matches. First matching rule wins.
type StrategyRuleConfig struct {
	When     string `koanf:"when"`
	Strategy string `koanf:"strategy"`
}

// FallbackConfig overrides the synthesized error bodies served when both the
// network and the cache come up empty.
type FallbackConfig struct {
	NotFoundBody    string `koanf:"notFoundBody"`
	UnavailableBody string `koanf:"unavailableBody"`
}

// CleanupIntervalDuration parses the configured sweep cadence.
func (c CacheConfig) CleanupIntervalDuration() (time.Duration, error) {
	return parsePositiveDuration("server.cache.cleanupInterval", c.CleanupInterval)
}

// MaxEntryAgeDuration parses the configured eviction threshold.
func (c CacheConfig) MaxEntryAgeDuration() (time.Duration, error) {
	return parsePositiveDuration("server.cache.maxEntryAge", c.MaxEntryAge)
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s invalid: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive: %s", field, value)
	}
	return d, nil
}

// Validate rejects configurations the runtime agents cannot honor.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	origin := strings.TrimSpace(c.Server.Upstream.Origin)
	if origin == "" {
		return errors.New("config: server.upstream.origin required")
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("config: server.upstream.origin invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("config: server.upstream.origin must be http or https: %s", origin)
	}
	if parsed.Host == "" {
		return fmt.Errorf("config: server.upstream.origin missing host: %s", origin)
	}
	if c.Server.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: server.upstream.timeoutSeconds invalid: %d", c.Server.Upstream.TimeoutSeconds)
	}
	if strings.TrimSpace(c.Server.Manifest.File) == "" {
		return errors.New("config: server.manifest.file required")
	}
	if _, err := c.Server.Cache.CleanupIntervalDuration(); err != nil {
		return err
	}
	if _, err := c.Server.Cache.MaxEntryAgeDuration(); err != nil {
		return err
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	case "sqlite":
		if strings.TrimSpace(c.Server.Cache.SQLite.Path) == "" {
			return errors.New("config: server.cache.sqlite.path required for sqlite backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	for i, rule := range c.Server.Strategy.Rules {
		if strings.TrimSpace(rule.When) == "" {
			return fmt.Errorf("config: server.strategy.rules[%d].when required", i)
		}
		switch strings.TrimSpace(strings.ToLower(rule.Strategy)) {
		case "cache-first", "network-first":
		default:
			return fmt.Errorf("config: server.strategy.rules[%d].strategy unsupported: %s", i, rule.Strategy)
		}
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the design defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Upstream: UpstreamConfig{
				TimeoutSeconds: 15,
			},
			Manifest: ManifestConfig{
				File:  "./manifest.yaml",
				Watch: true,
			},
			Cache: CacheConfig{
				Backend:         "memory",
				CleanupInterval: "24h",
				MaxEntryAge:     "168h",
				SkipWaiting:     true,
			},
		},
	}
}
