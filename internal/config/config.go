// Package config defines the Gatekeeper configuration model and its loader.
package config

import (
	"fmt"
	"time"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Rotation  RotationConfig  `mapstructure:"rotation"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
	EnablePprof  bool   `mapstructure:"enable_pprof"`
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime"` // minutes
}

type RedisConfig struct {
	Addresses      []string `mapstructure:"addresses"`
	Password       string   `mapstructure:"password"`
	DB             int      `mapstructure:"db"`
	SentinelMaster string   `mapstructure:"sentinel_master"`
	PoolSize       int      `mapstructure:"pool_size"`
	MinIdleConns   int      `mapstructure:"min_idle_conns"`
}

type CacheConfig struct {
	// ValidationTTLSeconds bounds the staleness window of cached verdicts.
	ValidationTTLSeconds int `mapstructure:"validation_ttl_seconds"`
	// InMemory switches the cache backend to the in-process store. Only for
	// development: counters are then not shared across workers.
	InMemory bool `mapstructure:"in_memory"`
}

// ValidationTTL returns the verdict TTL as a duration.
func (c *CacheConfig) ValidationTTL() time.Duration {
	return time.Duration(c.ValidationTTLSeconds) * time.Second
}

type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
}

// Window returns the fixed-window length as a duration.
func (c *RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

type RotationConfig struct {
	ExpiryMonths     int `mapstructure:"expiry_months"`
	TransitionDays   int `mapstructure:"transition_days"`
	ExpiringSoonDays int `mapstructure:"expiring_soon_days"`
	UnusedDays       int `mapstructure:"unused_days"`
	RotatedDays      int `mapstructure:"rotated_days"`
}

type AuthConfig struct {
	// PublicPaths bypass authentication entirely (docs, introspection).
	PublicPaths []string `mapstructure:"public_paths"`
	// QueryPaths accept batched operation documents.
	QueryPaths []string `mapstructure:"query_paths"`
	// PublicOperations are the operation names that may run unauthenticated;
	// everything else is protected.
	PublicOperations []string `mapstructure:"public_operations"`
}

type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// SweepSchedule is a cron expression for the lifecycle sweeps.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Validate checks the values that have no safe fallback.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be positive")
	}
	if c.Cache.ValidationTTLSeconds <= 0 {
		return fmt.Errorf("cache.validation_ttl_seconds must be positive")
	}
	return nil
}
