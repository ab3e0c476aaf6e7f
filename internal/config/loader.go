package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads the configuration from an optional YAML file and from
// GATEKEEPER_-prefixed environment variables. Environment variables win over
// the file, the file wins over the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GATEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gatekeeper")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/gatekeeper")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)
	v.SetDefault("server.enable_pprof", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gatekeeper")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "gatekeeper")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", 30)

	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.sentinel_master", "")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("cache.validation_ttl_seconds", 300)
	v.SetDefault("cache.in_memory", false)

	v.SetDefault("rate_limit.window_seconds", 60)

	v.SetDefault("rotation.expiry_months", 12)
	v.SetDefault("rotation.transition_days", 7)
	v.SetDefault("rotation.expiring_soon_days", 30)
	v.SetDefault("rotation.unused_days", 90)
	v.SetDefault("rotation.rotated_days", 30)

	v.SetDefault("auth.public_paths", []string{})
	v.SetDefault("auth.query_paths", []string{"/api/shop/query"})
	v.SetDefault("auth.public_operations", []string{})

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.sweep_schedule", "0 * * * *")

	v.SetDefault("log.level", "info")
}
