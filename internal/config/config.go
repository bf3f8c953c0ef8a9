// Package config loads process configuration via viper, binding environment
// variables under the CHATDF_ prefix onto a typed Config struct. Defaults
// mirror the Environment section of the core specification.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of options the core consumes (§6 Environment).
type Config struct {
	// Sessions
	SessionDurationDays int `mapstructure:"session_duration_days"`

	// Rate limiting
	TokenLimit int64 `mapstructure:"token_limit"`

	// Worker pool
	WorkerPoolSize      int           `mapstructure:"worker_pool_size"`
	WorkerMemoryLimitMB int           `mapstructure:"worker_memory_limit_mb"`
	WorkerTaskTimeout   time.Duration `mapstructure:"worker_task_timeout"`
	WorkerMaxTasks      int           `mapstructure:"worker_max_tasks"`

	// File cache
	CacheDir          string        `mapstructure:"cache_dir"`
	MaxFileBytes      int64         `mapstructure:"max_file_bytes"`
	MaxCacheBytes     int64         `mapstructure:"max_cache_bytes"`
	StaleTempFileAge  time.Duration `mapstructure:"stale_temp_file_age"`

	// Query cache
	QueryCacheSize     int           `mapstructure:"query_cache_size"`
	QueryCacheTTL      time.Duration `mapstructure:"query_cache_ttl"`
	DurableCacheMaxSize int          `mapstructure:"durable_cache_max_size"`
	DurableCacheTTL    time.Duration `mapstructure:"durable_cache_ttl"`
	CacheCleanupPeriod time.Duration `mapstructure:"cache_cleanup_period"`

	// SSRF guard
	AllowPrivateURLs bool `mapstructure:"allow_private_urls"`

	// Datastores
	PostgresDSN string `mapstructure:"postgres_dsn"`
	RedisAddr   string `mapstructure:"redis_addr"`
	KafkaBroker string `mapstructure:"kafka_broker"`

	// HTTP / gRPC listeners
	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`

	// Session signing
	SessionSigningKey string `mapstructure:"session_signing_key"`
}

// Load reads configuration from environment variables prefixed CHATDF_ (and
// an optional config file, if present on the search path), applying the
// defaults below for anything unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHATDF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/chatdf")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session_duration_days", 7)
	v.SetDefault("token_limit", 5_000_000)
	v.SetDefault("worker_pool_size", 4)
	v.SetDefault("worker_memory_limit_mb", 512)
	v.SetDefault("worker_task_timeout", 300*time.Second)
	v.SetDefault("worker_max_tasks", 50)
	v.SetDefault("cache_dir", "/tmp/chatdf_cache")
	v.SetDefault("max_file_bytes", int64(500*1024*1024))
	v.SetDefault("max_cache_bytes", int64(1024*1024*1024))
	v.SetDefault("stale_temp_file_age", time.Hour)
	v.SetDefault("query_cache_size", 1000)
	v.SetDefault("query_cache_ttl", 5*time.Minute)
	v.SetDefault("durable_cache_max_size", 500)
	v.SetDefault("durable_cache_ttl", time.Hour)
	v.SetDefault("cache_cleanup_period", 30*time.Minute)
	v.SetDefault("allow_private_urls", false)
	v.SetDefault("postgres_dsn", "postgres://localhost:5432/chatdf?sslmode=disable")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("kafka_broker", "localhost:9092")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("session_signing_key", "")
}

// SessionDuration returns the configured session sliding-window duration.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.SessionDurationDays) * 24 * time.Hour
}
