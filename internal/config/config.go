// Package config loads backend configuration from file and environment.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tunables for the sync backend. Values come from an
// optional YAML file plus SHELFMARK_-prefixed environment overrides.
type Config struct {
	HTTPPort int    `mapstructure:"http_port"`
	DataDir  string `mapstructure:"data_dir"`
	CacheDir string `mapstructure:"cache_dir"`
	LogLevel string `mapstructure:"log_level"`

	// Concurrency governor
	LockTimeout         time.Duration `mapstructure:"lock_timeout"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	MaxActiveConns      int64         `mapstructure:"max_active_conns"`
	MaxAvgLatencyMillis float64       `mapstructure:"max_avg_latency_millis"`
	MaxErrorRate        float64       `mapstructure:"max_error_rate"`
	UserRatePerSec      float64       `mapstructure:"user_rate_per_sec"`
	UserRateBurst       int           `mapstructure:"user_rate_burst"`

	// Pull cache
	CacheMaxEntries    int           `mapstructure:"cache_max_entries"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	CacheEvictInterval time.Duration `mapstructure:"cache_evict_interval"`

	// Pull paging
	PullPageSize int `mapstructure:"pull_page_size"`

	// Static bearer tokens (token -> user id) for development and tests.
	// Production deployments plug a real verifier in at startup.
	AuthTokens map[string]string `mapstructure:"auth_tokens"`
}

// Load reads configuration from the optional file at path (YAML) and the
// environment. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("http_port", 8090)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("cache_dir", "./data/cache")
	v.SetDefault("log_level", "info")
	v.SetDefault("lock_timeout", 5*time.Second)
	v.SetDefault("lock_ttl", 30*time.Second)
	v.SetDefault("max_active_conns", 64)
	v.SetDefault("max_avg_latency_millis", 2000.0)
	v.SetDefault("max_error_rate", 0.5)
	v.SetDefault("user_rate_per_sec", 5.0)
	v.SetDefault("user_rate_burst", 10)
	v.SetDefault("cache_max_entries", 512)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("cache_evict_interval", time.Minute)
	v.SetDefault("pull_page_size", 1000)

	v.SetEnvPrefix("SHELFMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
