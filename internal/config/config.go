package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName                 string        `mapstructure:"app_name"`
	Env                     string        `mapstructure:"app_env"`
	LogLevel                string        `mapstructure:"log_level"`
	TopicsFile              string        `mapstructure:"topics_file"`
	PublishersFile          string        `mapstructure:"publishers_file"`
	DefaultTopicsRaw        string        `mapstructure:"default_topics"`
	DefaultTopics           []string      `mapstructure:"-"`
	CollectIntervalSeconds  int64         `mapstructure:"collect_interval"`
	CollectInterval         time.Duration `mapstructure:"-"`
	UserAgent               string        `mapstructure:"user_agent"`
	StorageType             string        `mapstructure:"storage_type"`
	StoragePath             string        `mapstructure:"storage_path"`
	StorageMaxValueBytes    int64         `mapstructure:"storage_max_value_bytes"`
	CacheTTLSeconds         int64         `mapstructure:"cache_ttl_seconds"`
	CacheTTL                time.Duration `mapstructure:"-"`
	ProxyTimeoutSeconds     int64         `mapstructure:"proxy_timeout_seconds"`
	ProxyTimeout            time.Duration `mapstructure:"-"`
	ProxyBreakerFailures    uint32        `mapstructure:"proxy_breaker_failures"`
	ProxyBreakerCooldownSec int64         `mapstructure:"proxy_breaker_cooldown_seconds"`
	ProxyBreakerCooldown    time.Duration `mapstructure:"-"`

	MaxFeeds        int           `mapstructure:"max_feeds"`
	BatchSize       int           `mapstructure:"batch_size"`
	BatchDelayMs    int64         `mapstructure:"batch_delay_ms"`
	BatchDelay      time.Duration `mapstructure:"-"`
	FreshnessHours  int64         `mapstructure:"freshness_hours"`
	FreshnessWindow time.Duration `mapstructure:"-"`

	JSONAPIEndpoint string  `mapstructure:"json_api_endpoint"`
	JSONAPIRPS      float64 `mapstructure:"json_api_rps"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "samvad-digest-feeds")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("topics_file", "./configs/topics.yaml")
	v.SetDefault("publishers_file", "")
	v.SetDefault("default_topics", "")
	v.SetDefault("collect_interval", 900) // seconds
	v.SetDefault("user_agent", "Mozilla/5.0 (compatible; samvad-digest-feeds/1.0)")
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("storage_path", "./data/cache.db")
	v.SetDefault("storage_max_value_bytes", 4<<20)
	v.SetDefault("cache_ttl_seconds", int64((15*time.Minute)/time.Second))
	v.SetDefault("proxy_timeout_seconds", 15)
	v.SetDefault("proxy_breaker_failures", 5)
	v.SetDefault("proxy_breaker_cooldown_seconds", 60)
	v.SetDefault("max_feeds", 40)
	v.SetDefault("batch_size", 3)
	v.SetDefault("batch_delay_ms", 50)
	v.SetDefault("freshness_hours", 120)
	v.SetDefault("json_api_endpoint", "https://api.rss2json.com/v1/api.json")
	v.SetDefault("json_api_rps", 5)

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) normalize() error {
	if cfg.CollectIntervalSeconds <= 0 {
		return fmt.Errorf("invalid collect_interval (must be positive seconds)")
	}
	cfg.CollectInterval = time.Duration(cfg.CollectIntervalSeconds) * time.Second

	if cfg.CacheTTLSeconds <= 0 {
		return fmt.Errorf("invalid cache_ttl_seconds (must be positive seconds)")
	}
	cfg.CacheTTL = time.Duration(cfg.CacheTTLSeconds) * time.Second

	if cfg.ProxyTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid proxy_timeout_seconds (must be positive seconds)")
	}
	cfg.ProxyTimeout = time.Duration(cfg.ProxyTimeoutSeconds) * time.Second

	if cfg.ProxyBreakerCooldownSec < 0 {
		return fmt.Errorf("invalid proxy_breaker_cooldown_seconds (must not be negative)")
	}
	cfg.ProxyBreakerCooldown = time.Duration(cfg.ProxyBreakerCooldownSec) * time.Second

	if cfg.MaxFeeds <= 0 {
		return fmt.Errorf("invalid max_feeds (must be positive)")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("invalid batch_size (must be positive)")
	}
	if cfg.BatchDelayMs < 0 {
		return fmt.Errorf("invalid batch_delay_ms (must not be negative)")
	}
	cfg.BatchDelay = time.Duration(cfg.BatchDelayMs) * time.Millisecond

	if cfg.FreshnessHours <= 0 {
		return fmt.Errorf("invalid freshness_hours (must be positive)")
	}
	cfg.FreshnessWindow = time.Duration(cfg.FreshnessHours) * time.Hour

	if cfg.JSONAPIRPS < 0 {
		return fmt.Errorf("invalid json_api_rps (must not be negative)")
	}

	cfg.DefaultTopics = SplitList(cfg.DefaultTopicsRaw)
	return nil
}

// SplitList splits a comma separated value, dropping blanks.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
