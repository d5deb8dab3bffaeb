package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Log       LogConfig        `mapstructure:"log"`
	Auth      AuthConfig       `mapstructure:"auth"`
	LogSink   LogSinkConfig    `mapstructure:"log_sink"`
	Tracing   TracingConfig    `mapstructure:"tracing"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Upstream  UpstreamConfig   `mapstructure:"upstream"`
	Routing   RoutingConfig    `mapstructure:"routing"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	Env          string `mapstructure:"env"`
	CheckUpdates bool   `mapstructure:"check_updates"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

const (
	AuthStatic = "static"
	AuthRemote = "remote"
	AuthNone   = "none"
)

type AuthConfig struct {
	Mode     string        `mapstructure:"mode"`
	Token    string        `mapstructure:"token"`
	URL      string        `mapstructure:"url"`
	Secret   string        `mapstructure:"secret"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"` // accepted remote verifications; zero checks every request
}

const (
	SinkHTTP  = "http"
	SinkRedis = "redis"
)

type LogSinkConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Driver  string        `mapstructure:"driver"`
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Buffer  int           `mapstructure:"buffer"`
	Workers int           `mapstructure:"workers"`
	Timeout time.Duration `mapstructure:"timeout"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type UpstreamConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type RoutingConfig struct {
	Marker string `mapstructure:"marker"`
}

// ProviderConfig declares one upstream profile. Order in the list is match priority;
// the entry without a prefix is the default.
type ProviderConfig struct {
	ID           string `mapstructure:"id" validate:"required"`
	Name         string `mapstructure:"name"`
	Prefix       string `mapstructure:"prefix"`
	BaseURL      string `mapstructure:"base_url" validate:"required,url"`
	APIKey       string `mapstructure:"api_key" validate:"required"`
	Rewrite      string `mapstructure:"rewrite" validate:"omitempty,oneof=none last_segment strip_prefix"`
	MinMaxTokens int    `mapstructure:"min_max_tokens" validate:"gte=0"`
	Enabled      *bool  `mapstructure:"enabled"`
}

// IsEnabled treats a missing flag as enabled.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// DefaultProviders is the built-in routing table used when no providers are configured.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:      "github",
			Name:    "GitHub Models",
			Prefix:  "@gh/",
			BaseURL: "https://models.inference.ai.azure.com/chat/completions",
			APIKey:  "ENV:GITHUB_API_KEY",
			Rewrite: "last_segment",
		},
		{
			ID:      "siliconflow",
			Name:    "SiliconFlow",
			Prefix:  "@sf/",
			BaseURL: "https://api.siliconflow.cn/v1/chat/completions",
			APIKey:  "ENV:SILICONFLOW_API_KEY",
			Rewrite: "strip_prefix",
		},
		{
			ID:           "cloudflare",
			Name:         "Cloudflare Workers AI",
			BaseURL:      "https://api.cloudflare.com/client/v4/accounts/${CLOUDFLARE_ACCOUNT_ID}/ai/v1/chat/completions",
			APIKey:       "ENV:CLOUDFLARE_API_KEY",
			Rewrite:      "none",
			MinMaxTokens: 2048,
		},
	}
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Default Values
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.check_updates", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("auth.mode", AuthStatic)
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.url", "https://secure.waynecommand.com")
	v.SetDefault("auth.secret", "ENV:CLIENT_KEY")
	v.SetDefault("auth.timeout", 5*time.Second)
	v.SetDefault("auth.cache_ttl", time.Minute)
	v.SetDefault("log_sink.enabled", false)
	v.SetDefault("log_sink.driver", SinkHTTP)
	v.SetDefault("log_sink.url", "https://in.logs.betterstack.com")
	v.SetDefault("log_sink.token", "")
	v.SetDefault("log_sink.buffer", 1000)
	v.SetDefault("log_sink.workers", 2)
	v.SetDefault("log_sink.timeout", 5*time.Second)
	v.SetDefault("log_sink.redis.addr", "localhost:6379")
	v.SetDefault("log_sink.redis.password", "")
	v.SetDefault("log_sink.redis.db", 0)
	v.SetDefault("log_sink.redis.key", "chat-relay:requests")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "chat-relay")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("upstream.timeout", 60*time.Second)
	v.SetDefault("routing.marker", "@")

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}

	cfg.Auth.Token = resolve(v, cfg.Auth.Token)
	cfg.Auth.Secret = resolve(v, cfg.Auth.Secret)
	cfg.LogSink.Token = resolve(v, cfg.LogSink.Token)
	cfg.LogSink.Redis.Password = resolve(v, cfg.LogSink.Redis.Password)

	// Resolve API Keys
	for i, p := range cfg.Providers {
		cfg.Providers[i].APIKey = resolve(v, p.APIKey)
		cfg.Providers[i].BaseURL = os.Expand(p.BaseURL, func(name string) string {
			return lookup(v, name)
		})
	}

	return &cfg, nil
}

// resolve replaces an "ENV:NAME" reference with the variable's value.
func resolve(v *viper.Viper, value string) string {
	if !strings.HasPrefix(value, "ENV:") {
		return value
	}
	return lookup(v, strings.TrimPrefix(value, "ENV:"))
}

func lookup(v *viper.Viper, name string) string {
	// Check process environment first (explicit override)
	if val := os.Getenv(name); val != "" {
		return val
	}
	// Then check viper (which might have it from other sources)
	return v.GetString(name)
}
