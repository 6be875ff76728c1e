package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the service reads from the environment or .env
type Config struct {
	Port string `mapstructure:"PORT"`

	// FIRSWebhookSecret is the shared HMAC secret of the firs_webhook profile
	FIRSWebhookSecret string `mapstructure:"FIRS_WEBHOOK_SECRET"`

	// ReceiverSecret enables the receiver's sha256=<hex> precheck when set
	ReceiverSecret string `mapstructure:"RECEIVER_SECRET"`

	// AllowedIPs is a comma-separated list of IPs or CIDR ranges
	AllowedIPs string `mapstructure:"ALLOWED_IPS"`

	RateLimit         int   `mapstructure:"RATE_LIMIT"`
	RateWindowSeconds int   `mapstructure:"RATE_WINDOW_SECONDS"`
	MaxBodyBytes      int64 `mapstructure:"MAX_BODY_BYTES"`

	MaxConcurrentProcessing int `mapstructure:"MAX_CONCURRENT_PROCESSING"`

	RetryPollSeconds      int `mapstructure:"RETRY_POLL_SECONDS"`
	RetryMaxConcurrent    int `mapstructure:"RETRY_MAX_CONCURRENT"`
	DispatchPollSeconds   int `mapstructure:"DISPATCH_POLL_SECONDS"`
	DispatchMaxConcurrent int `mapstructure:"DISPATCH_MAX_CONCURRENT"`

	// TargetsFile points at the targets.yaml dispatch configuration
	TargetsFile string `mapstructure:"TARGETS_FILE"`

	// RedisAddr selects the Redis-backed replay store when non-empty
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	ShutdownGraceSeconds int `mapstructure:"SHUTDOWN_GRACE_SECONDS"`
}

// GetConfig loads configuration from .env (TOML) and the environment.
// A missing .env file is fine; environment variables alone are enough
func GetConfig() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("TARGETS_FILE", "targets.yaml")
	viper.SetDefault("SHUTDOWN_GRACE_SECONDS", 5)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}
	return &config, nil
}

// AllowedIPList splits the comma-separated allowlist into entries
func (c *Config) AllowedIPList() []string {
	if strings.TrimSpace(c.AllowedIPs) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedIPs, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// RateWindow returns the sliding window as a duration, 0 when unset
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// ShutdownGrace returns the drain grace as a duration
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}
