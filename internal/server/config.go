// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the docsync relay.
package server

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
)

const (
	defaultPort            = ":3001"
	defaultMaxMessageSize  = 1 << 20
	defaultRateBurst       = 60
	defaultRefillInterval  = time.Second
	defaultSendBuffer      = 256
	defaultShutdownTimeout = 10 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay settings.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	SendBuffer      int
	StaticDir       string
	SanitizeContent bool
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
}

// envConfig mirrors Config in the shape the environment provides it.
type envConfig struct {
	Port            string        `env:"SERVER_PORT,default=:3001"`
	AllowedOrigins  string        `env:"ALLOWED_ORIGINS,default=*"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE,default=1048576"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST,default=60"`
	RefillSeconds   int           `env:"RATE_LIMIT_REFILL_INTERVAL,default=1"`
	SendBuffer      int           `env:"SEND_BUFFER,default=256"`
	StaticDir       string        `env:"STATIC_DIR"`
	SanitizeContent bool          `env:"SANITIZE_CONTENT,default=false"`
	LogLevel        string        `env:"LOG_LEVEL,default=info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port:           defaultPort,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateBurst,
			RefillInterval: defaultRefillInterval,
		},
		SendBuffer:      defaultSendBuffer,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// NewConfigFromEnv builds a Config from the process environment. Unset
// variables keep their defaults; malformed values are reported as errors.
func NewConfigFromEnv() (*Config, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return loadConfig(es)
}

func loadConfig(es env.EnvSet) (*Config, error) {
	var raw envConfig
	if err := env.Unmarshal(es, &raw); err != nil {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(raw.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", raw.LogLevel, err)
	}

	cfg := Config{
		Port:           raw.Port,
		AllowedOrigins: parseOrigins(raw.AllowedOrigins),
		MaxMessageSize: raw.MaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          raw.RateLimitBurst,
			RefillInterval: time.Duration(raw.RefillSeconds) * time.Second,
		},
		SendBuffer:      raw.SendBuffer,
		StaticDir:       raw.StaticDir,
		SanitizeContent: raw.SanitizeContent,
		LogLevel:        level,
		ShutdownTimeout: raw.ShutdownTimeout,
	}
	sanitized := sanitizeConfig(cfg)
	return &sanitized, nil
}

// sanitizeConfig replaces zero or negative values with their defaults.
func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// NewLogger returns a text logger on stderr at the configured level.
func NewLogger(cfg Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
}
