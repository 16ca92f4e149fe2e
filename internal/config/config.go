package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Default values for optional settings.
const (
	DefaultTimezone        = "Asia/Jakarta"
	DefaultMetricsAddr     = ":9090"
	DefaultRollupBatchSize = 500
	DefaultLogLevel        = "info"
)

// Config holds all configuration for our application
type Config struct {
	DiscordToken    string `koanf:"discord_token"`
	DatabaseDSN     string `koanf:"database_dsn"`
	RedisURL        string `koanf:"redis_url"`
	Timezone        string `koanf:"stats_timezone"`
	MetricsAddr     string `koanf:"metrics_addr"`
	RollupBatchSize int    `koanf:"rollup_batch_size"`
	LogLevel        string `koanf:"log_level"`

	// Location is the organizational timezone every period boundary is computed in.
	Location *time.Location `koanf:"-"`
}

// Load loads configuration from an optional .env file, an optional YAML file
// and environment variables. Environment variables win over file values.
func Load(configFilePath string) (*Config, error) {
	// .env file is optional, continue with environment variables
	_ = godotenv.Load()

	if configFilePath == "" {
		configFilePath = os.Getenv("CONFIG_FILE")
	}

	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, &ConfigError{Field: "CONFIG_FILE", Message: fmt.Sprintf("failed to load config file %s: %v", configFilePath, err)}
		}
	}

	config := &Config{
		DiscordToken: getEnvOrKoanf("DISCORD_TOKEN", k, "discord_token", ""),
		DatabaseDSN:  getEnvOrKoanf("DATABASE_DSN", k, "database_dsn", ""),
		RedisURL:     getEnvOrKoanf("REDIS_URL", k, "redis_url", ""),
		Timezone:     getEnvOrKoanf("STATS_TIMEZONE", k, "stats_timezone", DefaultTimezone),
		LogLevel:     strings.ToLower(getEnvOrKoanf("LOG_LEVEL", k, "log_level", DefaultLogLevel)),
	}

	// METRICS_ADDR may be set to an empty value on purpose to disable the endpoint.
	config.MetricsAddr = DefaultMetricsAddr
	if k.Exists("metrics_addr") {
		config.MetricsAddr = k.String("metrics_addr")
	}
	if val, ok := os.LookupEnv("METRICS_ADDR"); ok {
		config.MetricsAddr = val
	}

	batchSize, err := getEnvIntOrDefault("ROLLUP_BATCH_SIZE", k.Int("rollup_batch_size"), DefaultRollupBatchSize)
	if err != nil {
		return nil, err
	}
	config.RollupBatchSize = batchSize

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the fields every mode needs and resolves the timezone.
// The Discord token is checked separately by RequireDiscordToken so the
// offline rollup modes can run without one.
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return &ConfigError{Field: "DATABASE_DSN", Message: "DATABASE_DSN is required"}
	}

	if c.RollupBatchSize <= 0 {
		return &ConfigError{Field: "ROLLUP_BATCH_SIZE", Message: "ROLLUP_BATCH_SIZE must be positive"}
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return &ConfigError{Field: "STATS_TIMEZONE", Message: fmt.Sprintf("STATS_TIMEZONE %q is not a valid IANA timezone", c.Timezone)}
	}
	c.Location = loc

	return nil
}

// RequireDiscordToken reports a missing DISCORD_TOKEN. Only the gateway bot
// needs it.
func (c *Config) RequireDiscordToken() error {
	if c.DiscordToken == "" {
		return &ConfigError{Field: "DISCORD_TOKEN", Message: "DISCORD_TOKEN is required"}
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, &ConfigError{Field: "LOG_LEVEL", Message: fmt.Sprintf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)}
	}
}

func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if val := k.String(koanfKey); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return 0, &ConfigError{Field: envKey, Message: fmt.Sprintf("%s must be a valid integer", envKey)}
		}
		return parsed, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
