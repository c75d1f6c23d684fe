package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	GammaAPIURL         string        `mapstructure:"gamma_api_url"`
	EventSlug           string        `mapstructure:"event_slug"`
	PollIntervalSeconds int           `mapstructure:"poll_interval_seconds"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryDelayBase      time.Duration `mapstructure:"retry_delay_base"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
}

// PollInterval returns the poll period as a duration.
func (p PolymarketConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSeconds) * time.Second
}

// MonitorConfig holds detection configuration
type MonitorConfig struct {
	PriceChangeThreshold float64 `mapstructure:"price_change_threshold"`
	AlertCooldownSeconds int     `mapstructure:"alert_cooldown_seconds"`
}

// AlertCooldown returns the per-market cooldown as a duration.
func (m MonitorConfig) AlertCooldown() time.Duration {
	return time.Duration(m.AlertCooldownSeconds) * time.Second
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken        string        `mapstructure:"bot_token"`
	ChatID          string        `mapstructure:"chat_id"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelayBase  time.Duration `mapstructure:"retry_delay_base"`
	CommandsEnabled bool          `mapstructure:"commands_enabled"`
}

// Enabled reports whether live delivery is configured. Without both values
// alerts are only logged.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// StorageConfig holds the alert journal configuration
type StorageConfig struct {
	DBPath    string `mapstructure:"db_path"`
	MaxAlerts int    `mapstructure:"max_alerts"`
}

// ServerConfig holds the status HTTP server configuration
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// envBindings maps config keys to the plain environment names operators set.
var envBindings = map[string]string{
	"telegram.bot_token":               "TELEGRAM_BOT_TOKEN",
	"telegram.chat_id":                 "TELEGRAM_CHAT_ID",
	"polymarket.gamma_api_url":         "GAMMA_API_URL",
	"polymarket.event_slug":            "EVENT_SLUG",
	"polymarket.poll_interval_seconds": "POLL_INTERVAL_SECONDS",
	"monitor.price_change_threshold":   "PRICE_CHANGE_THRESHOLD",
	"monitor.alert_cooldown_seconds":   "ALERT_COOLDOWN_SECONDS",
}

// Load reads configuration from an optional file, an optional .env file and
// environment variables. Environment values win over the file.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	// Supplementary keys: WAROMETER_TELEGRAM_MAX_RETRIES, WAROMETER_SERVER_ADDR, ...
	v.SetEnvPrefix("WAROMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env, "WAROMETER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Polymarket defaults
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.event_slug", "us-strikes-iran-by")
	v.SetDefault("polymarket.poll_interval_seconds", 60)
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.max_retries", 3)
	v.SetDefault("polymarket.retry_delay_base", "1s")
	v.SetDefault("polymarket.max_idle_conns", 10)
	v.SetDefault("polymarket.max_idle_conns_per_host", 2)
	v.SetDefault("polymarket.idle_conn_timeout", "90s")

	// Monitor defaults
	v.SetDefault("monitor.price_change_threshold", 0.05)
	v.SetDefault("monitor.alert_cooldown_seconds", 300)

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.timeout", "10s")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.commands_enabled", false)

	// Storage defaults
	v.SetDefault("storage.db_path", ":memory:")
	v.SetDefault("storage.max_alerts", 500)

	// Server defaults
	v.SetDefault("server.addr", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Polymarket config
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.EventSlug == "" {
		return fmt.Errorf("polymarket.event_slug is required")
	}
	if c.Polymarket.PollIntervalSeconds < 1 {
		return fmt.Errorf("polymarket.poll_interval_seconds must be at least 1")
	}
	if c.Polymarket.Timeout <= 0 {
		return fmt.Errorf("polymarket.timeout must be positive")
	}
	if c.Polymarket.MaxRetries < 1 {
		return fmt.Errorf("polymarket.max_retries must be at least 1")
	}

	// Validate Monitor config
	if c.Monitor.PriceChangeThreshold <= 0.0 || c.Monitor.PriceChangeThreshold > 1.0 {
		return fmt.Errorf("monitor.price_change_threshold must be in (0.0, 1.0]")
	}
	if c.Monitor.AlertCooldownSeconds < 0 {
		return fmt.Errorf("monitor.alert_cooldown_seconds must not be negative")
	}

	// Validate Telegram config; missing credentials only disable delivery
	if c.Telegram.Timeout <= 0 {
		return fmt.Errorf("telegram.timeout must be positive")
	}
	if c.Telegram.MaxRetries < 1 {
		return fmt.Errorf("telegram.max_retries must be at least 1")
	}

	// Validate Storage config
	if c.Storage.MaxAlerts < 1 {
		return fmt.Errorf("storage.max_alerts must be at least 1")
	}

	// Validate Server config
	if c.Server.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
			return fmt.Errorf("server.addr must be host:port: %w", err)
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
