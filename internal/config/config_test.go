package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envBindings {
		t.Setenv(name, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Polymarket.EventSlug != "us-strikes-iran-by" {
		t.Errorf("Unexpected event slug: %s", cfg.Polymarket.EventSlug)
	}
	if cfg.Polymarket.GammaAPIURL != "https://gamma-api.polymarket.com" {
		t.Errorf("Unexpected gamma URL: %s", cfg.Polymarket.GammaAPIURL)
	}
	if cfg.Polymarket.PollInterval() != 60*time.Second {
		t.Errorf("Unexpected poll interval: %v", cfg.Polymarket.PollInterval())
	}
	if cfg.Monitor.PriceChangeThreshold != 0.05 {
		t.Errorf("Unexpected threshold: %f", cfg.Monitor.PriceChangeThreshold)
	}
	if cfg.Monitor.AlertCooldown() != 300*time.Second {
		t.Errorf("Unexpected cooldown: %v", cfg.Monitor.AlertCooldown())
	}
	if cfg.Polymarket.Timeout != 30*time.Second {
		t.Errorf("Unexpected timeout: %v", cfg.Polymarket.Timeout)
	}
	if cfg.Telegram.Enabled() {
		t.Error("Telegram should be disabled without credentials")
	}
	if cfg.Storage.DBPath != ":memory:" {
		t.Errorf("Unexpected db path: %s", cfg.Storage.DBPath)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200300")
	t.Setenv("EVENT_SLUG", "fed-decision-in-june")
	t.Setenv("POLL_INTERVAL_SECONDS", "30")
	t.Setenv("PRICE_CHANGE_THRESHOLD", "0.08")
	t.Setenv("ALERT_COOLDOWN_SECONDS", "600")
	t.Setenv("WAROMETER_SERVER_ADDR", "127.0.0.1:9090")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !cfg.Telegram.Enabled() {
		t.Error("Telegram should be enabled")
	}
	if cfg.Telegram.ChatID != "-100200300" {
		t.Errorf("Unexpected chat ID: %s", cfg.Telegram.ChatID)
	}
	if cfg.Polymarket.EventSlug != "fed-decision-in-june" {
		t.Errorf("Unexpected event slug: %s", cfg.Polymarket.EventSlug)
	}
	if cfg.Polymarket.PollIntervalSeconds != 30 {
		t.Errorf("Unexpected poll interval: %d", cfg.Polymarket.PollIntervalSeconds)
	}
	if cfg.Monitor.PriceChangeThreshold != 0.08 {
		t.Errorf("Unexpected threshold: %f", cfg.Monitor.PriceChangeThreshold)
	}
	if cfg.Monitor.AlertCooldownSeconds != 600 {
		t.Errorf("Unexpected cooldown: %d", cfg.Monitor.AlertCooldownSeconds)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Errorf("Unexpected server addr: %s", cfg.Server.Addr)
	}
}

func TestLoadFileAndEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	configPath := filepath.Join(dir, "config.yaml")
	content := `
polymarket:
  event_slug: from-file
  poll_interval_seconds: 120
monitor:
  price_change_threshold: 0.1
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	// godotenv never overrides variables that are already set, so the var is
	// left unset here and removed afterwards.
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("WAROMETER_STORAGE_MAX_ALERTS=42\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("WAROMETER_STORAGE_MAX_ALERTS") })

	t.Setenv("EVENT_SLUG", "from-env")

	cfg, err := Load(configPath, envPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Polymarket.EventSlug != "from-env" {
		t.Errorf("env should win over file, got %s", cfg.Polymarket.EventSlug)
	}
	if cfg.Polymarket.PollIntervalSeconds != 120 {
		t.Errorf("Unexpected poll interval: %d", cfg.Polymarket.PollIntervalSeconds)
	}
	if cfg.Monitor.PriceChangeThreshold != 0.1 {
		t.Errorf("Unexpected threshold: %f", cfg.Monitor.PriceChangeThreshold)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Storage.MaxAlerts != 42 {
		t.Errorf("Unexpected max alerts from .env: %d", cfg.Storage.MaxAlerts)
	}
}

func TestLoadMissingFilesAreOptional(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml"), filepath.Join(dir, ".env")); err != nil {
		t.Fatalf("missing optional files should not fail: %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Polymarket: PolymarketConfig{
			GammaAPIURL:         "https://example.com",
			EventSlug:           "us-strikes-iran-by",
			PollIntervalSeconds: 60,
			Timeout:             30 * time.Second,
			MaxRetries:          3,
		},
		Monitor: MonitorConfig{
			PriceChangeThreshold: 0.05,
			AlertCooldownSeconds: 300,
		},
		Telegram: TelegramConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Storage: StorageConfig{
			DBPath:    ":memory:",
			MaxAlerts: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing telegram credentials only disable delivery", func(c *Config) { c.Telegram.BotToken = "token" }, false},
		{"empty gamma URL", func(c *Config) { c.Polymarket.GammaAPIURL = "" }, true},
		{"empty slug", func(c *Config) { c.Polymarket.EventSlug = "" }, true},
		{"zero poll interval", func(c *Config) { c.Polymarket.PollIntervalSeconds = 0 }, true},
		{"zero timeout", func(c *Config) { c.Polymarket.Timeout = 0 }, true},
		{"zero retries", func(c *Config) { c.Polymarket.MaxRetries = 0 }, true},
		{"zero threshold", func(c *Config) { c.Monitor.PriceChangeThreshold = 0 }, true},
		{"threshold above 1", func(c *Config) { c.Monitor.PriceChangeThreshold = 1.5 }, true},
		{"threshold exactly 1", func(c *Config) { c.Monitor.PriceChangeThreshold = 1 }, false},
		{"negative cooldown", func(c *Config) { c.Monitor.AlertCooldownSeconds = -1 }, true},
		{"zero cooldown", func(c *Config) { c.Monitor.AlertCooldownSeconds = 0 }, false},
		{"zero telegram timeout", func(c *Config) { c.Telegram.Timeout = 0 }, true},
		{"zero telegram retries", func(c *Config) { c.Telegram.MaxRetries = 0 }, true},
		{"zero max alerts", func(c *Config) { c.Storage.MaxAlerts = 0 }, true},
		{"server addr without port", func(c *Config) { c.Server.Addr = "localhost" }, true},
		{"server addr with port", func(c *Config) { c.Server.Addr = ":8080" }, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
