// Package config loads daemon configuration from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the static configuration consumed by the core components.
// It is loaded and validated once at startup.
type Config struct {
	// IMAP mailbox credentials.
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
	IMAPFolder   string `mapstructure:"imap_folder"`

	// Telegram sink credentials and target chat.
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`

	// DatabasePath is the SQLite ledger file location.
	DatabasePath string `mapstructure:"database_path"`

	// CheckIntervalMinutes is the polling cadence.
	CheckIntervalMinutes int `mapstructure:"check_interval_minutes"`

	// MaxBodyLength caps the notification text, including headers.
	MaxBodyLength int `mapstructure:"max_body_length"`

	LogLevel string `mapstructure:"log_level"`
}

// CheckInterval returns the polling cadence as a duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMinutes) * time.Minute
}

// Load reads configuration from the environment using Viper. Missing
// optional keys resolve to defaults; required keys are checked by
// Validate.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("imap_port", 993)
	v.SetDefault("imap_folder", "INBOX")
	v.SetDefault("database_path", "mailbridge.db")
	v.SetDefault("check_interval_minutes", 5)
	v.SetDefault("max_body_length", 4000)
	v.SetDefault("log_level", "info")

	for _, key := range []string{
		"imap_host", "imap_port", "imap_user", "imap_password",
		"imap_folder", "telegram_bot_token", "telegram_chat_id",
		"database_path", "check_interval_minutes", "max_body_length",
		"log_level",
	} {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return nil, fmt.Errorf("binding env %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required settings are present, reporting
// every missing variable at once. A failure here is fatal; the daemon
// must not start without credentials.
func (c *Config) Validate() error {
	var missing []string

	required := []struct {
		name  string
		value string
	}{
		{"IMAP_HOST", c.IMAPHost},
		{"IMAP_USER", c.IMAPUser},
		{"IMAP_PASSWORD", c.IMAPPassword},
		{"TELEGRAM_BOT_TOKEN", c.TelegramBotToken},
		{"TELEGRAM_CHAT_ID", c.TelegramChatID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf(
			"missing required environment variables: %s",
			strings.Join(missing, ", "),
		)
	}

	if c.CheckIntervalMinutes <= 0 {
		return fmt.Errorf(
			"CHECK_INTERVAL_MINUTES must be positive, got %d",
			c.CheckIntervalMinutes,
		)
	}
	if c.MaxBodyLength <= 0 {
		return fmt.Errorf(
			"MAX_BODY_LENGTH must be positive, got %d",
			c.MaxBodyLength,
		)
	}

	return nil
}
