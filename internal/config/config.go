// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers

	"github.com/adhocore/gronx"
)

// Config holds all application configuration.
type Config struct {
	HTTPAddr   string
	AdminToken string
	DBPath     string
	ConfigFile string
	LogLevel   slog.Level

	Slack      SlackConfig
	Summarizer SummarizerConfig
	Schedule   ScheduleConfig
}

// SlackConfig holds chat platform credentials.
type SlackConfig struct {
	BotToken string
	AppToken string
	Debug    bool
}

// SummarizerConfig controls the OpenRouter client.
type SummarizerConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	FallbackModel     string
	RequestsPerMinute int
	Timeout           time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
}

// ScheduleConfig controls the cron jobs.
type ScheduleConfig struct {
	Timezone       string
	Location       *time.Location
	ReportCron     string
	CollectionCron string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	rpm := getEnvInt("AI_REQUESTS_PER_MINUTE", 20)
	if rpm <= 0 {
		rpm = 20
	}

	cfg := &Config{
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		AdminToken: getEnv("ADMIN_TOKEN", ""),
		DBPath:     getEnv("DB_PATH", "./data/reports.db"),
		ConfigFile: getEnv("CONFIG_FILE", "config.yaml"),
		LogLevel:   parseLevel(getEnv("LOG_LEVEL", "info")),
		Slack: SlackConfig{
			BotToken: getEnv("SLACK_BOT_TOKEN", ""),
			AppToken: getEnv("SLACK_APP_TOKEN", ""),
			Debug:    getEnvBool("SLACK_DEBUG", false),
		},
		Summarizer: SummarizerConfig{
			APIKey:            getEnv("OPENROUTER_API_KEY", ""),
			BaseURL:           strings.TrimRight(getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"), "/"),
			Model:             getEnv("AI_MODEL", "google/gemini-2.0-flash-exp:free"),
			FallbackModel:     getEnv("AI_FALLBACK_MODEL", ""),
			RequestsPerMinute: rpm,
			Timeout:           getEnvDuration("AI_TIMEOUT", 60*time.Second),
			MaxAttempts:       3,
			BackoffBase:       2 * time.Second,
		},
		Schedule: ScheduleConfig{
			Timezone:       getEnv("TIMEZONE", "America/New_York"),
			ReportCron:     getEnv("REPORT_CRON", "0 0 * * *"),
			CollectionCron: getEnv("COLLECTION_CRON", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set and
// resolves the schedule location.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("HTTP_ADDR cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Summarizer.Model == "" {
		return fmt.Errorf("AI_MODEL cannot be empty")
	}
	if c.Summarizer.Timeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be > 0")
	}

	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Schedule.Timezone, err)
	}
	c.Schedule.Location = loc

	if !gronx.IsValid(c.Schedule.ReportCron) {
		return fmt.Errorf("REPORT_CRON %q is not a valid cron expression", c.Schedule.ReportCron)
	}
	if c.Schedule.CollectionCron != "" && !gronx.IsValid(c.Schedule.CollectionCron) {
		return fmt.Errorf("COLLECTION_CRON %q is not a valid cron expression", c.Schedule.CollectionCron)
	}
	return nil
}

// ValidateSummarizer checks the credentials needed to call the summarization API.
func (c *Config) ValidateSummarizer() error {
	if c.Summarizer.APIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required")
	}
	return nil
}

// ValidateSlack checks the credentials needed to connect to Slack.
func (c *Config) ValidateSlack() error {
	if c.Slack.BotToken == "" {
		return fmt.Errorf("SLACK_BOT_TOKEN is required")
	}
	if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		return fmt.Errorf("SLACK_APP_TOKEN must be an app-level token (xapp-...)")
	}
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
