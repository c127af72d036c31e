package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "0 0 * * *", cfg.Schedule.ReportCron)
	assert.Equal(t, time.UTC, cfg.Schedule.Location)
	assert.Equal(t, 20, cfg.Summarizer.RequestsPerMinute)
	assert.Equal(t, 3, cfg.Summarizer.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Summarizer.BackoffBase)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("AI_FALLBACK_MODEL", "meta/llama:free")
	t.Setenv("AI_TIMEOUT", "15s")
	t.Setenv("OPENROUTER_BASE_URL", "http://localhost:9999/v1/")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("COLLECTION_CRON", "0 9 * * 1-5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Schedule.Location.String())
	assert.Equal(t, "meta/llama:free", cfg.Summarizer.FallbackModel)
	assert.Equal(t, 15*time.Second, cfg.Summarizer.Timeout)
	assert.Equal(t, "http://localhost:9999/v1", cfg.Summarizer.BaseURL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "0 9 * * 1-5", cfg.Schedule.CollectionCron)
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad timezone": {"TIMEZONE": "Mars/Olympus"},
		"bad cron":     {"TIMEZONE": "UTC", "REPORT_CRON": "every night"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadWithoutAPIKey(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.ValidateSummarizer())

	cfg.Summarizer.APIKey = "sk-test"
	assert.NoError(t, cfg.ValidateSummarizer())
}

func TestValidateSlack(t *testing.T) {
	cfg := &Config{Slack: SlackConfig{BotToken: "xoxb-1", AppToken: "xapp-1"}}
	assert.NoError(t, cfg.ValidateSlack())

	cfg.Slack.AppToken = "xoxb-wrong"
	assert.Error(t, cfg.ValidateSlack())
}

func TestParseChannelsYAML(t *testing.T) {
	doc := `
channels:
  - id: C1
    name: eng-daily
    subteam: Engineering
  - id: C2
    name: ops-daily
masterReportChannel: CMASTER
`
	chs, err := ParseChannels([]byte(doc))
	require.NoError(t, err)
	require.Len(t, chs.Channels, 2)
	assert.Equal(t, "Engineering", chs.Channels[0].TeamLabel)
	assert.Equal(t, "ops-daily", chs.Channels[1].TeamLabel)
	assert.Equal(t, "CMASTER", chs.MasterChannel)

	ch, ok := chs.Lookup("C2")
	require.True(t, ok)
	assert.Equal(t, "ops-daily", ch.Name)
}

func TestParseChannelsJSON(t *testing.T) {
	doc := `{"channels":[{"id":"C1","name":"eng","subteam":"Eng"}],"masterReportChannel":"CM"}`
	chs, err := ParseChannels([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "Eng", chs.Channels[0].TeamLabel)
}

func TestParseChannelsValidation(t *testing.T) {
	for name, doc := range map[string]string{
		"no channels":  `masterReportChannel: CM`,
		"no master":    `channels: [{id: C1}]`,
		"duplicate id": "channels: [{id: C1}, {id: C1}]\nmasterReportChannel: CM",
		"empty id":     "channels: [{name: x}]\nmasterReportChannel: CM",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseChannels([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadChannelsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("channels: [{id: C1}]\nmasterReportChannel: CM\n"), 0o600))

	chs, err := LoadChannels(path)
	require.NoError(t, err)
	assert.Equal(t, "C1", chs.Channels[0].TeamLabel)

	_, err = LoadChannels(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
