package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"site_url": "https://blog.example.com",
		"username": "editor",
		"site_tz": "America/New_York",
		"max_publishes_per_day": 3,
		"retry_base": "2s",
		"schedule_tolerance": "1m"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://blog.example.com", cfg.SiteURL)
	assert.Equal(t, "editor", cfg.Username)
	assert.Equal(t, 3, cfg.MaxPublishesPerDay)
	assert.Equal(t, 2*time.Second, cfg.RetryBase.Std())
	assert.Equal(t, time.Minute, cfg.ScheduleTolerance.Std())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig("")
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := writeConfig(t, `{"retry_base": "not-a-duration"}`)
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestApplyEnvOverridesFile(t *testing.T) {
	t.Setenv("WP_APP_PASSWORD", "abcd efgh ijkl mnop")
	t.Setenv("WP_SITE_URL", "https://env.example.com")

	cfg := &Config{SiteURL: "https://file.example.com", AppPassword: "stale"}
	cfg.ApplyEnv()

	assert.Equal(t, "https://env.example.com", cfg.SiteURL)
	assert.Equal(t, "abcd efgh ijkl mnop", cfg.AppPassword)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "UTC", cfg.SiteTZ)
	assert.Equal(t, time.Second, cfg.RetryBase.Std())
	assert.Equal(t, 2*time.Minute, cfg.RetryCeiling.Std())
	assert.Equal(t, 5, cfg.MaxNetworkAttempts)
	assert.Equal(t, 2, cfg.MaxLocalAttempts)
	assert.Equal(t, 500, cfg.MinWordCount)
	assert.Equal(t, 3000, cfg.MaxWordCount)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 15*time.Minute, cfg.RequeueDelay.Std())
	assert.Equal(t, 0.5, cfg.PublishJitter)
	assert.Equal(t, 1, cfg.AutoReplayAttempts)
}

func TestLoadConfigHourlyQuota(t *testing.T) {
	path := writeConfig(t, `{
		"site_url": "https://blog.example.com",
		"username": "editor",
		"max_publishes_per_day": 3,
		"max_publishes_per_hour": 1
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxPublishesPerDay)
	assert.Equal(t, 1, cfg.MaxPublishesPerHour)
}

func TestValidateRequiresSiteCredentials(t *testing.T) {
	cfg := &Config{SiteURL: "https://blog.example.com", Username: "editor"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AppPassword")

	cfg.AppPassword = "abcd efgh"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := &Config{
		SiteURL:     "https://blog.example.com",
		Username:    "editor",
		AppPassword: "abcd",
		SiteTZ:      "Mars/Olympus_Mons",
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site_tz")
}

func TestSiteLocation(t *testing.T) {
	cfg := &Config{SiteTZ: "America/New_York"}
	loc, err := cfg.SiteLocation()
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())

	cfg.SiteTZ = ""
	loc, err = cfg.SiteLocation()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}
