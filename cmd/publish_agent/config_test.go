package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/blog-autopilot/internal/config"
)

func TestRenderConfigRedactsSecrets(t *testing.T) {
	cfg := &config.Config{
		SiteURL:      "https://blog.example.com",
		Username:     "editor",
		AppPassword:  "abcd efgh ijkl mnop",
		GeminiAPIKey: "AIza-secret",
		DatabaseURL:  "postgres://user:hunter2@db/blog",
	}

	rendered, err := renderConfig(cfg)
	require.NoError(t, err)

	assert.Contains(t, rendered, "https://blog.example.com")
	assert.Contains(t, rendered, "editor")
	assert.Contains(t, rendered, "[redacted]")
	assert.NotContains(t, rendered, "abcd efgh")
	assert.NotContains(t, rendered, "AIza-secret")
	assert.NotContains(t, rendered, "hunter2")

	// Masking must not leak back into the live config.
	assert.Equal(t, "abcd efgh ijkl mnop", cfg.AppPassword)
}

func TestRenderConfigEmptySecretsStayEmpty(t *testing.T) {
	rendered, err := renderConfig(&config.Config{SiteURL: "https://blog.example.com"})
	require.NoError(t, err)
	assert.NotContains(t, rendered, "[redacted]")
}
