package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreAgentNeedsNoCredentials(t *testing.T) {
	t.Setenv("WP_SITE_URL", "")
	t.Setenv("WP_USERNAME", "")
	t.Setenv("WP_APP_PASSWORD", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("DATABASE_URL", "")

	a, err := newStoreAgent(context.Background(), "", false)
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.store)
	assert.Nil(t, a.replayer, "store-only wiring must not build the pipeline")
}
