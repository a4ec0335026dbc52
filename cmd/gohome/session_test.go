package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-aircloud/internal/session"
	"github.com/joshp123/gohome-aircloud/plugins/aircloud"
)

func TestSummarizeSession(t *testing.T) {
	dir := t.TempDir()

	missing := summarizeSession(dir, "owner@example.com")
	assert.False(t, missing.Present)
	assert.Empty(t, missing.Error)

	expiry := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	path := session.StatePath(dir, aircloud.Domain, "owner@example.com")
	require.NoError(t, session.WriteState(path, session.State{
		Provider:     aircloud.Domain,
		Account:      "owner@example.com",
		RefreshToken: "refresh-1",
		Expiry:       expiry,
	}))

	got := summarizeSession(dir, "owner@example.com")
	assert.True(t, got.Present)
	assert.True(t, got.HasRefreshToken)
	assert.True(t, expiry.Equal(got.Expiry))
	assert.Equal(t, path, got.Path)
}
