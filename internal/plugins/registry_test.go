package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-aircloud/internal/climate"
	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/logging"
)

func TestCompiledSkipsUnconfiguredPlugins(t *testing.T) {
	assert.Nil(t, Compiled(nil, Deps{}))
	assert.Empty(t, Compiled(&config.Config{SchemaVersion: config.SchemaVersion}, Deps{}))
}

func TestCompiledBuildsAirCloud(t *testing.T) {
	cfg := &config.Config{
		SchemaVersion: config.SchemaVersion,
		Session:       config.SessionConfig{StateDir: t.TempDir()},
		AirCloud: &config.AirCloudConfig{
			Accounts: []config.AirCloudAccount{{Email: "owner@example.com", Password: "secret"}},
		},
	}
	plugins := Compiled(cfg, Deps{Entities: climate.NewRegistry(), Logger: logging.Discard()})
	require.Len(t, plugins, 1)
	assert.Equal(t, "aircloud", plugins[0].ID())
}
