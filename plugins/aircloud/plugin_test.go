package aircloud

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-aircloud/internal/climate"
	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/core"
	"github.com/joshp123/gohome-aircloud/internal/logging"
	"github.com/joshp123/gohome-aircloud/internal/mqtt"
)

func pluginConfig(t *testing.T, cloud *fakeCloud, accounts ...config.AirCloudAccount) *config.Config {
	if len(accounts) == 0 {
		accounts = []config.AirCloudAccount{{Email: testEmail, Password: testPassword}}
	}
	return &config.Config{
		SchemaVersion: config.SchemaVersion,
		Session:       testSessionConfig(t),
		AirCloud: &config.AirCloudConfig{
			Accounts:              accounts,
			BaseURL:               cloud.URL(),
			PollIntervalSeconds:   3600,
			RequestTimeoutSeconds: 5,
		},
	}
}

func TestNewPluginRequiresSection(t *testing.T) {
	_, ok := NewPlugin(&config.Config{}, nil, logging.Discard())
	assert.False(t, ok)
	_, ok = NewPlugin(nil, nil, logging.Discard())
	assert.False(t, ok)
}

func TestPluginContract(t *testing.T) {
	cloud := newFakeCloud(t)
	plugin, ok := NewPlugin(pluginConfig(t, cloud), climate.NewRegistry(), logging.Discard())
	require.True(t, ok)

	assert.Equal(t, "aircloud", plugin.ID())
	assert.Equal(t, []string{ServiceName}, plugin.Manifest().Services)
	assert.Contains(t, plugin.AgentsMD(), "AirCloudService")
	require.Len(t, plugin.Dashboards(), 1)
	assert.True(t, json.Valid(plugin.Dashboards()[0].JSON))
	assert.Len(t, plugin.Collectors(), 1)
	assert.NoError(t, core.ValidatePlugins([]core.Plugin{plugin}))
}

func TestPluginStartAndStop(t *testing.T) {
	cloud := newFakeCloud(t)
	registry := climate.NewRegistry()
	plugin, _ := NewPlugin(pluginConfig(t, cloud), registry, logging.Discard())
	ctx := context.Background()

	require.NoError(t, plugin.Start(ctx))
	assert.Equal(t, core.HealthHealthy, plugin.Health())
	assert.Len(t, registry.List(), 2)

	require.NoError(t, plugin.Stop(ctx))
	assert.Empty(t, registry.List())
}

func TestPluginHealthReflectsAccountFailures(t *testing.T) {
	cloud := newFakeCloud(t)
	ctx := context.Background()

	plugin, _ := NewPlugin(pluginConfig(t, cloud,
		config.AirCloudAccount{Email: testEmail, Password: testPassword},
		config.AirCloudAccount{Email: "guest@example.com", Password: "nope"},
	), climate.NewRegistry(), logging.Discard())
	require.NoError(t, plugin.Start(ctx))
	defer plugin.Stop(ctx)
	assert.Equal(t, core.HealthDegraded, plugin.Health())
	assert.Contains(t, plugin.HealthMessage(), "guest@example.com")

	failing, _ := NewPlugin(pluginConfig(t, cloud,
		config.AirCloudAccount{Email: testEmail, Password: "nope"},
	), climate.NewRegistry(), logging.Discard())
	require.NoError(t, failing.Start(ctx))
	assert.Equal(t, core.HealthError, failing.Health())
}

func TestPluginStartsBridge(t *testing.T) {
	cloud := newFakeCloud(t)
	cfg := pluginConfig(t, cloud)
	cfg.MQTT = &config.MQTTConfig{Broker: "tcp://mqtt.local", TopicPrefix: "gohome/aircloud", DiscoveryPrefix: "homeassistant"}

	broker := newFakeBroker()
	var dialed mqtt.Options
	plugin, _ := NewPlugin(cfg, climate.NewRegistry(), logging.Discard())
	plugin.dial = func(opts mqtt.Options, _ logrus.FieldLogger) (brokerConn, error) {
		dialed = opts
		return broker, nil
	}

	ctx := context.Background()
	require.NoError(t, plugin.Start(ctx))
	assert.Equal(t, core.HealthHealthy, plugin.Health())
	assert.Equal(t, "tcp://mqtt.local", dialed.Broker)
	assert.True(t, len(dialed.ClientID) > len("gohome-aircloud-"))

	topics := climate.TopicsFor("homeassistant", "gohome/aircloud", "climate.12")
	assert.True(t, broker.last(t, topics.Discovery).retain)

	require.NoError(t, plugin.Stop(ctx))
	assert.True(t, broker.closed)
	assert.Equal(t, climate.PayloadOffline, broker.last(t, topics.Availability).payload)
}

func TestPluginBridgeFailureDegrades(t *testing.T) {
	cloud := newFakeCloud(t)
	cfg := pluginConfig(t, cloud)
	cfg.MQTT = &config.MQTTConfig{Broker: "tcp://mqtt.local"}

	plugin, _ := NewPlugin(cfg, climate.NewRegistry(), logging.Discard())
	plugin.dial = func(mqtt.Options, logrus.FieldLogger) (brokerConn, error) {
		return nil, errors.New("connection refused")
	}
	ctx := context.Background()
	require.NoError(t, plugin.Start(ctx))
	defer plugin.Stop(ctx)
	assert.Equal(t, core.HealthDegraded, plugin.Health())
	assert.Contains(t, plugin.HealthMessage(), "connection refused")
}

func TestPluginInvalidSessionConfig(t *testing.T) {
	cloud := newFakeCloud(t)
	cfg := pluginConfig(t, cloud)
	cfg.Session.BlobEndpoint = "://bad"
	cfg.Session.BlobBucket = "b"
	cfg.Session.BlobAccessKeyFile = "/nonexistent/access"
	cfg.Session.BlobSecretKeyFile = "/nonexistent/secret"

	plugin, ok := NewPlugin(cfg, nil, logging.Discard())
	require.True(t, ok)
	assert.Equal(t, core.HealthError, plugin.Health())
	assert.Nil(t, plugin.Collectors())
	assert.NoError(t, plugin.Start(context.Background()))
}
