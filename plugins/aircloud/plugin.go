package aircloud

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/joshp123/gohome-aircloud/internal/climate"
	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/core"
	"github.com/joshp123/gohome-aircloud/internal/mqtt"
	"github.com/joshp123/gohome-aircloud/internal/session"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

// brokerConn is a connected broker the plugin owns.
type brokerConn interface {
	Broker
	Close()
}

type brokerDialer func(opts mqtt.Options, logger logrus.FieldLogger) (brokerConn, error)

func dialBroker(opts mqtt.Options, logger logrus.FieldLogger) (brokerConn, error) {
	client, err := mqtt.Connect(opts, logger)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Plugin implements the GoHome plugin contract.
type Plugin struct {
	mqttCfg     *config.MQTTConfig
	accounts    []config.AirCloudAccount
	integration *Integration
	logger      logrus.FieldLogger
	dial        brokerDialer

	mu            sync.RWMutex
	health        core.HealthStatus
	healthMessage string
	bridge        *Bridge
	broker        brokerConn
}

var (
	_ core.Plugin    = (*Plugin)(nil)
	_ core.Lifecycle = (*Plugin)(nil)
)

// NewPlugin constructs the AirCloud plugin from config. The bool is false
// when the aircloud section is absent.
func NewPlugin(cfg *config.Config, registry *climate.Registry, logger logrus.FieldLogger) (*Plugin, bool) {
	if cfg == nil || cfg.AirCloud == nil {
		return nil, false
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("plugin", Domain)
	plugin := &Plugin{mqttCfg: cfg.MQTT, logger: logger, dial: dialBroker, health: core.HealthHealthy}

	runtimeCfg, err := ConfigFromFile(cfg.AirCloud)
	if err != nil {
		plugin.setHealth(core.HealthError, err.Error())
		return plugin, true
	}
	blob, err := session.NewBlobStore(cfg.Session)
	if err != nil {
		plugin.setHealth(core.HealthError, err.Error())
		return plugin, true
	}
	if registry == nil {
		registry = climate.NewRegistry()
	}
	plugin.accounts = runtimeCfg.Accounts
	plugin.integration = NewIntegration(runtimeCfg, cfg.Session, blob, registry, logger)
	return plugin, true
}

func (p *Plugin) ID() string {
	return Domain
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    Domain,
		DisplayName: "Hitachi AirCloud",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "aircloud-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) error {
	return RegisterAirCloudService(server, p.integration)
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.integration == nil {
		return nil
	}
	return []prometheus.Collector{NewMetricsCollector(p.integration)}
}

func (p *Plugin) Health() core.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *Plugin) HealthMessage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthMessage
}

func (p *Plugin) Integration() *Integration {
	return p.integration
}

func (p *Plugin) setHealth(status core.HealthStatus, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = status
	p.healthMessage = message
}

// Start sets up every configured account and the MQTT bridge. Account
// failures degrade health instead of failing the daemon.
func (p *Plugin) Start(ctx context.Context) error {
	if p.integration == nil {
		return nil
	}

	var failures []string
	for _, account := range p.accounts {
		if err := p.integration.SetupEntry(ctx, account); err != nil {
			if errors.Is(err, ErrAlreadyConfigured) {
				continue
			}
			p.logger.WithField("account", account.UniqueID()).WithError(err).Error("aircloud setup failed")
			failures = append(failures, fmt.Sprintf("%s: %v", account.UniqueID(), err))
		}
	}

	switch {
	case len(failures) == 0:
		p.setHealth(core.HealthHealthy, "")
	case len(failures) == len(p.accounts):
		p.setHealth(core.HealthError, strings.Join(failures, "; "))
		return nil
	default:
		p.setHealth(core.HealthDegraded, strings.Join(failures, "; "))
	}

	if p.mqttCfg != nil {
		if err := p.startBridge(ctx); err != nil {
			p.logger.WithError(err).Error("aircloud mqtt bridge failed")
			p.setHealth(core.HealthDegraded, strings.Join(append(failures, "mqtt: "+err.Error()), "; "))
		}
	}
	return nil
}

func (p *Plugin) startBridge(ctx context.Context) error {
	opts := mqtt.Options{
		Broker:   p.mqttCfg.Broker,
		Username: p.mqttCfg.Username,
		ClientID: p.mqttCfg.ClientID,
	}
	if opts.ClientID == "" {
		opts.ClientID = mqtt.ClientID("gohome-aircloud")
	}
	if p.mqttCfg.PasswordFile != "" {
		password, err := config.ReadSecretFile(p.mqttCfg.PasswordFile)
		if err != nil {
			return err
		}
		opts.Password = password
	}

	broker, err := p.dial(opts, p.logger)
	if err != nil {
		return err
	}
	bridge := NewBridge(broker, p.integration.Registry(), BridgeOptions{
		DiscoveryPrefix: p.mqttCfg.DiscoveryPrefix,
		TopicPrefix:     p.mqttCfg.TopicPrefix,
		Retain:          p.mqttCfg.Retain,
		CommandTimeout:  p.integration.cfg.RequestTimeout + 5*time.Second,
	}, p.logger)
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		broker.Close()
		return err
	}

	p.mu.Lock()
	p.bridge = bridge
	p.broker = broker
	p.mu.Unlock()
	return nil
}

// Stop tears down the bridge and unloads every entry.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	bridge, broker := p.bridge, p.broker
	p.bridge, p.broker = nil, nil
	p.mu.Unlock()

	if bridge != nil {
		bridge.Stop()
	}
	if broker != nil {
		broker.Close()
	}
	if p.integration != nil {
		p.integration.UnloadAll(ctx)
	}
	return nil
}
