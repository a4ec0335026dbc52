package aircloud

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-aircloud/internal/climate"
)

// Broker is the MQTT surface the bridge needs.
type Broker interface {
	Publish(topic string, retain bool, payload []byte) error
	Subscribe(topic string, cb func([]byte)) (func(), error)
}

type BridgeOptions struct {
	DiscoveryPrefix string
	TopicPrefix     string
	Retain          bool
	CommandTimeout  time.Duration
}

// Bridge mirrors registry entities to MQTT and routes command topics back to
// the entities.
type Bridge struct {
	broker   Broker
	registry *climate.Registry
	opts     BridgeOptions
	logger   logrus.FieldLogger

	mu        sync.Mutex
	announced map[string]func()
	stopState func()
}

func NewBridge(broker Broker, registry *climate.Registry, opts BridgeOptions, logger logrus.FieldLogger) *Bridge {
	if opts.DiscoveryPrefix == "" {
		opts.DiscoveryPrefix = "homeassistant"
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "gohome/aircloud"
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bridge{
		broker:    broker,
		registry:  registry,
		opts:      opts,
		logger:    logger,
		announced: make(map[string]func()),
	}
}

func (b *Bridge) topics(uniqueID string) climate.Topics {
	return climate.TopicsFor(b.opts.DiscoveryPrefix, b.opts.TopicPrefix, uniqueID)
}

// Start announces every registered entity and follows state writes.
func (b *Bridge) Start(_ context.Context) error {
	b.mu.Lock()
	if b.stopState == nil {
		b.stopState = b.registry.Subscribe(b.onState)
	}
	b.mu.Unlock()
	return b.Sync()
}

// Sync announces entities registered since the last call.
func (b *Bridge) Sync() error {
	for _, entity := range b.registry.List() {
		if err := b.announce(entity); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bridge) announce(entity climate.Entity) error {
	id := entity.UniqueID()
	b.mu.Lock()
	_, done := b.announced[id]
	b.mu.Unlock()
	if done {
		return nil
	}

	state, err := entity.State()
	if err != nil {
		b.logger.WithField("entity", id).WithError(err).Warn("aircloud mqtt announce skipped")
		return nil
	}
	topics := b.topics(id)
	payload, err := json.Marshal(climate.Discovery(state, topics))
	if err != nil {
		return fmt.Errorf("encode discovery for %s: %w", id, err)
	}
	if err := b.broker.Publish(topics.Discovery, true, payload); err != nil {
		return fmt.Errorf("publish discovery for %s: %w", id, err)
	}

	var unsubs []func()
	for name, topic := range topics.Commands {
		unsub, err := b.broker.Subscribe(topic, b.commandHandler(id, name))
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		unsubs = append(unsubs, unsub)
	}

	b.mu.Lock()
	b.announced[id] = func() {
		for _, u := range unsubs {
			u()
		}
	}
	b.mu.Unlock()

	b.onState(state)
	b.logger.WithField("entity", id).Info("aircloud mqtt entity announced")
	return nil
}

func (b *Bridge) onState(state climate.State) {
	topics := b.topics(state.UniqueID)
	payload, err := json.Marshal(state)
	if err != nil {
		b.logger.WithField("entity", state.UniqueID).WithError(err).Warn("aircloud mqtt encode state failed")
		return
	}
	availability := climate.PayloadOffline
	if state.Available {
		availability = climate.PayloadOnline
	}
	if err := b.broker.Publish(topics.State, b.opts.Retain, payload); err != nil {
		b.logger.WithField("entity", state.UniqueID).WithError(err).Warn("aircloud mqtt publish state failed")
	}
	if err := b.broker.Publish(topics.Availability, true, []byte(availability)); err != nil {
		b.logger.WithField("entity", state.UniqueID).WithError(err).Warn("aircloud mqtt publish availability failed")
	}
}

func (b *Bridge) commandHandler(uniqueID, command string) func([]byte) {
	return func(payload []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.CommandTimeout)
		defer cancel()
		fields := logrus.Fields{"entity": uniqueID, "command": command}
		if err := b.HandleCommand(ctx, uniqueID, command, string(payload)); err != nil {
			b.logger.WithFields(fields).WithError(err).Warn("aircloud mqtt command failed")
			return
		}
		b.logger.WithFields(fields).Debug("aircloud mqtt command applied")
	}
}

// HandleCommand applies one command topic payload to an entity.
func (b *Bridge) HandleCommand(ctx context.Context, uniqueID, command, payload string) error {
	entity, err := b.registry.Get(uniqueID)
	if err != nil {
		return err
	}
	value := strings.TrimSpace(payload)

	switch command {
	case climate.CommandPower:
		switch strings.ToUpper(value) {
		case climate.PayloadOn:
			return entity.TurnOn(ctx)
		case climate.PayloadOff:
			return entity.TurnOff(ctx)
		}
		return fmt.Errorf("%w: power payload %q", climate.ErrInvalidArgument, value)
	case climate.CommandMode:
		mode, ok := climate.ParseHVACMode(value)
		if !ok {
			return fmt.Errorf("%w: hvac mode %q", climate.ErrUnsupportedValue, value)
		}
		return entity.SetHVACMode(ctx, mode)
	case climate.CommandFanMode:
		return entity.SetFanMode(ctx, value)
	case climate.CommandSwingMode:
		return entity.SetSwingMode(ctx, value)
	case climate.CommandTemperature:
		temperature, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: temperature %q", climate.ErrInvalidArgument, value)
		}
		return entity.SetTemperature(ctx, climate.TemperatureRequest{Temperature: &temperature})
	default:
		return fmt.Errorf("%w: command %q", climate.ErrInvalidArgument, command)
	}
}

// Stop drops command subscriptions and marks every announced entity offline.
func (b *Bridge) Stop() {
	b.mu.Lock()
	stopState := b.stopState
	b.stopState = nil
	announced := b.announced
	b.announced = make(map[string]func())
	b.mu.Unlock()

	if stopState != nil {
		stopState()
	}
	for id, unsub := range announced {
		unsub()
		if err := b.broker.Publish(b.topics(id).Availability, true, []byte(climate.PayloadOffline)); err != nil {
			b.logger.WithField("entity", id).WithError(err).Warn("aircloud mqtt publish offline failed")
		}
	}
}
