package aircloud

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-aircloud/internal/climate"
)

type fakeController struct {
	unit     string
	commands []Command
	err      error
}

func (f *fakeController) Set(_ context.Context, _ int, cmd Command) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeController) TemperatureUnit() string { return f.unit }

func (f *fakeController) Email() string { return testEmail }

func (f *fakeController) last(t *testing.T) Command {
	t.Helper()
	require.NotEmpty(t, f.commands)
	return f.commands[len(f.commands)-1]
}

type countingRefresher struct{ requests int }

func (c *countingRefresher) RequestRefresh() { c.requests++ }

func livingRoom() InteriorUnit {
	return InteriorUnit{
		ID:                   12,
		Name:                 "Living room",
		Vendor:               "hitachi-12",
		ModelID:              "RAK-25",
		Online:               true,
		Power:                PowerOn,
		Mode:                 ModeCooling,
		FanSpeed:             "LV2",
		FanSwing:             "OFF",
		RoomTemperature:      24.5,
		RequestedTemperature: 22,
		UpdatedAt:            time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func newTestEntity(unit InteriorUnit) (*HitachiAcUnit, *fakeController, *countingRefresher) {
	ac := &fakeController{unit: UnitCelsius}
	refresher := &countingRefresher{}
	return NewHitachiAcUnit(ac, nil, refresher, unit), ac, refresher
}

func TestEntityState(t *testing.T) {
	entity, _, _ := newTestEntity(livingRoom())

	state, err := entity.State()
	require.NoError(t, err)
	assert.Equal(t, "climate.12", state.UniqueID)
	assert.Equal(t, "Living room", state.Name)
	assert.True(t, state.Available)
	assert.Equal(t, climate.HVACModeCool, state.HVACMode)
	assert.Equal(t, []climate.HVACMode{"heat_cool", "cool", "dry", "fan_only", "heat", "off"}, state.HVACModes)
	assert.Equal(t, 24.5, *state.CurrentTemperature)
	assert.Equal(t, 22.0, *state.TargetTemperature)
	assert.Equal(t, 16.0, state.TargetTemperatureLow)
	assert.Equal(t, 32.0, state.TargetTemperatureHigh)
	assert.Equal(t, 1.0, state.TargetTemperatureStep)
	assert.Equal(t, "LV2", state.FanMode)
	assert.Equal(t, "OFF", state.SwingMode)
	assert.Equal(t, climate.Celsius, state.TemperatureUnit)
	assert.True(t, state.SupportedFeatures.Has(climate.FeatureFanMode))
	assert.False(t, state.SupportedFeatures.Has(climate.FeaturePresetMode))

	assert.Equal(t, []climate.DeviceRef{{Domain: Domain, ID: "climate.12"}}, state.Device.Identifiers)
	assert.Equal(t, "RAK-25", state.Device.Model)
	require.NotNil(t, state.Device.ViaDevice)
	assert.Equal(t, testEmail, state.Device.ViaDevice.ID)
}

func TestEntityStateModeMapping(t *testing.T) {
	cases := map[string]climate.HVACMode{
		ModeAuto:       climate.HVACModeHeatCool,
		ModeCooling:    climate.HVACModeCool,
		ModeDeHumidify: climate.HVACModeDry,
		ModeFan:        climate.HVACModeFanOnly,
		ModeHeating:    climate.HVACModeHeat,
	}
	for vendor, want := range cases {
		unit := livingRoom()
		unit.Mode = vendor
		got, err := hvacMode(unit)
		require.NoError(t, err, vendor)
		assert.Equal(t, want, got, vendor)
	}

	off := livingRoom()
	off.Power = PowerOff
	got, err := hvacMode(off)
	require.NoError(t, err)
	assert.Equal(t, climate.HVACModeOff, got)

	odd := livingRoom()
	odd.Mode = "TURBO"
	_, err = hvacMode(odd)
	assert.ErrorIs(t, err, climate.ErrUnsupportedValue)
}

func TestEntityStateRejectsUnknownTemperatureUnit(t *testing.T) {
	entity, ac, _ := newTestEntity(livingRoom())
	ac.unit = "KELVIN"
	_, err := entity.State()
	assert.ErrorIs(t, err, climate.ErrUnsupportedValue)

	ac.unit = UnitFahrenheit
	state, err := entity.State()
	require.NoError(t, err)
	assert.Equal(t, climate.Fahrenheit, state.TemperatureUnit)
}

func TestEntitySetHVACMode(t *testing.T) {
	entity, ac, refresher := newTestEntity(livingRoom())
	ctx := context.Background()

	require.NoError(t, entity.SetHVACMode(ctx, climate.HVACModeHeat))
	assert.Equal(t, Command{OperatingMode: ModeHeating, Power: PowerOn}, ac.last(t))

	require.NoError(t, entity.SetHVACMode(ctx, climate.HVACModeOff))
	assert.Equal(t, Command{Power: PowerOff}, ac.last(t))
	assert.Equal(t, 2, refresher.requests)

	err := entity.SetHVACMode(ctx, climate.HVACModeAuto)
	assert.ErrorIs(t, err, climate.ErrUnsupportedValue)
	var serviceErr *climate.ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "set_hvac_mode", serviceErr.Operation)
	assert.Len(t, ac.commands, 2)
}

func TestEntitySetFanAndSwing(t *testing.T) {
	entity, ac, _ := newTestEntity(livingRoom())
	ctx := context.Background()

	require.NoError(t, entity.SetFanMode(ctx, "LV5"))
	assert.Equal(t, Command{FanSpeed: "LV5"}, ac.last(t))
	require.NoError(t, entity.SetSwingMode(ctx, "BOTH"))
	assert.Equal(t, Command{FanSwing: "BOTH"}, ac.last(t))

	assert.ErrorIs(t, entity.SetFanMode(ctx, "LV9"), climate.ErrUnsupportedValue)
	assert.ErrorIs(t, entity.SetSwingMode(ctx, "DIAGONAL"), climate.ErrUnsupportedValue)
	assert.Len(t, ac.commands, 2)
}

func TestEntitySetTemperature(t *testing.T) {
	entity, ac, _ := newTestEntity(livingRoom())
	ctx := context.Background()

	require.NoError(t, entity.SetTemperature(ctx, climate.TemperatureRequest{Temperature: ptr(21.5)}))
	assert.Equal(t, 21.5, *ac.last(t).RequestedTemperature)
	assert.Empty(t, ac.last(t).Power)

	mode := climate.HVACModeDry
	require.NoError(t, entity.SetTemperature(ctx, climate.TemperatureRequest{Temperature: ptr(20.0), HVACMode: &mode}))
	last := ac.last(t)
	assert.Equal(t, ModeDeHumidify, last.OperatingMode)
	assert.Equal(t, PowerOn, last.Power)

	assert.ErrorIs(t, entity.SetTemperature(ctx, climate.TemperatureRequest{}), climate.ErrMissingArgument)
	assert.ErrorIs(t, entity.SetTemperature(ctx, climate.TemperatureRequest{Temperature: ptr(40.0)}), climate.ErrInvalidArgument)
	assert.ErrorIs(t, entity.SetTemperature(ctx, climate.TemperatureRequest{Temperature: ptr(15.9)}), climate.ErrInvalidArgument)
	assert.ErrorIs(t, entity.SetTemperature(ctx, climate.TemperatureRequest{Temperature: ptr(math.NaN())}), climate.ErrInvalidArgument)
	assert.ErrorIs(t, entity.SetTemperature(ctx, climate.TemperatureRequest{Temperature: ptr(math.Inf(1))}), climate.ErrInvalidArgument)
	assert.Len(t, ac.commands, 2)
}

func TestEntityFahrenheitAccount(t *testing.T) {
	unit := livingRoom()
	unit.RequestedTemperature = 72
	entity, ac, _ := newTestEntity(unit)
	ac.unit = UnitFahrenheit
	ctx := context.Background()

	state, err := entity.State()
	require.NoError(t, err)
	assert.Equal(t, climate.Fahrenheit, state.TemperatureUnit)
	assert.Equal(t, 61.0, state.TargetTemperatureLow)
	assert.Equal(t, 90.0, state.TargetTemperatureHigh)
	assert.GreaterOrEqual(t, *state.TargetTemperature, state.TargetTemperatureLow)
	assert.LessOrEqual(t, *state.TargetTemperature, state.TargetTemperatureHigh)

	require.NoError(t, entity.SetTemperature(ctx, climate.TemperatureRequest{Temperature: ptr(74.0)}))
	assert.Equal(t, 74.0, *ac.last(t).RequestedTemperature)
	assert.ErrorIs(t, entity.SetTemperature(ctx, climate.TemperatureRequest{Temperature: ptr(22.0)}), climate.ErrInvalidArgument)
	assert.Len(t, ac.commands, 1)
}

func TestEntityMarkUnavailable(t *testing.T) {
	registry := climate.NewRegistry()
	entity := NewHitachiAcUnit(&fakeController{unit: UnitCelsius}, registry, nil, livingRoom())
	require.NoError(t, registry.Add(entity))

	var states []climate.State
	defer registry.Subscribe(func(state climate.State) { states = append(states, state) })()

	require.NoError(t, entity.MarkUnavailable())
	require.Len(t, states, 1)
	assert.False(t, states[0].Available)
}

func TestEntityTurnOnOff(t *testing.T) {
	entity, ac, _ := newTestEntity(livingRoom())
	require.NoError(t, entity.TurnOff(context.Background()))
	assert.Equal(t, Command{Power: PowerOff}, ac.last(t))
	require.NoError(t, entity.TurnOn(context.Background()))
	assert.Equal(t, Command{Power: PowerOn}, ac.last(t))
}

func TestEntityCommandErrorWrapsServiceError(t *testing.T) {
	entity, ac, refresher := newTestEntity(livingRoom())
	ac.err = connectionFailed("set", errors.New("timeout"))

	err := entity.TurnOn(context.Background())
	assert.ErrorIs(t, err, ErrConnectionFailed)
	var serviceErr *climate.ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "climate.12", serviceErr.EntityID)
	assert.Zero(t, refresher.requests)
}

func TestEntityHandleUpdate(t *testing.T) {
	registry := climate.NewRegistry()
	ac := &fakeController{unit: UnitCelsius}
	entity := NewHitachiAcUnit(ac, registry, nil, livingRoom())
	require.NoError(t, registry.Add(entity))

	var states []climate.State
	defer registry.Subscribe(func(state climate.State) { states = append(states, state) })()

	update := livingRoom()
	update.Power = PowerOff
	require.NoError(t, entity.HandleUpdate(update))
	require.Len(t, states, 1)
	assert.Equal(t, climate.HVACModeOff, states[0].HVACMode)

	other := livingRoom()
	other.ID = 13
	assert.ErrorIs(t, entity.HandleUpdate(other), climate.ErrInvalidArgument)
	assert.Equal(t, PowerOff, entity.Unit().Power)
}
