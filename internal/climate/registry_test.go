package climate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEntity struct {
	id    string
	state State
	err   error
}

func (s *stubEntity) UniqueID() string { return s.id }

func (s *stubEntity) State() (State, error) {
	if s.err != nil {
		return State{}, s.err
	}
	state := s.state
	state.UniqueID = s.id
	return state, nil
}

func (s *stubEntity) SetHVACMode(context.Context, HVACMode) error             { return nil }
func (s *stubEntity) SetFanMode(context.Context, string) error                { return nil }
func (s *stubEntity) SetSwingMode(context.Context, string) error              { return nil }
func (s *stubEntity) SetTemperature(context.Context, TemperatureRequest) error { return nil }
func (s *stubEntity) TurnOn(context.Context) error                            { return nil }
func (s *stubEntity) TurnOff(context.Context) error                           { return nil }

func TestRegistryAddRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Add(&stubEntity{id: "climate.1"}))

	err := registry.Add(&stubEntity{id: "climate.2"}, &stubEntity{id: "climate.1"})
	require.ErrorIs(t, err, ErrDuplicateEntity)

	_, err = registry.Get("climate.2")
	assert.ErrorIs(t, err, ErrEntityNotFound, "partial adds must not leak")
}

func TestRegistryListIsSorted(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Add(&stubEntity{id: "climate.9"}, &stubEntity{id: "climate.10"}, &stubEntity{id: "climate.1"}))

	var ids []string
	for _, entity := range registry.List() {
		ids = append(ids, entity.UniqueID())
	}
	assert.Equal(t, []string{"climate.1", "climate.10", "climate.9"}, ids)
}

func TestRegistryWriteStateNotifiesListeners(t *testing.T) {
	registry := NewRegistry()
	entity := &stubEntity{id: "climate.7", state: State{Name: "Bedroom", HVACMode: HVACModeCool}}
	require.NoError(t, registry.Add(entity))

	var got []State
	cancel := registry.Subscribe(func(state State) { got = append(got, state) })

	require.NoError(t, registry.WriteState(entity))
	require.Len(t, got, 1)
	assert.Equal(t, "climate.7", got[0].UniqueID)
	assert.Equal(t, HVACModeCool, got[0].HVACMode)

	cancel()
	require.NoError(t, registry.WriteState(entity))
	assert.Len(t, got, 1)
}

func TestRegistryWriteStateUnknownEntity(t *testing.T) {
	registry := NewRegistry()
	err := registry.WriteState(&stubEntity{id: "climate.3"})
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestRegistryStatesCollectsErrors(t *testing.T) {
	registry := NewRegistry()
	boom := errors.New("unexpected mode")
	require.NoError(t, registry.Add(&stubEntity{id: "climate.1"}, &stubEntity{id: "climate.2", err: boom}))

	states, errs := registry.States()
	require.Len(t, states, 1)
	assert.Equal(t, "climate.1", states[0].UniqueID)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestServiceErrorWrapsOnce(t *testing.T) {
	cause := errors.New("cloud said no")
	err := NewServiceError("climate.1", "set_fan_mode", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "set_fan_mode climate.1: cloud said no", err.Error())

	again := NewServiceError("climate.1", "turn_on", err)
	assert.Same(t, err, again)
	assert.NoError(t, NewServiceError("climate.1", "noop", nil))
}

func TestFeatureNames(t *testing.T) {
	features := FeatureTargetTemperature | FeatureFanMode | FeatureTurnOff
	assert.True(t, features.Has(FeatureFanMode))
	assert.False(t, features.Has(FeatureSwingMode))
	assert.Equal(t, "target_temperature|fan_mode|turn_off", features.String())
}

func TestParseHVACMode(t *testing.T) {
	mode, ok := ParseHVACMode(" Heat_Cool ")
	require.True(t, ok)
	assert.Equal(t, HVACModeHeatCool, mode)

	_, ok = ParseHVACMode("eco")
	assert.False(t, ok)
}
