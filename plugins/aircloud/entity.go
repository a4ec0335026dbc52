package aircloud

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/joshp123/gohome-aircloud/internal/climate"
)

const Domain = "aircloud"

// Controller is the part of the client an entity drives.
type Controller interface {
	Set(ctx context.Context, unitID int, cmd Command) error
	TemperatureUnit() string
	Email() string
}

// Refresher is told to poll soon after a command.
type Refresher interface {
	RequestRefresh()
}

// HitachiAcUnit exposes one interior unit as a climate entity.
type HitachiAcUnit struct {
	ac        Controller
	registry  *climate.Registry
	refresher Refresher

	mu   sync.RWMutex
	unit InteriorUnit
}

var _ climate.Entity = (*HitachiAcUnit)(nil)

func NewHitachiAcUnit(ac Controller, registry *climate.Registry, refresher Refresher, unit InteriorUnit) *HitachiAcUnit {
	return &HitachiAcUnit{ac: ac, registry: registry, refresher: refresher, unit: unit}
}

func UniqueIDFor(unitID int) string {
	return fmt.Sprintf("climate.%d", unitID)
}

func (e *HitachiAcUnit) UniqueID() string {
	return UniqueIDFor(e.UnitID())
}

func (e *HitachiAcUnit) UnitID() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unit.ID
}

// Unit returns the last state the entity was given.
func (e *HitachiAcUnit) Unit() InteriorUnit {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unit
}

// HandleUpdate replaces the unit state and pushes it to the registry.
func (e *HitachiAcUnit) HandleUpdate(unit InteriorUnit) error {
	e.mu.Lock()
	if unit.ID != e.unit.ID {
		current := e.unit.ID
		e.mu.Unlock()
		return fmt.Errorf("%w: update for unit %d sent to unit %d", climate.ErrInvalidArgument, unit.ID, current)
	}
	e.unit = unit
	e.mu.Unlock()

	if e.registry == nil {
		return nil
	}
	return e.registry.WriteState(e)
}

// MarkUnavailable flags the unit offline after the cloud stopped listing it.
func (e *HitachiAcUnit) MarkUnavailable() error {
	e.mu.Lock()
	e.unit.Online = false
	e.mu.Unlock()

	if e.registry == nil {
		return nil
	}
	return e.registry.WriteState(e)
}

func (e *HitachiAcUnit) DeviceInfo() climate.DeviceInfo {
	unit := e.Unit()
	return climate.DeviceInfo{
		Identifiers:  []climate.DeviceRef{{Domain: Domain, ID: UniqueIDFor(unit.ID)}},
		Name:         unit.Name,
		Manufacturer: unit.Vendor,
		Model:        unit.ModelID,
		ViaDevice:    &climate.DeviceRef{Domain: Domain, ID: e.ac.Email()},
	}
}

// State maps the unit onto the climate schema. An unmapped vendor mode or
// temperature unit is an error.
func (e *HitachiAcUnit) State() (climate.State, error) {
	unit := e.Unit()
	mode, err := hvacMode(unit)
	if err != nil {
		return climate.State{}, err
	}
	tempUnit, err := temperatureUnit(e.ac.TemperatureUnit())
	if err != nil {
		return climate.State{}, err
	}
	current := unit.RoomTemperature
	target := unit.RequestedTemperature
	low, high := targetRange(tempUnit)
	updated := unit.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	return climate.State{
		UniqueID:  UniqueIDFor(unit.ID),
		Name:      unit.Name,
		Available: unit.Online,
		Device:    e.DeviceInfo(),

		HVACMode:  mode,
		HVACModes: slices.Clone(hvacModes),

		CurrentTemperature: &current,

		TargetTemperature:     &target,
		TargetTemperatureLow:  low,
		TargetTemperatureHigh: high,
		TargetTemperatureStep: targetTemperatureStep,

		FanMode:    unit.FanSpeed,
		FanModes:   slices.Clone(fanModes),
		SwingMode:  unit.FanSwing,
		SwingModes: slices.Clone(swingModes),

		TemperatureUnit:   tempUnit,
		SupportedFeatures: supportedFeatures,
		UpdatedAt:         updated,
	}, nil
}

func (e *HitachiAcUnit) SetHVACMode(ctx context.Context, mode climate.HVACMode) error {
	if mode == climate.HVACModeOff {
		return e.send(ctx, "set_hvac_mode", Command{Power: PowerOff})
	}
	vendor, err := vendorMode(mode)
	if err != nil {
		return climate.NewServiceError(e.UniqueID(), "set_hvac_mode", err)
	}
	return e.send(ctx, "set_hvac_mode", Command{OperatingMode: vendor, Power: PowerOn})
}

func (e *HitachiAcUnit) SetFanMode(ctx context.Context, mode string) error {
	if !slices.Contains(fanModes, mode) {
		return climate.NewServiceError(e.UniqueID(), "set_fan_mode", fmt.Errorf("%w: fan mode %q", climate.ErrUnsupportedValue, mode))
	}
	return e.send(ctx, "set_fan_mode", Command{FanSpeed: mode})
}

func (e *HitachiAcUnit) SetSwingMode(ctx context.Context, mode string) error {
	if !slices.Contains(swingModes, mode) {
		return climate.NewServiceError(e.UniqueID(), "set_swing_mode", fmt.Errorf("%w: swing mode %q", climate.ErrUnsupportedValue, mode))
	}
	return e.send(ctx, "set_swing_mode", Command{FanSwing: mode})
}

// SetTemperature requires a temperature; an accompanying hvac mode is sent
// in the same command.
func (e *HitachiAcUnit) SetTemperature(ctx context.Context, req climate.TemperatureRequest) error {
	const op = "set_temperature"
	if req.Temperature == nil {
		return climate.NewServiceError(e.UniqueID(), op, fmt.Errorf("%w: temperature", climate.ErrMissingArgument))
	}
	temperature := *req.Temperature
	if math.IsNaN(temperature) || math.IsInf(temperature, 0) {
		return climate.NewServiceError(e.UniqueID(), op, fmt.Errorf("%w: temperature %v is not a number", climate.ErrInvalidArgument, temperature))
	}
	tempUnit, err := temperatureUnit(e.ac.TemperatureUnit())
	if err != nil {
		return climate.NewServiceError(e.UniqueID(), op, err)
	}
	if low, high := targetRange(tempUnit); temperature < low || temperature > high {
		return climate.NewServiceError(e.UniqueID(), op, fmt.Errorf("%w: temperature %.1f outside [%g, %g]", climate.ErrInvalidArgument, temperature, low, high))
	}

	cmd := Command{RequestedTemperature: &temperature}
	if req.HVACMode != nil {
		if *req.HVACMode == climate.HVACModeOff {
			cmd.Power = PowerOff
		} else {
			vendor, err := vendorMode(*req.HVACMode)
			if err != nil {
				return climate.NewServiceError(e.UniqueID(), op, err)
			}
			cmd.OperatingMode = vendor
			cmd.Power = PowerOn
		}
	}
	return e.send(ctx, op, cmd)
}

func (e *HitachiAcUnit) TurnOn(ctx context.Context) error {
	return e.send(ctx, "turn_on", Command{Power: PowerOn})
}

func (e *HitachiAcUnit) TurnOff(ctx context.Context) error {
	return e.send(ctx, "turn_off", Command{Power: PowerOff})
}

func (e *HitachiAcUnit) send(ctx context.Context, op string, cmd Command) error {
	if err := e.ac.Set(ctx, e.UnitID(), cmd); err != nil {
		return climate.NewServiceError(e.UniqueID(), op, err)
	}
	if e.refresher != nil {
		e.refresher.RequestRefresh()
	}
	return nil
}
