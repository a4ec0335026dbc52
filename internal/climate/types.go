package climate

import (
	"context"
	"strings"
	"time"
)

// HVACMode is the host operating mode of a climate entity.
type HVACMode string

const (
	HVACModeOff      HVACMode = "off"
	HVACModeHeat     HVACMode = "heat"
	HVACModeCool     HVACMode = "cool"
	HVACModeHeatCool HVACMode = "heat_cool"
	HVACModeAuto     HVACMode = "auto"
	HVACModeDry      HVACMode = "dry"
	HVACModeFanOnly  HVACMode = "fan_only"
)

var hvacModes = []HVACMode{
	HVACModeOff,
	HVACModeHeat,
	HVACModeCool,
	HVACModeHeatCool,
	HVACModeAuto,
	HVACModeDry,
	HVACModeFanOnly,
}

// ParseHVACMode accepts the canonical mode names, case-insensitively.
func ParseHVACMode(raw string) (HVACMode, bool) {
	needle := strings.ToLower(strings.TrimSpace(raw))
	for _, mode := range hvacModes {
		if string(mode) == needle {
			return mode, true
		}
	}
	return "", false
}

// HVACAction reports what the unit is currently doing.
type HVACAction string

const (
	HVACActionOff     HVACAction = "off"
	HVACActionHeating HVACAction = "heating"
	HVACActionCooling HVACAction = "cooling"
	HVACActionDrying  HVACAction = "drying"
	HVACActionFan     HVACAction = "fan"
	HVACActionIdle    HVACAction = "idle"
)

// TemperatureUnit is the unit temperatures are reported and accepted in.
type TemperatureUnit string

const (
	Celsius    TemperatureUnit = "°C"
	Fahrenheit TemperatureUnit = "°F"
)

// EntityFeature is a bit set of optional climate capabilities.
type EntityFeature uint32

const (
	FeatureTargetTemperature EntityFeature = 1 << iota
	FeatureTargetTemperatureRange
	FeatureTargetHumidity
	FeatureFanMode
	FeaturePresetMode
	FeatureSwingMode
	FeatureTurnOn
	FeatureTurnOff
)

var featureNames = []struct {
	flag EntityFeature
	name string
}{
	{FeatureTargetTemperature, "target_temperature"},
	{FeatureTargetTemperatureRange, "target_temperature_range"},
	{FeatureTargetHumidity, "target_humidity"},
	{FeatureFanMode, "fan_mode"},
	{FeaturePresetMode, "preset_mode"},
	{FeatureSwingMode, "swing_mode"},
	{FeatureTurnOn, "turn_on"},
	{FeatureTurnOff, "turn_off"},
}

func (f EntityFeature) Has(flag EntityFeature) bool {
	return f&flag == flag
}

// Names lists the set features in declaration order.
func (f EntityFeature) Names() []string {
	out := make([]string, 0, len(featureNames))
	for _, entry := range featureNames {
		if f.Has(entry.flag) {
			out = append(out, entry.name)
		}
	}
	return out
}

func (f EntityFeature) String() string {
	return strings.Join(f.Names(), "|")
}

// DeviceRef identifies a device inside an integration domain.
type DeviceRef struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
}

// DeviceInfo links an entity to the physical device behind it.
type DeviceInfo struct {
	Identifiers  []DeviceRef `json:"identifiers"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer,omitempty"`
	Model        string      `json:"model,omitempty"`
	ViaDevice    *DeviceRef  `json:"via_device,omitempty"`
}

// State is a point-in-time snapshot of a climate entity.
type State struct {
	UniqueID  string     `json:"unique_id"`
	Name      string     `json:"name"`
	Available bool       `json:"available"`
	Device    DeviceInfo `json:"device"`

	HVACMode   HVACMode   `json:"hvac_mode"`
	HVACModes  []HVACMode `json:"hvac_modes"`
	HVACAction HVACAction `json:"hvac_action,omitempty"`

	CurrentTemperature *float64 `json:"current_temperature,omitempty"`
	CurrentHumidity    *float64 `json:"current_humidity,omitempty"`

	TargetTemperature     *float64 `json:"target_temperature,omitempty"`
	TargetTemperatureLow  float64  `json:"target_temperature_low"`
	TargetTemperatureHigh float64  `json:"target_temperature_high"`
	TargetTemperatureStep float64  `json:"target_temperature_step"`

	FanMode    string   `json:"fan_mode,omitempty"`
	FanModes   []string `json:"fan_modes,omitempty"`
	SwingMode  string   `json:"swing_mode,omitempty"`
	SwingModes []string `json:"swing_modes,omitempty"`

	TemperatureUnit   TemperatureUnit `json:"temperature_unit"`
	SupportedFeatures EntityFeature   `json:"supported_features"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TemperatureRequest carries the arguments of a set-temperature call.
type TemperatureRequest struct {
	Temperature *float64
	HVACMode    *HVACMode
}

// Entity is a controllable climate device.
type Entity interface {
	UniqueID() string
	State() (State, error)
	SetHVACMode(ctx context.Context, mode HVACMode) error
	SetFanMode(ctx context.Context, mode string) error
	SetSwingMode(ctx context.Context, mode string) error
	SetTemperature(ctx context.Context, req TemperatureRequest) error
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}
