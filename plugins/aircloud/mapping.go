package aircloud

import (
	"fmt"

	"github.com/joshp123/gohome-aircloud/internal/climate"
)

const targetTemperatureStep = 1

// targetRange is the settable setpoint range for a temperature unit.
func targetRange(unit climate.TemperatureUnit) (low, high float64) {
	if unit == climate.Fahrenheit {
		return 61, 90
	}
	return 16, 32
}

var (
	fanModes   = []string{"AUTO", "LV1", "LV2", "LV3", "LV4", "LV5"}
	swingModes = []string{"OFF", "VERTICAL", "HORIZONTAL", "BOTH", "AUTO"}

	hvacModes = []climate.HVACMode{
		climate.HVACModeHeatCool,
		climate.HVACModeCool,
		climate.HVACModeDry,
		climate.HVACModeFanOnly,
		climate.HVACModeHeat,
		climate.HVACModeOff,
	}

	vendorToHVAC = map[string]climate.HVACMode{
		ModeAuto:       climate.HVACModeHeatCool,
		ModeCooling:    climate.HVACModeCool,
		ModeDeHumidify: climate.HVACModeDry,
		ModeFan:        climate.HVACModeFanOnly,
		ModeHeating:    climate.HVACModeHeat,
	}

	hvacToVendor = map[climate.HVACMode]string{
		climate.HVACModeHeatCool: ModeAuto,
		climate.HVACModeCool:     ModeCooling,
		climate.HVACModeDry:      ModeDeHumidify,
		climate.HVACModeFanOnly:  ModeFan,
		climate.HVACModeHeat:     ModeHeating,
	}

	supportedFeatures = climate.FeatureTargetTemperature |
		climate.FeatureFanMode |
		climate.FeatureSwingMode |
		climate.FeatureTurnOn |
		climate.FeatureTurnOff
)

// hvacMode maps the unit's power and mode onto the host mode.
func hvacMode(unit InteriorUnit) (climate.HVACMode, error) {
	if unit.Power == PowerOff {
		return climate.HVACModeOff, nil
	}
	mode, ok := vendorToHVAC[unit.Mode]
	if !ok {
		return "", fmt.Errorf("%w: unexpected mode %q", climate.ErrUnsupportedValue, unit.Mode)
	}
	return mode, nil
}

// vendorMode is the reverse lookup; off has no vendor mode.
func vendorMode(mode climate.HVACMode) (string, error) {
	vendor, ok := hvacToVendor[mode]
	if !ok {
		return "", fmt.Errorf("%w: unmanaged hvac mode %q", climate.ErrUnsupportedValue, mode)
	}
	return vendor, nil
}

func temperatureUnit(raw string) (climate.TemperatureUnit, error) {
	switch raw {
	case UnitCelsius:
		return climate.Celsius, nil
	case UnitFahrenheit:
		return climate.Fahrenheit, nil
	default:
		return "", fmt.Errorf("%w: unexpected temperature unit %q", climate.ErrUnsupportedValue, raw)
	}
}
