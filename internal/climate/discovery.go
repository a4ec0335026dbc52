package climate

import "strings"

// Command topic suffixes understood by the MQTT bridge.
const (
	CommandMode        = "mode"
	CommandFanMode     = "fan_mode"
	CommandSwingMode   = "swing_mode"
	CommandTemperature = "temperature"
	CommandPower       = "power"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "ON"
	PayloadOff     = "OFF"
)

// Topics are the MQTT topics used for one entity.
type Topics struct {
	Discovery    string
	State        string
	Availability string
	Commands     map[string]string
}

// TopicsFor builds the topic layout for an entity under prefix.
func TopicsFor(discoveryPrefix, prefix, uniqueID string) Topics {
	object := ObjectID(uniqueID)
	base := strings.TrimSuffix(prefix, "/") + "/" + object
	commands := make(map[string]string, 5)
	for _, name := range []string{CommandMode, CommandFanMode, CommandSwingMode, CommandTemperature, CommandPower} {
		commands[name] = base + "/" + name + "/set"
	}
	return Topics{
		Discovery:    strings.TrimSuffix(discoveryPrefix, "/") + "/climate/" + object + "/config",
		State:        base + "/state",
		Availability: base + "/availability",
		Commands:     commands,
	}
}

// ObjectID flattens a unique id into a topic-safe token.
func ObjectID(uniqueID string) string {
	replacer := strings.NewReplacer(".", "_", "/", "_", " ", "_", "#", "_", "+", "_")
	return strings.ToLower(replacer.Replace(uniqueID))
}

// DiscoveryDevice is the device block of an MQTT discovery payload.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// DiscoveryConfig is the MQTT climate discovery document.
type DiscoveryConfig struct {
	Name     string          `json:"name"`
	UniqueID string          `json:"unique_id"`
	ObjectID string          `json:"object_id"`
	Device   DiscoveryDevice `json:"device"`

	AvailabilityTopic   string `json:"availability_topic"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
	JSONAttributesTopic string `json:"json_attributes_topic"`

	ModeCommandTopic string   `json:"mode_command_topic"`
	ModeStateTopic   string   `json:"mode_state_topic"`
	ModeStateTmpl    string   `json:"mode_state_template"`
	Modes            []string `json:"modes"`

	FanModeCommandTopic string   `json:"fan_mode_command_topic,omitempty"`
	FanModeStateTopic   string   `json:"fan_mode_state_topic,omitempty"`
	FanModeStateTmpl    string   `json:"fan_mode_state_template,omitempty"`
	FanModes            []string `json:"fan_modes,omitempty"`

	SwingModeCommandTopic string   `json:"swing_mode_command_topic,omitempty"`
	SwingModeStateTopic   string   `json:"swing_mode_state_topic,omitempty"`
	SwingModeStateTmpl    string   `json:"swing_mode_state_template,omitempty"`
	SwingModes            []string `json:"swing_modes,omitempty"`

	TemperatureCommandTopic string  `json:"temperature_command_topic,omitempty"`
	TemperatureStateTopic   string  `json:"temperature_state_topic,omitempty"`
	TemperatureStateTmpl    string  `json:"temperature_state_template,omitempty"`
	CurrentTemperatureTopic string  `json:"current_temperature_topic"`
	CurrentTemperatureTmpl  string  `json:"current_temperature_template"`
	MinTemp                 float64 `json:"min_temp"`
	MaxTemp                 float64 `json:"max_temp"`
	TempStep                float64 `json:"temp_step"`
	TemperatureUnit         string  `json:"temperature_unit"`
	PowerCommandTopic       string  `json:"power_command_topic,omitempty"`
	PayloadOn               string  `json:"payload_on,omitempty"`
	PayloadOff              string  `json:"payload_off,omitempty"`
}

// Discovery renders the discovery document for a state snapshot.
func Discovery(state State, topics Topics) DiscoveryConfig {
	cfg := DiscoveryConfig{
		Name:                state.Name,
		UniqueID:            state.UniqueID,
		ObjectID:            ObjectID(state.UniqueID),
		Device:              discoveryDevice(state.Device),
		AvailabilityTopic:   topics.Availability,
		PayloadAvailable:    PayloadOnline,
		PayloadNotAvailable: PayloadOffline,
		JSONAttributesTopic: topics.State,

		ModeCommandTopic: topics.Commands[CommandMode],
		ModeStateTopic:   topics.State,
		ModeStateTmpl:    "{{ value_json.hvac_mode }}",

		CurrentTemperatureTopic: topics.State,
		CurrentTemperatureTmpl:  "{{ value_json.current_temperature }}",
		MinTemp:                 state.TargetTemperatureLow,
		MaxTemp:                 state.TargetTemperatureHigh,
		TempStep:                state.TargetTemperatureStep,
		TemperatureUnit:         "C",
	}
	if state.TemperatureUnit == Fahrenheit {
		cfg.TemperatureUnit = "F"
	}
	for _, mode := range state.HVACModes {
		cfg.Modes = append(cfg.Modes, string(mode))
	}

	features := state.SupportedFeatures
	if features.Has(FeatureFanMode) {
		cfg.FanModeCommandTopic = topics.Commands[CommandFanMode]
		cfg.FanModeStateTopic = topics.State
		cfg.FanModeStateTmpl = "{{ value_json.fan_mode }}"
		cfg.FanModes = state.FanModes
	}
	if features.Has(FeatureSwingMode) {
		cfg.SwingModeCommandTopic = topics.Commands[CommandSwingMode]
		cfg.SwingModeStateTopic = topics.State
		cfg.SwingModeStateTmpl = "{{ value_json.swing_mode }}"
		cfg.SwingModes = state.SwingModes
	}
	if features.Has(FeatureTargetTemperature) {
		cfg.TemperatureCommandTopic = topics.Commands[CommandTemperature]
		cfg.TemperatureStateTopic = topics.State
		cfg.TemperatureStateTmpl = "{{ value_json.target_temperature }}"
	}
	if features.Has(FeatureTurnOn) || features.Has(FeatureTurnOff) {
		cfg.PowerCommandTopic = topics.Commands[CommandPower]
		cfg.PayloadOn = PayloadOn
		cfg.PayloadOff = PayloadOff
	}
	return cfg
}

func discoveryDevice(info DeviceInfo) DiscoveryDevice {
	device := DiscoveryDevice{
		Name:         info.Name,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
	}
	for _, ref := range info.Identifiers {
		device.Identifiers = append(device.Identifiers, ref.Domain+"_"+ObjectID(ref.ID))
	}
	if info.ViaDevice != nil {
		device.ViaDevice = info.ViaDevice.Domain + "_" + ObjectID(info.ViaDevice.ID)
	}
	return device
}
