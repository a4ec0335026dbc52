package aircloud

import (
	"time"

	"golang.org/x/oauth2"
)

// Vendor power states.
const (
	PowerOn  = "ON"
	PowerOff = "OFF"
)

// Vendor operating modes.
const (
	ModeAuto       = "AUTO"
	ModeCooling    = "COOLING"
	ModeDeHumidify = "DE_HUMIDIFY"
	ModeFan        = "FAN"
	ModeHeating    = "HEATING"
)

const (
	UnitCelsius    = "CELSIUS"
	UnitFahrenheit = "FAHRENHEIT"
)

// InteriorUnit is one indoor unit as last reported by the cloud.
type InteriorUnit struct {
	ID                   int       `json:"id"`
	Name                 string    `json:"name"`
	Vendor               string    `json:"vendor"`
	ModelID              string    `json:"model_id"`
	Online               bool      `json:"online"`
	Power                string    `json:"power"`
	Mode                 string    `json:"mode"`
	FanSpeed             string    `json:"fan_speed"`
	FanSwing             string    `json:"fan_swing"`
	RoomTemperature      float64   `json:"room_temperature"`
	RequestedTemperature float64   `json:"requested_temperature"`
	Humidity             int       `json:"humidity"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Equal compares every reported field.
func (u InteriorUnit) Equal(other InteriorUnit) bool {
	if !u.UpdatedAt.Equal(other.UpdatedAt) {
		return false
	}
	u.UpdatedAt, other.UpdatedAt = time.Time{}, time.Time{}
	return u == other
}

// UserProfile is the account owning the units.
type UserProfile struct {
	ID              int    `json:"id"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	FamilyID        int    `json:"family_id"`
	TemperatureUnit string `json:"temperature_unit"`
}

// Command is a partial update. Empty strings and a nil temperature keep the
// unit's current value.
type Command struct {
	OperatingMode        string
	FanSpeed             string
	FanSwing             string
	Power                string
	RequestedTemperature *float64
}

func (c Command) empty() bool {
	return c.OperatingMode == "" && c.FanSpeed == "" && c.FanSwing == "" && c.Power == "" && c.RequestedTemperature == nil
}

func (c Command) apply(unit InteriorUnit) InteriorUnit {
	if c.OperatingMode != "" {
		unit.Mode = c.OperatingMode
	}
	if c.FanSpeed != "" {
		unit.FanSpeed = c.FanSpeed
	}
	if c.FanSwing != "" {
		unit.FanSwing = c.FanSwing
	}
	if c.Power != "" {
		unit.Power = c.Power
	}
	if c.RequestedTemperature != nil {
		unit.RequestedTemperature = *c.RequestedTemperature
	}
	return unit
}

// Change is one entry of an update change set. Old is nil for a unit that
// appeared, New is nil for one that disappeared.
type Change struct {
	Old *InteriorUnit
	New *InteriorUnit
}

// Tokens is the outcome of a sign-in or refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

func (t Tokens) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       t.Expiry,
	}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ErrorState   string `json:"errorState"`
}

type whoAmIResponse struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	FamilyID  int    `json:"familyId"`
	Settings  struct {
		TemperatureUnit string `json:"temperatureUnit"`
	} `json:"settings"`
}

func (w whoAmIResponse) profile() UserProfile {
	unit := w.Settings.TemperatureUnit
	if unit == "" {
		unit = UnitCelsius
	}
	return UserProfile{
		ID:              w.ID,
		Email:           w.Email,
		FirstName:       w.FirstName,
		LastName:        w.LastName,
		FamilyID:        w.FamilyID,
		TemperatureUnit: unit,
	}
}

type groupResponse struct {
	GroupID   int           `json:"groupId"`
	GroupName string        `json:"groupName"`
	IDUList   []iduResponse `json:"iduList"`
}

type iduResponse struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	Vendor          string  `json:"vendorThingId"`
	ModelTypeCode   string  `json:"modelTypeCode"`
	Online          bool    `json:"online"`
	Power           string  `json:"power"`
	Mode            string  `json:"mode"`
	FanSpeed        string  `json:"fanSpeed"`
	FanSwing        string  `json:"fanSwing"`
	RoomTemperature float64 `json:"roomTemperature"`
	IDUTemperature  float64 `json:"iduTemperature"`
	Humidity        int     `json:"humidity"`
	UpdatedAt       int64   `json:"updatedAt"`
}

func (r iduResponse) unit() InteriorUnit {
	unit := InteriorUnit{
		ID:                   r.ID,
		Name:                 r.Name,
		Vendor:               r.Vendor,
		ModelID:              r.ModelTypeCode,
		Online:               r.Online,
		Power:                r.Power,
		Mode:                 r.Mode,
		FanSpeed:             r.FanSpeed,
		FanSwing:             r.FanSwing,
		RoomTemperature:      r.RoomTemperature,
		RequestedTemperature: r.IDUTemperature,
		Humidity:             r.Humidity,
	}
	if r.UpdatedAt > 0 {
		unit.UpdatedAt = time.UnixMilli(r.UpdatedAt).UTC()
	}
	return unit
}

type controlRequest struct {
	FanSpeed       string  `json:"fanSpeed"`
	FanSwing       string  `json:"fanSwing"`
	Humidity       int     `json:"humidity"`
	ID             int     `json:"id"`
	IDUTemperature float64 `json:"iduTemperature"`
	Mode           string  `json:"mode"`
	Power          string  `json:"power"`
}

func controlRequestFor(unit InteriorUnit) controlRequest {
	return controlRequest{
		FanSpeed:       unit.FanSpeed,
		FanSwing:       unit.FanSwing,
		Humidity:       unit.Humidity,
		ID:             unit.ID,
		IDUTemperature: unit.RequestedTemperature,
		Mode:           unit.Mode,
		Power:          unit.Power,
	}
}
