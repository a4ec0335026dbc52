package aircloud

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-aircloud/internal/climate"
	"github.com/joshp123/gohome-aircloud/internal/rate"
	"github.com/joshp123/gohome-aircloud/internal/rpc"
)

const ServiceName = "gohome.plugins.aircloud.v1.AirCloudService"

// UnitView is the wire shape of one unit.
type UnitView struct {
	UnitID  int            `json:"unit_id"`
	Account string         `json:"account"`
	Unit    InteriorUnit   `json:"unit"`
	State   *climate.State `json:"state,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type ListUnitsResponse struct {
	Units []UnitView `json:"units"`
}

type UnitRequest struct {
	UnitID int `json:"unit_id"`
}

type SetHVACModeRequest struct {
	UnitID   int    `json:"unit_id"`
	HVACMode string `json:"hvac_mode"`
}

type SetFanModeRequest struct {
	UnitID  int    `json:"unit_id"`
	FanMode string `json:"fan_mode"`
}

type SetSwingModeRequest struct {
	UnitID    int    `json:"unit_id"`
	SwingMode string `json:"swing_mode"`
}

type SetTemperatureRequest struct {
	UnitID      int      `json:"unit_id"`
	Temperature *float64 `json:"temperature"`
	HVACMode    string   `json:"hvac_mode,omitempty"`
}

type RefreshResponse struct {
	Accounts map[string]CoordinatorStatus `json:"accounts"`
}

type ValidateLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type service struct {
	integration *Integration
}

// RegisterAirCloudService mounts the service on server.
func RegisterAirCloudService(server *grpc.Server, integration *Integration) error {
	return rpc.Register(server, newService(integration).descriptor())
}

func newService(integration *Integration) *service {
	return &service{integration: integration}
}

func (s *service) descriptor() rpc.Service {
	return rpc.Service{
		Name: ServiceName,
		File: "gohome/plugins/aircloud/v1/aircloud.proto",
		Methods: []rpc.Method{
			{Name: "ListUnits", Handler: s.listUnits},
			{Name: "GetUnit", Handler: s.getUnit},
			{Name: "SetHVACMode", Handler: s.setHVACMode},
			{Name: "SetFanMode", Handler: s.setFanMode},
			{Name: "SetSwingMode", Handler: s.setSwingMode},
			{Name: "SetTemperature", Handler: s.setTemperature},
			{Name: "TurnOn", Handler: s.turnOn},
			{Name: "TurnOff", Handler: s.turnOff},
			{Name: "Refresh", Handler: s.refresh},
			{Name: "ValidateLogin", Handler: s.validateLogin},
		},
	}
}

func (s *service) ready() error {
	if s.integration == nil {
		return status.Error(codes.FailedPrecondition, "aircloud not configured")
	}
	return nil
}

func (s *service) listUnits(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	resp := ListUnitsResponse{Units: []UnitView{}}
	for _, entry := range s.integration.Entries() {
		for _, entity := range entry.Entities() {
			resp.Units = append(resp.Units, viewOf(entry.UniqueID, entity))
		}
	}
	return rpc.Encode(resp)
}

func (s *service) getUnit(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in UnitRequest
	entity, account, err := s.lookup(req, &in, func() int { return in.UnitID })
	if err != nil {
		return nil, err
	}
	return rpc.Encode(viewOf(account, entity))
}

func (s *service) setHVACMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in SetHVACModeRequest
	entity, account, err := s.lookup(req, &in, func() int { return in.UnitID })
	if err != nil {
		return nil, err
	}
	mode, ok := climate.ParseHVACMode(in.HVACMode)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "hvac_mode %q is not a known mode", in.HVACMode)
	}
	return s.apply(account, entity, entity.SetHVACMode(ctx, mode))
}

func (s *service) setFanMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in SetFanModeRequest
	entity, account, err := s.lookup(req, &in, func() int { return in.UnitID })
	if err != nil {
		return nil, err
	}
	if in.FanMode == "" {
		return nil, status.Error(codes.InvalidArgument, "fan_mode is required")
	}
	return s.apply(account, entity, entity.SetFanMode(ctx, in.FanMode))
}

func (s *service) setSwingMode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in SetSwingModeRequest
	entity, account, err := s.lookup(req, &in, func() int { return in.UnitID })
	if err != nil {
		return nil, err
	}
	if in.SwingMode == "" {
		return nil, status.Error(codes.InvalidArgument, "swing_mode is required")
	}
	return s.apply(account, entity, entity.SetSwingMode(ctx, in.SwingMode))
}

func (s *service) setTemperature(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in SetTemperatureRequest
	entity, account, err := s.lookup(req, &in, func() int { return in.UnitID })
	if err != nil {
		return nil, err
	}
	request := climate.TemperatureRequest{Temperature: in.Temperature}
	if in.HVACMode != "" {
		mode, ok := climate.ParseHVACMode(in.HVACMode)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "hvac_mode %q is not a known mode", in.HVACMode)
		}
		request.HVACMode = &mode
	}
	return s.apply(account, entity, entity.SetTemperature(ctx, request))
}

func (s *service) turnOn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in UnitRequest
	entity, account, err := s.lookup(req, &in, func() int { return in.UnitID })
	if err != nil {
		return nil, err
	}
	return s.apply(account, entity, entity.TurnOn(ctx))
}

func (s *service) turnOff(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in UnitRequest
	entity, account, err := s.lookup(req, &in, func() int { return in.UnitID })
	if err != nil {
		return nil, err
	}
	return s.apply(account, entity, entity.TurnOff(ctx))
}

func (s *service) refresh(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.integration.RefreshAll(ctx); err != nil {
		return nil, grpcError(err)
	}
	resp := RefreshResponse{Accounts: map[string]CoordinatorStatus{}}
	for _, entry := range s.integration.Entries() {
		resp.Accounts[entry.UniqueID] = entry.coordinator.Status()
	}
	return rpc.Encode(resp)
}

func (s *service) validateLogin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var in ValidateLoginRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, err
	}
	flow := NewConfigFlow(s.integration.AuthAPI(), s.integration.logger)
	return rpc.Encode(flow.ValidateLogin(ctx, in.Email, in.Password, s.integration.Configured))
}

// lookup decodes req into in and resolves the unit id it names.
func (s *service) lookup(req *structpb.Struct, in any, unitID func() int) (*HitachiAcUnit, string, error) {
	if err := s.ready(); err != nil {
		return nil, "", err
	}
	if err := rpc.Decode(req, in); err != nil {
		return nil, "", err
	}
	id := unitID()
	if id == 0 {
		return nil, "", status.Error(codes.InvalidArgument, "unit_id is required")
	}
	for _, entry := range s.integration.Entries() {
		if entity, ok := entry.entities[id]; ok {
			return entity, entry.UniqueID, nil
		}
	}
	return nil, "", status.Errorf(codes.NotFound, "unit %d not found", id)
}

func (s *service) apply(account string, entity *HitachiAcUnit, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, grpcError(err)
	}
	return rpc.Encode(viewOf(account, entity))
}

func viewOf(account string, entity *HitachiAcUnit) UnitView {
	view := UnitView{UnitID: entity.UnitID(), Account: account, Unit: entity.Unit()}
	state, err := entity.State()
	if err != nil {
		view.Error = err.Error()
		return view
	}
	view.State = &state
	return view
}

func grpcError(err error) error {
	var limited rate.RateLimitError
	switch {
	case errors.Is(err, climate.ErrMissingArgument),
		errors.Is(err, climate.ErrInvalidArgument),
		errors.Is(err, climate.ErrUnsupportedValue):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, climate.ErrEntityNotFound), errors.Is(err, ErrUnknownUnit):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &limited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ErrAuthenticationFailed):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrConnectionFailed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrNotConnected):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
