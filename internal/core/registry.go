package core

import (
	"context"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-aircloud/internal/rpc"
)

const RegistryServiceName = "gohome.registry.v1.Registry"

type PluginSummary struct {
	PluginID    string `json:"plugin_id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	Status      string `json:"status"`
}

type DashboardRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type PluginDescriptor struct {
	PluginID      string         `json:"plugin_id"`
	DisplayName   string         `json:"display_name"`
	Version       string         `json:"version"`
	Services      []string       `json:"services"`
	AgentsMD      string         `json:"agents_md"`
	Status        string         `json:"status"`
	HealthMessage string         `json:"health_message"`
	Dashboards    []DashboardRef `json:"dashboards"`
}

type ListPluginsResponse struct {
	Plugins []PluginSummary `json:"plugins"`
}

type DescribePluginRequest struct {
	PluginID string `json:"plugin_id"`
}

type DescribePluginResponse struct {
	Plugin *PluginDescriptor `json:"plugin,omitempty"`
}

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

func (r *RegistryService) ListPlugins(context.Context) ListPluginsResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resp := ListPluginsResponse{Plugins: []PluginSummary{}}
	for _, p := range r.plugins {
		manifest := p.Manifest()
		resp.Plugins = append(resp.Plugins, PluginSummary{
			PluginID:    manifest.PluginID,
			DisplayName: manifest.DisplayName,
			Version:     manifest.Version,
			Status:      string(p.Health()),
		})
	}
	return resp
}

func (r *RegistryService) DescribePlugin(_ context.Context, req DescribePluginRequest) (DescribePluginResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != req.PluginID {
			continue
		}

		descriptor := &PluginDescriptor{
			PluginID:      manifest.PluginID,
			DisplayName:   manifest.DisplayName,
			Version:       manifest.Version,
			Services:      manifest.Services,
			AgentsMD:      p.AgentsMD(),
			Status:        string(p.Health()),
			HealthMessage: p.HealthMessage(),
		}
		for _, d := range p.Dashboards() {
			descriptor.Dashboards = append(descriptor.Dashboards, DashboardRef{
				Name: d.Name,
				Path: dashboardPath(manifest.PluginID, d.Name),
			})
		}
		return DescribePluginResponse{Plugin: descriptor}, nil
	}

	return DescribePluginResponse{}, status.Errorf(codes.NotFound, "plugin %q not found", req.PluginID)
}

// Service exposes the registry over gRPC.
func (r *RegistryService) Service() rpc.Service {
	return rpc.Service{
		Name: RegistryServiceName,
		File: "gohome/registry/v1/registry.proto",
		Methods: []rpc.Method{
			{Name: "ListPlugins", Handler: func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
				return rpc.Encode(r.ListPlugins(ctx))
			}},
			{Name: "DescribePlugin", Handler: func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
				var in DescribePluginRequest
				if err := rpc.Decode(req, &in); err != nil {
					return nil, err
				}
				out, err := r.DescribePlugin(ctx, in)
				if err != nil {
					return nil, err
				}
				return rpc.Encode(out)
			}},
		},
	}
}

func (r *RegistryService) Register(server *grpc.Server) error {
	return rpc.Register(server, r.Service())
}
