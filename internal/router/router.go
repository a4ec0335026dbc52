package router

import (
	"fmt"

	"google.golang.org/grpc"

	"github.com/joshp123/gohome-aircloud/internal/core"
)

// RegisterPlugins registers the registry service and every plugin's services on the gRPC server.
func RegisterPlugins(server *grpc.Server, plugins []core.Plugin) error {
	if err := core.NewRegistryService(plugins).Register(server); err != nil {
		return fmt.Errorf("register registry service: %w", err)
	}

	for _, p := range plugins {
		if err := p.RegisterGRPC(server); err != nil {
			return fmt.Errorf("register plugin %s: %w", p.ID(), err)
		}
	}
	return nil
}
