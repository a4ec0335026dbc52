package plugins

import (
	"github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-aircloud/internal/climate"
	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/core"
)

// Deps carries the host-owned objects every plugin may share.
type Deps struct {
	Entities *climate.Registry
	Logger   logrus.FieldLogger
}

// Factory builds a plugin instance from the loaded config. It returns
// false when the config has no section for the plugin.
type Factory func(*config.Config, Deps) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled returns the configured plugin instances for this build.
func Compiled(cfg *config.Config, deps Deps) []core.Plugin {
	if cfg == nil {
		return nil
	}
	if deps.Entities == nil {
		deps.Entities = climate.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(cfg, deps)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
