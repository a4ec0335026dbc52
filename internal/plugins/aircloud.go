package plugins

import (
	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/core"
	"github.com/joshp123/gohome-aircloud/plugins/aircloud"
)

func init() {
	Register(func(cfg *config.Config, deps Deps) (core.Plugin, bool) {
		plugin, ok := aircloud.NewPlugin(cfg, deps.Entities, deps.Logger)
		if !ok {
			return nil, false
		}
		return plugin, true
	})
}
