package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/gohome-aircloud/internal/core"
)

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type pluginHealth struct {
	PluginID string            `json:"plugin_id"`
	Status   core.HealthStatus `json:"status"`
	Message  string            `json:"message,omitempty"`
}

// PluginHealthHandler reports every plugin's health. Any plugin in the
// error state turns the response into a 503.
func PluginHealthHandler(plugins []core.Plugin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		code := http.StatusOK
		out := make([]pluginHealth, 0, len(plugins))
		for _, plugin := range plugins {
			health := pluginHealth{PluginID: plugin.ID(), Status: plugin.Health(), Message: plugin.HealthMessage()}
			if health.Status == core.HealthError {
				code = http.StatusServiceUnavailable
			}
			out = append(out, health)
		}
		writeJSON(w, code, map[string]any{"plugins": out})
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
