package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/joshp123/gohome-aircloud/internal/climate"
)

type climateResponse struct {
	Entities []climate.State `json:"entities"`
	Errors   []string        `json:"errors,omitempty"`
}

// ClimateHandler serves entity snapshots: /climate lists all of them,
// /climate/{unique_id} returns one.
func ClimateHandler(registry *climate.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/climate"), "/")
		if id == "" {
			states, errs := registry.States()
			resp := climateResponse{Entities: states}
			if resp.Entities == nil {
				resp.Entities = []climate.State{}
			}
			for _, err := range errs {
				resp.Errors = append(resp.Errors, err.Error())
			}
			writeJSON(w, http.StatusOK, resp)
			return
		}

		entity, err := registry.Get(id)
		if errors.Is(err, climate.ErrEntityNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		state, err := entity.State()
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, state)
	})
}
