package server

import (
	"net/http"
	"sort"
)

// DashboardsHandler serves dashboard JSON from an in-memory map. The
// bare /dashboards/ path lists the available paths.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/dashboards/" {
			paths := make([]string, 0, len(dashboards))
			for p := range dashboards {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			writeJSON(w, http.StatusOK, map[string][]string{"dashboards": paths})
			return
		}
		if data, ok := dashboards[path]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}

		http.NotFound(w, r)
	})
}
