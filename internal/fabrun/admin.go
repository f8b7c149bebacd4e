package fabrun

import (
	"encoding/json"
	"net/http"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes serves the run state as JSON at /debug/fabrun.
func (r *Runner) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("fabrun", "Current fabrication run (JSON)", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.State()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))
}
