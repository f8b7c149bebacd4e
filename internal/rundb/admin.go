package rundb

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts live SQL and a JSON run listing under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Run archive",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("runs", "Archived fabrication runs (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		runs, err := db.Runs(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to list runs: %v", err), http.StatusInternalServerError)
			return
		}
		if id := r.URL.Query().Get("id"); id != "" {
			placements, err := db.Placements(r.Context(), id)
			if err != nil {
				http.Error(w, fmt.Sprintf("failed to list placements: %v", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, placements)
			return
		}
		writeJSON(w, runs)
	}))
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
