package diagnostics

import (
	"encoding/json"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/fieldmesh/terrafuse/internal/monitoring"
)

func writeJSON(w http.ResponseWriter, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// AttachAdminRoutes mounts a tsweb debug index and a live tailsql SQL
// console over the diagnostics database on mux, for operators to
// inspect rover liveness and remap history without a bespoke dashboard.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return err
	}
	tsql.SetDB("sqlite://diagnostics.db", s.db, &tailsql.DBOptions{
		Label: "Terrain Fusion Diagnostics",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("diagnostics-stats", "Diagnostic event counts by kind (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.eventCountsByKind()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := writeJSON(w, stats); err != nil {
			monitoring.Logf("diagnostics: failed to write stats response: %v", err)
		}
	}))
	return nil
}

func (s *Store) eventCountsByKind() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM diagnostic_event GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
