package store

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/Toepfer-Lab/mmon-gcm/internal/httputil"
)

// AttachAdminRoutes mounts the tsweb debug page on mux with a tailsql
// console over the run database and a JSON listing of recent runs.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Sweep runs",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("runs", "Recent sweep runs (JSON, ?limit=N)", s.handleRuns)
	return nil
}

func (s *Store) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	runs, err := s.ListRuns(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []RunRecord{}
	}
	httputil.WriteJSONOK(w, runs)
}
