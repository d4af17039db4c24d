package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"tailscale.com/tsweb"

	"github.com/Toepfer-Lab/mmon-gcm/internal/httputil"
	"github.com/Toepfer-Lab/mmon-gcm/internal/monitoring"
	"github.com/Toepfer-Lab/mmon-gcm/internal/store"
)

// File names written by Write.
const (
	HTMLFile    = "report.html"
	PNGFile     = "durations.png"
	SummaryFile = "summary.json"
)

// Write renders the HTML page, the PNG plot and a JSON summary into dir,
// creating it if needed. The PNG is skipped when nothing was dispatched.
func Write(dir, runID string, entries []Entry) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	var buf bytes.Buffer
	if err := RenderHTML(&buf, runID, entries); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, HTMLFile), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", HTMLFile, err)
	}

	if len(entries) > 0 {
		if err := SaveDurationPlot(filepath.Join(dir, PNGFile), runID, entries); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(struct {
		RunID   string  `json:"run_id"`
		Summary Summary `json:"summary"`
	}{runID, Summarize(entries)}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryFile), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", SummaryFile, err)
	}

	monitoring.Logf("[report] wrote %s", dir)
	return nil
}

// RunSource yields persisted runs. *store.Store satisfies it.
type RunSource interface {
	LatestRun() (*store.RunRecord, error)
	GetRun(runID string) (*store.RunRecord, error)
}

// AttachRoutes adds a run report page to the tsweb debug handler on mux.
// Without ?run= the most recent run is shown.
func AttachRoutes(mux *http.ServeMux, src RunSource) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("report", "Sweep run report (?run=ID)", handleReport(src))
}

func handleReport(src RunSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireGet(w, r) {
			return
		}

		var rec *store.RunRecord
		var err error
		if id := r.URL.Query().Get("run"); id != "" {
			rec, err = src.GetRun(id)
		} else {
			rec, err = src.LatestRun()
		}
		if errors.Is(err, store.ErrNotFound) {
			httputil.NotFound(w, "no such run")
			return
		}
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to load run: %v", err))
			return
		}

		entries, err := EntriesFromRecord(rec)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("corrupt run record: %v", err))
			return
		}

		var buf bytes.Buffer
		if err := RenderHTML(&buf, rec.RunID, entries); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
			return
		}
		httputil.WriteHTML(w, buf.Bytes())
	}
}
