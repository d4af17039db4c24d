package sweep

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// ManifestHeader lists the columns of the results manifest.
var ManifestHeader = []string{
	"index", "reference", "light_colour", "atpase_constrained", "starch_knockout",
	"output_path", "status", "exit_code", "started_at", "duration_seconds", "error",
}

// ManifestWriter writes one CSV row per task result.
type ManifestWriter struct {
	w *csv.Writer
}

// NewManifestWriter creates a ManifestWriter over w.
func NewManifestWriter(w io.Writer) *ManifestWriter {
	return &ManifestWriter{w: csv.NewWriter(w)}
}

// WriteHeader writes the header row.
func (m *ManifestWriter) WriteHeader() error {
	if err := m.w.Write(ManifestHeader); err != nil {
		return err
	}
	m.w.Flush()
	return m.w.Error()
}

// WriteResult writes and flushes a single task row.
func (m *ManifestWriter) WriteResult(r TaskResult) error {
	started := ""
	if !r.StartedAt.IsZero() {
		started = r.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	row := []string{
		fmt.Sprintf("%d", r.Task.Index),
		fmt.Sprintf("%t", r.Task.Reference),
		r.Task.Combination.Light.Token(),
		r.Task.Combination.ATPase.Token(),
		r.Task.Combination.Starch.Token(),
		r.Task.OutputPath,
		string(r.Status),
		fmt.Sprintf("%d", r.ExitCode),
		started,
		fmt.Sprintf("%.3f", r.Duration.Seconds()),
		singleLine(r.Error),
	}
	if err := m.w.Write(row); err != nil {
		return err
	}
	m.w.Flush()
	return m.w.Error()
}

// WriteRun writes the header followed by every task of res.
func (m *ManifestWriter) WriteRun(res *RunResult) error {
	if err := m.WriteHeader(); err != nil {
		return err
	}
	for _, t := range res.Tasks {
		if err := m.WriteResult(t); err != nil {
			return fmt.Errorf("writing manifest row %d: %w", t.Task.Index, err)
		}
	}
	return nil
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
