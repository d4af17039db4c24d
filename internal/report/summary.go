// Package report summarises sweep runs: duration statistics, an HTML
// chart page and a PNG duration plot.
package report

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/Toepfer-Lab/mmon-gcm/internal/store"
	"github.com/Toepfer-Lab/mmon-gcm/internal/sweep"
)

// Entry is one dispatched solver invocation as seen by the report.
type Entry struct {
	Index     int
	Label     string
	Reference bool
	Status    string
	ExitCode  int
	Duration  time.Duration
}

// Failed reports whether the invocation failed.
func (e Entry) Failed() bool {
	return e.Status == string(sweep.TaskFailed)
}

// EntriesFromRun returns the dispatched tasks of res in plan order.
func EntriesFromRun(res *sweep.RunResult) []Entry {
	var out []Entry
	for _, t := range res.Dispatched() {
		out = append(out, Entry{
			Index:     t.Task.Index,
			Label:     t.Task.Combination.FileStem(),
			Reference: t.Task.Reference,
			Status:    string(t.Status),
			ExitCode:  t.ExitCode,
			Duration:  t.Duration,
		})
	}
	return out
}

// EntriesFromRecord returns the persisted invocations of rec in plan order.
func EntriesFromRecord(rec *store.RunRecord) ([]Entry, error) {
	var out []Entry
	for _, inv := range rec.Invocations {
		c, err := sweep.ParseCombination(inv.LightColour, inv.ATPaseConstrained, inv.StarchKnockout)
		if err != nil {
			return nil, fmt.Errorf("run %s task %d: %w", rec.RunID, inv.TaskIndex, err)
		}
		out = append(out, Entry{
			Index:     inv.TaskIndex,
			Label:     c.FileStem(),
			Reference: inv.Reference,
			Status:    inv.Status,
			ExitCode:  inv.ExitCode,
			Duration:  inv.Duration,
		})
	}
	return out, nil
}

// Summary aggregates invocation durations in seconds.
type Summary struct {
	Count     int     `json:"count"`
	Failed    int     `json:"failed"`
	Mean      float64 `json:"mean_seconds"`
	StdDev    float64 `json:"stddev_seconds"`
	Min       float64 `json:"min_seconds"`
	Max       float64 `json:"max_seconds"`
	Total     float64 `json:"total_seconds"`
	Reference float64 `json:"reference_seconds,omitempty"`
}

// Summarize computes duration statistics over the sweep entries. The
// reference invocation is reported separately and excluded from the
// statistics. StdDev is 0 for fewer than two samples.
func Summarize(entries []Entry) Summary {
	var s Summary
	var xs []float64
	for _, e := range entries {
		if e.Failed() {
			s.Failed++
		}
		sec := e.Duration.Seconds()
		if e.Reference {
			s.Reference = sec
			continue
		}
		xs = append(xs, sec)
	}
	s.Count = len(xs)
	if s.Count == 0 {
		return s
	}

	s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
	if math.IsNaN(s.StdDev) {
		s.StdDev = 0
	}
	s.Min, s.Max = xs[0], xs[0]
	for _, x := range xs {
		s.Total += x
		s.Min = math.Min(s.Min, x)
		s.Max = math.Max(s.Max, x)
	}
	return s
}

// String renders the summary as a single log line.
func (s Summary) String() string {
	return fmt.Sprintf("%d sweep invocations (%d failed): mean %.1fs, stddev %.1fs, min %.1fs, max %.1fs, total %.1fs",
		s.Count, s.Failed, s.Mean, s.StdDev, s.Min, s.Max, s.Total)
}
