package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	colourOK     = "#26828e"
	colourFailed = "#d62728"
)

// RenderHTML writes a page with a duration bar per invocation and the
// exit status of each, for run runID.
func RenderHTML(w io.Writer, runID string, entries []Entry) error {
	sum := Summarize(entries)

	x := make([]string, 0, len(entries))
	durations := make([]opts.BarData, 0, len(entries))
	codes := make([]opts.BarData, 0, len(entries))
	for _, e := range entries {
		label := e.Label
		if e.Reference {
			label = "reference " + label
		}
		x = append(x, label)

		colour := colourOK
		if e.Failed() {
			colour = colourFailed
		}
		durations = append(durations, opts.BarData{
			Name:      label,
			Value:     fmt.Sprintf("%.3f", e.Duration.Seconds()),
			ItemStyle: &opts.ItemStyle{Color: colour},
		})
		codes = append(codes, opts.BarData{Name: label, Value: e.ExitCode})
	}

	dur := charts.NewBar()
	dur.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Alternative modes sweep", Width: "100%", Height: "560px"}),
		charts.WithTitleOpts(opts.Title{Title: "Solver duration (s)", Subtitle: fmt.Sprintf("run=%s %s", runID, sum)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: 30}}),
	)
	dur.SetXAxis(x).
		AddSeries("duration", durations,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	exit := charts.NewBar()
	exit.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Exit status", Subtitle: fmt.Sprintf("%d failed", sum.Failed)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: 30}}),
	)
	exit.SetXAxis(x).AddSeries("exit code", codes)

	page := components.NewPage()
	page.PageTitle = "Alternative modes sweep " + runID
	page.AddCharts(dur, exit)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	return nil
}
