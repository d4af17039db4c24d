package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveDurationPlot writes a PNG bar chart of invocation durations to path,
// with the sweep mean drawn as a horizontal line.
func SaveDurationPlot(path, runID string, entries []Entry) error {
	if len(entries) == 0 {
		return fmt.Errorf("no invocations to plot")
	}

	values := make(plotter.Values, len(entries))
	names := make([]string, len(entries))
	for i, e := range entries {
		values[i] = e.Duration.Seconds()
		names[i] = e.Label
		if e.Reference {
			names[i] = "ref " + e.Label
		}
	}

	p := plot.New()
	p.Title.Text = "Solver duration, run " + runID
	p.Y.Label.Text = "Seconds"

	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return fmt.Errorf("creating bar chart: %w", err)
	}
	bars.Color = color.RGBA{R: 38, G: 130, B: 142, A: 255}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)

	if sum := Summarize(entries); sum.Count > 0 {
		mean, err := plotter.NewLine(plotter.XYs{
			{X: -0.5, Y: sum.Mean},
			{X: float64(len(entries)) - 0.5, Y: sum.Mean},
		})
		if err != nil {
			return fmt.Errorf("creating mean line: %w", err)
		}
		mean.Width = vg.Points(1)
		mean.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		mean.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		p.Add(mean)
		p.Legend.Add("sweep mean", mean)
	}

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}
