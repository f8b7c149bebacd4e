// Package report renders cycle time charts for fabrication runs.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/clayfab/internal/fabdata"
)

var ErrNoData = errors.New("no cycle times to plot")

// Point is the cycle time of one element.
type Point struct {
	Index   int
	Label   string
	Seconds float64
}

// CycleTimes returns the cycle times of elems that have one, in order.
func CycleTimes(elems []*fabdata.FabricationElement) []Point {
	var pts []Point
	for i, e := range elems {
		if e.CycleTime == nil {
			continue
		}
		pts = append(pts, Point{Index: i, Label: e.ID.String(), Seconds: *e.CycleTime})
	}
	return pts
}

func mean(pts []Point) float64 {
	xs := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = p.Seconds
	}
	return stat.Mean(xs, nil)
}

// WriteCycleTimeHTML writes an interactive bar chart of pts.
func WriteCycleTimeHTML(w io.Writer, title string, pts []Point) error {
	if len(pts) == 0 {
		return ErrNoData
	}
	avg := mean(pts)
	x := make([]string, len(pts))
	bars := make([]opts.BarData, len(pts))
	avgLine := make([]opts.LineData, len(pts))
	for i, p := range pts {
		x[i] = p.Label
		bars[i] = opts.BarData{Value: p.Seconds}
		avgLine[i] = opts.LineData{Value: avg}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("elements=%d mean=%.1fs", len(pts), avg)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Element", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Cycle time (s)", NameLocation: "middle", NameGap: 40}),
	)
	bar.SetXAxis(x).AddSeries("cycle time", bars)

	line := charts.NewLine()
	line.SetXAxis(x).AddSeries("mean", avgLine)
	bar.Overlap(line)

	if err := bar.Render(w); err != nil {
		return fmt.Errorf("render cycle time chart: %w", err)
	}
	return nil
}

// WriteCycleTimePNG writes a static line plot of pts.
func WriteCycleTimePNG(w io.Writer, title string, pts []Point) error {
	if len(pts) == 0 {
		return ErrNoData
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Element index"
	p.Y.Label.Text = "Cycle time (s)"

	xys := make(plotter.XYs, len(pts))
	for i, pt := range pts {
		xys[i] = plotter.XY{X: float64(pt.Index), Y: pt.Seconds}
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return fmt.Errorf("cycle time line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())

	avg := mean(pts)
	avgLine, err := plotter.NewLine(plotter.XYs{{X: xys[0].X, Y: avg}, {X: xys[len(xys)-1].X, Y: avg}})
	if err != nil {
		return fmt.Errorf("mean line: %w", err)
	}
	avgLine.Color = color.RGBA{R: 200, A: 255}
	avgLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(avgLine)
	p.Legend.Add("cycle time", line)
	p.Legend.Add(fmt.Sprintf("mean %.1fs", avg), avgLine)
	p.Legend.Top = true

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("create png writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}
