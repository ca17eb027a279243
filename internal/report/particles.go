package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/localizer/internal/localization"
	"github.com/banshee-data/localizer/internal/pose"
)

// headingColors assigns one color per heading, indexed clockwise from north.
var headingColors = [pose.NumOrientations]string{
	"#e6194b", "#f58231", "#ffe119", "#bfef45", "#3cb44b", "#42d4f4", "#4363d8", "#911eb4",
}

// ParticleChart describes the scatter chart drawn for a particle cloud.
type ParticleChart struct {
	Title     string
	Subtitle  string
	Width     float64 // world width, used as the x axis range
	Height    float64 // world height, used as the y axis range
	MaxPoints int     // 0 draws every particle
	Truth     *pose.Pose
	Estimate  *pose.Pose
}

// Render writes a standalone HTML page to w with one scatter series per
// heading. Symbol size grows with particle weight.
func (pc ParticleChart) Render(w io.Writer, particles []localization.Particle) error {
	stride := 1
	if pc.MaxPoints > 0 && len(particles) > pc.MaxPoints {
		stride = int(math.Ceil(float64(len(particles)) / float64(pc.MaxPoints)))
	}

	maxW := 0.0
	for _, p := range particles {
		maxW = math.Max(maxW, p.Weight)
	}

	var series [pose.NumOrientations][]opts.ScatterData
	for i := 0; i < len(particles); i += stride {
		p := particles[i]
		size := 4
		if maxW > 0 {
			size += int(8 * p.Weight / maxW)
		}
		series[p.Orientation] = append(series[p.Orientation], opts.ScatterData{
			Value:      []interface{}{p.X, p.Y, p.Weight},
			SymbolSize: size,
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: pc.Title, Theme: "dark", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: pc.Title, Subtitle: pc.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: pc.Width, Name: "x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: pc.Height, Name: "y", NameLocation: "middle", NameGap: 30}),
	)

	for _, o := range pose.Orientations() {
		scatter.AddSeries(o.String(), series[o],
			charts.WithItemStyleOpts(opts.ItemStyle{Color: headingColors[o]}),
		)
	}
	if pc.Truth != nil {
		scatter.AddSeries("truth", []opts.ScatterData{{Value: []interface{}{pc.Truth.X, pc.Truth.Y}, Symbol: "diamond", SymbolSize: 16}},
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ffffff"}),
		)
	}
	if pc.Estimate != nil {
		scatter.AddSeries("estimate", []opts.ScatterData{{Value: []interface{}{pc.Estimate.X, pc.Estimate.Y}, Symbol: "triangle", SymbolSize: 16}},
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff00ff"}),
		)
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render particle chart: %w", err)
	}
	return nil
}
