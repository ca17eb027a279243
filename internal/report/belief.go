// Package report renders localizer state for humans: PNG heatmaps of a grid
// belief and interactive HTML scatter charts of a particle cloud.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/localizer/internal/localization"
	"github.com/banshee-data/localizer/internal/pose"
	"github.com/banshee-data/localizer/internal/security"
)

// Panel layout: one heatmap per heading in compass order, then the marginal.
const (
	panelCols = 3
	panelRows = 3
)

// panelOrder places each heading at its compass position around the marginal.
var panelOrder = [panelRows][panelCols]int{
	{int(pose.NorthWest), int(pose.North), int(pose.NorthEast)},
	{int(pose.West), -1, int(pose.East)},
	{int(pose.SouthWest), int(pose.South), int(pose.SouthEast)},
}

// denseGrid adapts a cols x rows belief matrix to plotter.GridXYZ. Tile (i, j)
// is drawn at x=i, y=j.
type denseGrid struct {
	m *mat.Dense
}

func (g denseGrid) Dims() (c, r int)   { return g.m.Dims() }
func (g denseGrid) Z(c, r int) float64 { return g.m.At(c, r) }
func (g denseGrid) X(c int) float64    { return float64(c) }
func (g denseGrid) Y(r int) float64    { return float64(r) }

// Belief is a grid belief split by heading. *localization.Markov
// implements it.
type Belief interface {
	Slice(o pose.Orientation) *mat.Dense
	Marginal() *mat.Dense
}

var _ Belief = (*localization.Markov)(nil)

// BeliefPlotter writes the grid belief to numbered PNG files, one per call
// to Sample. Safe for concurrent use.
type BeliefPlotter struct {
	mu        sync.Mutex
	outputDir string
	frameIdx  int
}

// NewBeliefPlotter creates the output directory if needed.
func NewBeliefPlotter(outputDir string) (*BeliefPlotter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &BeliefPlotter{outputDir: outputDir}, nil
}

// OutputDir returns the directory plots are written to.
func (bp *BeliefPlotter) OutputDir() string {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.outputDir
}

// Frames returns the number of plots written so far.
func (bp *BeliefPlotter) Frames() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.frameIdx
}

// Sample renders the current belief to belief_NNNN.png and returns its path.
func (bp *BeliefPlotter) Sample(b Belief) (string, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	path := filepath.Join(bp.outputDir, fmt.Sprintf("belief_%04d.png", bp.frameIdx))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteBeliefPNG(f, b, fmt.Sprintf("step %d", bp.frameIdx)); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	bp.frameIdx++
	return path, nil
}

// WriteBeliefPNG draws a 3x3 panel of heatmaps to w: each heading's slice at
// its compass position and the marginal over headings in the center.
func WriteBeliefPNG(w io.Writer, b Belief, subtitle string) error {
	plots := make([][]*plot.Plot, panelRows)
	for r := range plots {
		plots[r] = make([]*plot.Plot, panelCols)
		for c := range plots[r] {
			idx := panelOrder[r][c]
			if idx < 0 {
				plots[r][c] = heatmapPlot(b.Marginal(), "marginal "+subtitle)
				continue
			}
			o := pose.Orientation(idx)
			plots[r][c] = heatmapPlot(b.Slice(o), o.String())
		}
	}

	img := vgimg.New(12*vg.Inch, 9*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      panelRows,
		Cols:      panelCols,
		PadX:      vg.Millimeter,
		PadY:      vg.Millimeter,
		PadTop:    vg.Points(4),
		PadBottom: vg.Points(4),
		PadLeft:   vg.Points(4),
		PadRight:  vg.Points(4),
	}
	canvases := plot.Align(plots, tiles, dc)
	for r := range plots {
		for c := range plots[r] {
			plots[r][c].Draw(canvases[r][c])
		}
	}

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}

func heatmapPlot(m *mat.Dense, title string) *plot.Plot {
	g := denseGrid{m: m}
	hm := plotter.NewHeatMap(g, palette.Heat(16, 1))
	hm.Min = 0
	hm.Max = mat.Max(m)
	if hm.Max <= hm.Min {
		// An all-zero slice would give a zero-width color range.
		hm.Max = hm.Min + 1
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "i"
	p.Y.Label.Text = "j"
	p.Add(hm)
	return p
}

// FormatTimestamp generates a timestamp string for directory naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}

// MakePlotOutputDir returns baseDir/<scenario>/<timestamp> with the scenario
// name reduced to a safe directory name.
func MakePlotOutputDir(baseDir, scenario string, now time.Time) string {
	if scenario == "" {
		scenario = "custom"
	}
	return filepath.Join(baseDir, security.SanitizeFilename(scenario), FormatTimestamp(now))
}
