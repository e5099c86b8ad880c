// Package plot renders line plots and heatmaps of evaluation statistics.
package plot

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/brewer"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
)

// Point is one x position of a series: its mean and spread.
type Point struct {
	X   float64
	Y   float64
	Err float64
}

// Series is one line of a line plot.
type Series struct {
	Name   string
	Points []Point
}

// LineChart describes a grouped line plot with error bands.
type LineChart struct {
	Title  string
	XLabel string
	YLabel string
	Series []Series
}

// HeatmapChart describes an annotated matrix; Values[r][c] is NaN where no
// data exists.
type HeatmapChart struct {
	Title       string
	XLabel      string
	YLabel      string
	XTicks      []string
	YTicks      []string
	Values      [][]float64
	Annotations [][]string
}

// Config holds rendering settings.
type Config struct {
	OutputDir    string
	Width        vg.Length
	Height       vg.Length
	HeatmapMin   float64
	HeatmapMax   float64
	XTicksByData bool
}

// DefaultConfig returns 12x8 inch figures written to ./figures.
func DefaultConfig() Config {
	return Config{
		OutputDir:    "./figures",
		Width:        12 * vg.Inch,
		Height:       8 * vg.Inch,
		HeatmapMin:   1500,
		HeatmapMax:   1800,
		XTicksByData: true,
	}
}

// Renderer writes PNG files named after chart titles.
type Renderer struct {
	config Config
}

// NewRenderer creates a renderer. The output directory is created on first
// write.
func NewRenderer(config Config) *Renderer {
	return &Renderer{config: config}
}

// Line renders c under the output directory and returns the written path.
func (r *Renderer) Line(c LineChart) (string, error) {
	path, err := r.path(c.Title)
	if err != nil {
		return "", err
	}
	return path, LinePlot(path, c, r.config)
}

// Heatmap renders c under the output directory and returns the written path.
func (r *Renderer) Heatmap(c HeatmapChart) (string, error) {
	path, err := r.path(c.Title)
	if err != nil {
		return "", err
	}
	return path, HeatmapPlot(path, c, r.config)
}

func (r *Renderer) path(title string) (string, error) {
	if err := os.MkdirAll(r.config.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return filepath.Join(r.config.OutputDir, FileName(title)), nil
}

// LinePlot draws one line per series with a shaded band of ±Err around it
// and saves it to path.
func LinePlot(path string, c LineChart, cfg Config) error {
	if len(c.Series) == 0 {
		return fmt.Errorf("line plot %q has no series", c.Title)
	}

	p := plot.New()
	p.Title.Text = c.Title
	p.X.Label.Text = c.XLabel
	p.Y.Label.Text = c.YLabel
	p.Add(plotter.NewGrid())

	xs := make(map[float64]bool)
	for i, s := range c.Series {
		pts := append([]Point(nil), s.Points...)
		sort.Slice(pts, func(a, b int) bool { return pts[a].X < pts[b].X })

		line := make(plotter.XYs, len(pts))
		band := make(plotter.XYs, 0, 2*len(pts))
		for j, pt := range pts {
			line[j] = plotter.XY{X: pt.X, Y: pt.Y}
			band = append(band, plotter.XY{X: pt.X, Y: pt.Y + pt.Err})
			xs[pt.X] = true
		}
		for j := len(pts) - 1; j >= 0; j-- {
			band = append(band, plotter.XY{X: pts[j].X, Y: pts[j].Y - pts[j].Err})
		}

		col := plotutil.Color(i)
		if len(pts) > 1 {
			poly, err := plotter.NewPolygon(band)
			if err != nil {
				return fmt.Errorf("failed to build error band for %s: %w", s.Name, err)
			}
			poly.Color = withAlpha(col, 0x40)
			poly.LineStyle.Width = 0
			p.Add(poly)
		}

		l, err := plotter.NewLine(line)
		if err != nil {
			return fmt.Errorf("failed to build line for %s: %w", s.Name, err)
		}
		l.Color = col
		l.Width = vg.Points(2)
		sc, err := plotter.NewScatter(line)
		if err != nil {
			return fmt.Errorf("failed to build markers for %s: %w", s.Name, err)
		}
		sc.GlyphStyle.Color = col
		p.Add(l, sc)
		p.Legend.Add(s.Name, l)
	}

	p.Y.Min = 0
	if cfg.XTicksByData {
		p.X.Tick.Marker = plot.ConstantTicks(dataTicks(xs))
	}
	p.Legend.Top = true

	return save(p, cfg, path)
}

// HeatmapPlot colours each cell by value within [cfg.HeatmapMin,
// cfg.HeatmapMax], writes the annotations on top and saves it to path.
func HeatmapPlot(path string, c HeatmapChart, cfg Config) error {
	rows := len(c.Values)
	if rows == 0 || len(c.Values[0]) == 0 {
		return fmt.Errorf("heatmap %q has no cells", c.Title)
	}
	cols := len(c.Values[0])
	if len(c.XTicks) != cols || len(c.YTicks) != rows {
		return fmt.Errorf("heatmap %q: %d x ticks and %d y ticks for a %dx%d grid", c.Title, len(c.XTicks), len(c.YTicks), rows, cols)
	}

	pal, err := brewer.GetPalette(brewer.TypeAny, "Blues", 9)
	if err != nil {
		return fmt.Errorf("failed to load palette: %w", err)
	}

	p := plot.New()
	p.Title.Text = c.Title
	p.X.Label.Text = c.XLabel
	p.Y.Label.Text = c.YLabel

	hm := plotter.NewHeatMap(grid{values: c.Values}, pal)
	hm.Min = cfg.HeatmapMin
	hm.Max = cfg.HeatmapMax
	hm.Underflow = pal.Colors()[0]
	hm.Overflow = pal.Colors()[len(pal.Colors())-1]
	p.Add(hm)

	labels, err := annotations(c)
	if err != nil {
		return err
	}
	if labels != nil {
		p.Add(labels)
	}

	p.X.Tick.Marker = plot.ConstantTicks(indexTicks(c.XTicks))
	p.Y.Tick.Marker = plot.ConstantTicks(indexTicks(c.YTicks))
	p.X.Min, p.X.Max = -0.5, float64(cols)-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(rows)-0.5

	return save(p, cfg, path)
}

func save(p *plot.Plot, cfg Config, path string) error {
	if err := p.Save(cfg.Width, cfg.Height, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// FileName maps a chart title to a safe PNG file name.
func FileName(title string) string {
	var b strings.Builder
	for _, ch := range strings.TrimSpace(title) {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '.':
			b.WriteRune(ch)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" {
		name = "plot"
	}
	return name + ".png"
}

func annotations(c HeatmapChart) (*plotter.Labels, error) {
	var xys plotter.XYs
	var texts []string
	for row, vals := range c.Annotations {
		for col, s := range vals {
			if s == "" {
				continue
			}
			xys = append(xys, plotter.XY{X: float64(col), Y: float64(row)})
			texts = append(texts, s)
		}
	}
	if len(xys) == 0 {
		return nil, nil
	}
	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to build annotations: %w", err)
	}
	for i := range labels.TextStyle {
		labels.TextStyle[i].XAlign = text.XCenter
		labels.TextStyle[i].YAlign = text.YCenter
	}
	return labels, nil
}

func dataTicks(xs map[float64]bool) []plot.Tick {
	vals := make([]float64, 0, len(xs))
	for x := range xs {
		vals = append(vals, x)
	}
	sort.Float64s(vals)
	ticks := make([]plot.Tick, len(vals))
	for i, v := range vals {
		ticks[i] = plot.Tick{Value: v, Label: strconv.FormatFloat(v, 'g', 4, 64)}
	}
	return ticks
}

func indexTicks(labels []string) []plot.Tick {
	ticks := make([]plot.Tick, len(labels))
	for i, l := range labels {
		ticks[i] = plot.Tick{Value: float64(i), Label: l}
	}
	return ticks
}

func withAlpha(c color.Color, a uint8) color.Color {
	r, g, b, _ := c.RGBA()
	return color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: a}
}

// grid adapts a row-major matrix to plotter.GridXYZ with cell centres on
// integer coordinates.
type grid struct {
	values [][]float64
}

func (g grid) Dims() (c, r int)   { return len(g.values[0]), len(g.values) }
func (g grid) Z(c, r int) float64 { return g.values[r][c] }
func (g grid) X(c int) float64    { return float64(c) }
func (g grid) Y(r int) float64    { return float64(r) }

var _ plotter.GridXYZ = grid{}
