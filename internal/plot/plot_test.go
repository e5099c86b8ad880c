package plot

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/plot/vg"

	"github.com/rewired-gh/transcendence/internal/models"
)

func testRenderer(t *testing.T) (*Renderer, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "figures")
	cfg := DefaultConfig()
	cfg.OutputDir = dir
	cfg.Width = 4 * vg.Inch
	cfg.Height = 3 * vg.Inch
	return NewRenderer(cfg), dir
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if len(data) < 8 || string(data[1:4]) != "PNG" {
		t.Errorf("%s is not a PNG", path)
	}
}

func TestRenderer_Line(t *testing.T) {
	r, dir := testRenderer(t)
	sums := []models.WinRateSummary{
		{Model: "50M", Temperature: 0.1, EngineLevel: 0, Mean: 0.6, StdDev: 0.05},
		{Model: "50M", Temperature: 0.3, EngineLevel: 0, Mean: 0.7, StdDev: 0.04},
		{Model: "50M", Temperature: 0.1, EngineLevel: 1, Mean: 0.4, StdDev: 0.1},
		{Model: "50M", Temperature: 0.3, EngineLevel: 1, Mean: 0.45},
		{Model: "350M", Temperature: 0.3, EngineLevel: 1, Mean: 0.9},
	}

	chart := WinRateChart("50M", sums)
	if len(chart.Series) != 2 {
		t.Fatalf("got %d series, want 2", len(chart.Series))
	}
	if chart.Series[0].Name != "Stockfish 0" || len(chart.Series[1].Points) != 2 {
		t.Errorf("unexpected series: %+v", chart.Series)
	}

	path, err := r.Line(chart)
	if err != nil {
		t.Fatalf("Line: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("written to %s, want under %s", path, dir)
	}
	assertPNG(t, path)
}

func TestRenderer_LineSinglePoint(t *testing.T) {
	r, _ := testRenderer(t)
	chart := RatingChart("50M", []models.RatingSummary{
		{Model: "50M", Temperature: 0.3, EngineLevel: 2, Mean: 1650, StdDev: 30},
	})
	path, err := r.Line(chart)
	if err != nil {
		t.Fatalf("Line: %v", err)
	}
	assertPNG(t, path)
}

func TestRenderer_LineEmpty(t *testing.T) {
	r, _ := testRenderer(t)
	if _, err := r.Line(LineChart{Title: "empty"}); err == nil {
		t.Error("expected error for chart without series")
	}
}

func TestMatchupChart(t *testing.T) {
	cells := []models.HeatmapCell{
		{SubjectElo: 1500, EngineElo: 1320, Rating: 1700, Deviation: 50},
		{SubjectElo: 1300, EngineElo: 1320, Rating: 1550, Deviation: 80},
		{SubjectElo: 1500, EngineElo: 1608, Rating: 1600, Deviation: 60},
	}

	c := MatchupChart(cells)
	if len(c.XTicks) != 2 || c.XTicks[0] != "1300" || c.XTicks[1] != "1500" {
		t.Errorf("XTicks = %v", c.XTicks)
	}
	if len(c.YTicks) != 2 || c.YTicks[0] != "1320" || c.YTicks[1] != "1608" {
		t.Errorf("YTicks = %v", c.YTicks)
	}
	if c.Values[0][1] != 1700 || c.Annotations[0][1] != "1700 ± 50" {
		t.Errorf("cell (1320, 1500) = %v %q", c.Values[0][1], c.Annotations[0][1])
	}
	if !math.IsNaN(c.Values[1][0]) || c.Annotations[1][0] != "" {
		t.Errorf("missing matchup should be empty, got %v %q", c.Values[1][0], c.Annotations[1][0])
	}

	r, _ := testRenderer(t)
	path, err := r.Heatmap(c)
	if err != nil {
		t.Fatalf("Heatmap: %v", err)
	}
	assertPNG(t, path)
}

func TestHeatmapPlot_ShapeMismatch(t *testing.T) {
	c := HeatmapChart{
		Title:  "bad",
		XTicks: []string{"a"},
		YTicks: []string{"b"},
		Values: [][]float64{{1, 2}},
	}
	if err := HeatmapPlot(filepath.Join(t.TempDir(), "bad.png"), c, DefaultConfig()); err == nil {
		t.Error("expected error for mismatched ticks")
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Win Percentages of 50M", "Win_Percentages_of_50M.png"},
		{"../etc/passwd", ".._etc_passwd.png"},
		{"  ", "plot.png"},
	}
	for _, tt := range tests {
		if got := FileName(tt.title); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
