package plot

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/rewired-gh/transcendence/internal/models"
)

// WinRateChart plots the mean win rate of one model against temperature,
// one line per engine level.
func WinRateChart(model string, sums []models.WinRateSummary) LineChart {
	byLevel := make(map[int][]Point)
	for _, s := range sums {
		if s.Model != model {
			continue
		}
		byLevel[s.EngineLevel] = append(byLevel[s.EngineLevel], Point{X: s.Temperature, Y: s.Mean, Err: s.StdDev})
	}
	return LineChart{
		Title:  fmt.Sprintf("Win Percentages of %s across Temperature", model),
		XLabel: "Temperature",
		YLabel: "Chess Win Percentage",
		Series: levelSeries(byLevel),
	}
}

// RatingChart plots the mean Glicko-2 rating of one model against
// temperature, one line per engine level.
func RatingChart(model string, sums []models.RatingSummary) LineChart {
	byLevel := make(map[int][]Point)
	for _, s := range sums {
		if s.Model != model {
			continue
		}
		byLevel[s.EngineLevel] = append(byLevel[s.EngineLevel], Point{X: s.Temperature, Y: s.Mean, Err: s.StdDev})
	}
	return LineChart{
		Title:  fmt.Sprintf("Glicko-2 Ratings of %s across Temperature", model),
		XLabel: "Temperature",
		YLabel: "Chess Rating",
		Series: levelSeries(byLevel),
	}
}

func levelSeries(byLevel map[int][]Point) []Series {
	levels := make([]int, 0, len(byLevel))
	for l := range byLevel {
		levels = append(levels, l)
	}
	sort.Ints(levels)

	series := make([]Series, 0, len(levels))
	for _, l := range levels {
		series = append(series, Series{
			Name:   fmt.Sprintf("%s %d", models.EnginePrefix, l),
			Points: byLevel[l],
		})
	}
	return series
}

// MatchupChart lays heatmap cells out with subject Elo on x and engine Elo
// on y. Each present cell is annotated "rating ± deviation".
func MatchupChart(cells []models.HeatmapCell) HeatmapChart {
	xIdx := axisIndex(cells, func(c models.HeatmapCell) float64 { return c.SubjectElo })
	yIdx := axisIndex(cells, func(c models.HeatmapCell) float64 { return c.EngineElo })

	values := make([][]float64, len(yIdx.values))
	notes := make([][]string, len(yIdx.values))
	for r := range values {
		values[r] = make([]float64, len(xIdx.values))
		notes[r] = make([]string, len(xIdx.values))
		for c := range values[r] {
			values[r][c] = math.NaN()
		}
	}
	for _, cell := range cells {
		r, c := yIdx.pos[cell.EngineElo], xIdx.pos[cell.SubjectElo]
		values[r][c] = cell.Rating
		notes[r][c] = fmt.Sprintf("%.0f ± %.0f", cell.Rating, cell.Deviation)
	}

	return HeatmapChart{
		Title:       "Glicko Calc Elo Across Elo Matchups",
		XLabel:      "Model Elo",
		YLabel:      models.EnginePrefix + " Elo",
		XTicks:      xIdx.labels(),
		YTicks:      yIdx.labels(),
		Values:      values,
		Annotations: notes,
	}
}

type axis struct {
	values []float64
	pos    map[float64]int
}

func axisIndex(cells []models.HeatmapCell, key func(models.HeatmapCell) float64) axis {
	a := axis{pos: make(map[float64]int)}
	for _, c := range cells {
		if _, ok := a.pos[key(c)]; !ok {
			a.pos[key(c)] = 0
			a.values = append(a.values, key(c))
		}
	}
	sort.Float64s(a.values)
	for i, v := range a.values {
		a.pos[v] = i
	}
	return a
}

func (a axis) labels() []string {
	out := make([]string, len(a.values))
	for i, v := range a.values {
		out[i] = strconv.FormatFloat(v, 'f', 0, 64)
	}
	return out
}
