package analysis

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/transcendence/internal/glicko2"
	"github.com/rewired-gh/transcendence/internal/models"
)

type groupKey struct {
	model       string
	temperature float64
	level       int
}

func lessKey(a, b groupKey) bool {
	if a.model != b.model {
		return a.model < b.model
	}
	if a.temperature != b.temperature {
		return a.temperature < b.temperature
	}
	return a.level < b.level
}

// WinRates tallies one table per (temperature, level) group. Each group's win
// rate is its own wins over its own games.
func WinRates(t *models.Table) ([]models.WinRateSample, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", glicko2.ErrInvalidInput, err)
	}
	groups := make(map[groupKey]*models.WinRateSample)
	for i := range t.Games {
		g := &t.Games[i]
		level, err := g.EngineLevel()
		if err != nil {
			return nil, fmt.Errorf("table %s row %d: %w", t.Name, i, err)
		}
		outcome, _, err := GameOutcome(g)
		if err != nil {
			return nil, fmt.Errorf("table %s row %d: %w", t.Name, i, err)
		}

		key := groupKey{model: t.Model, temperature: g.Temperature, level: level}
		s, ok := groups[key]
		if !ok {
			s = &models.WinRateSample{Table: t.Name, Model: t.Model, Temperature: g.Temperature, EngineLevel: level}
			groups[key] = s
		}
		switch outcome {
		case glicko2.Win:
			s.Wins++
		case glicko2.Draw:
			s.Draws++
		default:
			s.Losses++
		}
	}

	keys := sortedKeys(groups)
	out := make([]models.WinRateSample, 0, len(keys))
	for _, k := range keys {
		s := groups[k]
		s.WinRate = float64(s.Wins) / float64(s.Wins+s.Draws+s.Losses)
		out = append(out, *s)
	}
	return out, nil
}

// SummarizeWinRates averages per-table win rates of each (model, temperature,
// level) group and attaches a pooled Wilson interval.
func SummarizeWinRates(samples []models.WinRateSample) []models.WinRateSummary {
	rates := make(map[groupKey][]float64)
	sums := make(map[groupKey]*models.WinRateSummary)
	for _, s := range samples {
		key := groupKey{model: s.Model, temperature: s.Temperature, level: s.EngineLevel}
		sum, ok := sums[key]
		if !ok {
			sum = &models.WinRateSummary{Model: s.Model, Temperature: s.Temperature, EngineLevel: s.EngineLevel}
			sums[key] = sum
		}
		sum.Wins += s.Wins
		sum.Draws += s.Draws
		sum.Losses += s.Losses
		rates[key] = append(rates[key], s.WinRate)
	}

	keys := sortedKeys(sums)
	out := make([]models.WinRateSummary, 0, len(keys))
	for _, k := range keys {
		sum := sums[k]
		sum.Samples = len(rates[k])
		sum.Mean, sum.StdDev = meanStdDev(rates[k])
		sum.CILow, sum.CIHigh = WilsonCI95(sum.Wins, 0, sum.Wins+sum.Draws+sum.Losses)
		out = append(out, *sum)
	}
	return out
}

// SummarizeRatings averages rating results of each (model, temperature,
// level) group.
func SummarizeRatings(results []models.RatingResult) []models.RatingSummary {
	ratings := make(map[groupKey][]float64)
	deviations := make(map[groupKey][]float64)
	for _, r := range results {
		key := groupKey{model: r.Model, temperature: r.Temperature, level: r.EngineLevel}
		ratings[key] = append(ratings[key], r.Rating)
		deviations[key] = append(deviations[key], r.Deviation)
	}

	keys := sortedKeys(ratings)
	out := make([]models.RatingSummary, 0, len(keys))
	for _, k := range keys {
		mean, std := meanStdDev(ratings[k])
		out = append(out, models.RatingSummary{
			Model:         k.model,
			Temperature:   k.temperature,
			EngineLevel:   k.level,
			Samples:       len(ratings[k]),
			Mean:          mean,
			StdDev:        std,
			MeanDeviation: stat.Mean(deviations[k], nil),
		})
	}
	return out
}

// Heatmap averages rating and deviation per (subject elo, engine elo)
// matchup, ordered by engine elo then subject elo. Results missing either
// Elo are skipped.
func Heatmap(results []models.RatingResult) []models.HeatmapCell {
	type cellKey struct{ subject, engine float64 }
	ratings := make(map[cellKey][]float64)
	deviations := make(map[cellKey][]float64)
	var order []cellKey
	for _, r := range results {
		if r.SubjectElo <= 0 || r.EngineElo <= 0 {
			continue
		}
		k := cellKey{subject: r.SubjectElo, engine: r.EngineElo}
		if _, ok := ratings[k]; !ok {
			order = append(order, k)
		}
		ratings[k] = append(ratings[k], r.Rating)
		deviations[k] = append(deviations[k], r.Deviation)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].engine != order[j].engine {
			return order[i].engine < order[j].engine
		}
		return order[i].subject < order[j].subject
	})

	cells := make([]models.HeatmapCell, 0, len(order))
	for _, k := range order {
		cells = append(cells, models.HeatmapCell{
			SubjectElo: k.subject,
			EngineElo:  k.engine,
			Rating:     stat.Mean(ratings[k], nil),
			Deviation:  stat.Mean(deviations[k], nil),
			Samples:    len(ratings[k]),
		})
	}
	return cells
}

// WilsonCI95 is the Wilson score interval for a rate of (wins + ties/2) over
// total.
func WilsonCI95(wins, ties, total int) (low, hi float64) {
	if total <= 0 {
		return 0, 1
	}
	z := 1.96
	n := float64(total)
	p := (float64(wins) + 0.5*float64(ties)) / n
	den := 1 + (z*z)/n
	center := p + (z*z)/(2*n)
	half := z * math.Sqrt((p*(1-p))/n+(z*z)/(4*n*n))
	return (center - half) / den, (center + half) / den
}

// meanStdDev returns the mean and sample standard deviation; a single value
// has zero spread.
func meanStdDev(xs []float64) (mean, std float64) {
	if len(xs) < 2 {
		return stat.Mean(xs, nil), 0
	}
	return stat.MeanStdDev(xs, nil)
}

func sortedKeys[V any](m map[groupKey]V) []groupKey {
	keys := make([]groupKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	return keys
}
