// Package analysis turns game tables into ratings and win-rate statistics.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/transcendence/internal/glicko2"
	"github.com/rewired-gh/transcendence/internal/logger"
	"github.com/rewired-gh/transcendence/internal/models"
	"github.com/rewired-gh/transcendence/internal/pgn"
)

// ErrMixedTemperature is returned when a table mixes sampling temperatures;
// one table is one rating period for one subject.
var ErrMixedTemperature = errors.New("table mixes temperatures")

// ErrMixedLevel is returned when a table mixes engine skill levels. The
// result reports one opponent level per table.
var ErrMixedLevel = errors.New("table mixes engine levels")

// Config controls how tables are rated.
type Config struct {
	Prior             glicko2.Rating
	Glicko            glicko2.Config
	OpponentDeviation float64
	EngineElo         map[int]float64 // skill level -> Elo
	Workers           int
}

// DefaultConfig returns the standard Glicko-2 prior with a 50-point opponent
// deviation and no engine calibration.
func DefaultConfig() Config {
	return Config{
		Prior:             glicko2.Default(),
		Glicko:            glicko2.DefaultConfig(),
		OpponentDeviation: 50,
		EngineElo:         map[int]float64{},
		Workers:           4,
	}
}

// Analyzer rates game tables. It is safe for concurrent use.
type Analyzer struct {
	estimator *glicko2.Estimator
	config    Config
}

// New creates an analyzer. Workers below 1 is treated as 1.
func New(config Config) *Analyzer {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Analyzer{
		estimator: glicko2.New(config.Glicko),
		config:    config,
	}
}

// RateTable folds every game of t into one rating period against the engine
// pool and returns the subject's estimate.
func (a *Analyzer) RateTable(t *models.Table) (models.RatingResult, error) {
	if err := t.Validate(); err != nil {
		return models.RatingResult{}, fmt.Errorf("%w: %v", glicko2.ErrInvalidInput, err)
	}

	first := &t.Games[0]
	level, err := first.EngineLevel()
	if err != nil {
		return models.RatingResult{}, fmt.Errorf("table %s: %w", t.Name, err)
	}
	result := models.RatingResult{
		Table:       t.Name,
		Model:       t.Model,
		Temperature: first.Temperature,
		EngineLevel: level,
		SubjectElo:  first.SubjectElo,
	}

	obs := make([]glicko2.Observation, 0, len(t.Games))
	var plies, withPlies int
	for i := range t.Games {
		g := &t.Games[i]
		if g.Temperature != result.Temperature {
			return models.RatingResult{}, fmt.Errorf("table %s row %d: %w (%v vs %v)",
				t.Name, i, ErrMixedTemperature, g.Temperature, result.Temperature)
		}
		if l, err := g.EngineLevel(); err != nil {
			return models.RatingResult{}, fmt.Errorf("table %s row %d: %w", t.Name, i, err)
		} else if l != level {
			return models.RatingResult{}, fmt.Errorf("table %s row %d: %w (%d vs %d)",
				t.Name, i, ErrMixedLevel, l, level)
		}

		outcome, n, err := GameOutcome(g)
		if err != nil {
			return models.RatingResult{}, fmt.Errorf("table %s row %d: %w", t.Name, i, err)
		}
		opp, err := a.opponentRating(g)
		if err != nil {
			return models.RatingResult{}, fmt.Errorf("table %s row %d: %w", t.Name, i, err)
		}
		if i == 0 {
			result.EngineElo = opp
		}
		if n > 0 {
			plies += n
			withPlies++
		}

		switch outcome {
		case glicko2.Win:
			result.Wins++
		case glicko2.Draw:
			result.Draws++
		default:
			result.Losses++
		}
		obs = append(obs, glicko2.Observation{
			Outcome:  outcome,
			Opponent: glicko2.Opponent{Rating: opp, Deviation: a.config.OpponentDeviation},
		})
	}

	rating, err := a.estimator.Update(a.config.Prior, obs)
	if err != nil {
		return models.RatingResult{}, fmt.Errorf("table %s: %w", t.Name, err)
	}
	result.Rating = rating.Rating
	result.Deviation = rating.Deviation
	result.Volatility = rating.Volatility
	if withPlies > 0 {
		result.MeanPlies = float64(plies) / float64(withPlies)
	}

	logger.Debug("Rated table %s (%s, T=%.2f, level %d): %.1f ± %.1f over %d games",
		t.Name, t.Model, result.Temperature, result.EngineLevel, result.Rating, result.Deviation, result.Games())
	return result, nil
}

// RateTables rates independent tables concurrently. Results keep input order;
// the first failure cancels the rest.
func (a *Analyzer) RateTables(ctx context.Context, tables []*models.Table) ([]models.RatingResult, error) {
	results := make([]models.RatingResult, len(tables))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.Workers)

	for i, t := range tables {
		i, t := i, t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := a.RateTable(t)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Analyzer) opponentRating(g *models.Game) (float64, error) {
	if g.EngineElo > 0 {
		return g.EngineElo, nil
	}
	level, err := g.EngineLevel()
	if err != nil {
		return 0, err
	}
	elo, ok := a.config.EngineElo[level]
	if !ok {
		return 0, fmt.Errorf("no Elo calibration for %s level %d", models.EnginePrefix, level)
	}
	return elo, nil
}

// GameOutcome returns the subject's result, preferring the logged score and
// falling back to replaying the transcript. The ply count is 0 when the game
// has no parseable transcript.
func GameOutcome(g *models.Game) (glicko2.Outcome, int, error) {
	score, err := g.SubjectScore()
	if err != nil {
		return 0, 0, err
	}

	if strings.TrimSpace(score) != "" {
		outcome, err := glicko2.ParseOutcome(score)
		if err != nil {
			return 0, 0, err
		}
		var plies int
		if g.Transcript != "" {
			if plies, err = pgn.Plies(g.Transcript); err != nil {
				logger.Debug("Ignoring unparseable transcript in %q: %v", g.Title, err)
				plies = 0
			}
		}
		return outcome, plies, nil
	}

	white, err := g.SubjectIsWhite()
	if err != nil {
		return 0, 0, err
	}
	outcome, plies, err := pgn.Outcome(g.Transcript, white)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", glicko2.ErrInvalidInput, err)
	}
	return outcome, plies, nil
}
