// Package glicko2 implements the Glicko-2 rating update for a single rating
// period.
//
// Variable names follow Glickman's paper (https://www.glicko.net/glicko/glicko2.pdf):
//   - mu, phi: rating and deviation on the internal Glicko-2 scale.
//   - sigma: volatility.
//   - tau: the volatility change constraint.
//   - g: weight that shrinks the influence of uncertain opponents.
//   - e: expected score against an opponent.
//   - v: estimated variance of the period's performance.
//   - delta: estimated improvement over the period.
package glicko2

import (
	"errors"
	"fmt"
	"math"
)

const (
	// Scale converts between the public 1500-scale and the internal scale.
	Scale = 173.7178

	DefaultRating     = 1500.0
	DefaultDeviation  = 350.0
	DefaultVolatility = 0.06
)

var (
	// ErrInvalidInput reports malformed observations or a malformed prior.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNonConvergence reports that the volatility solve hit its iteration cap.
	ErrNonConvergence = errors.New("volatility solve did not converge")
)

// Rating is a subject's public-scale estimate.
type Rating struct {
	Rating     float64 `json:"rating"`
	Deviation  float64 `json:"deviation"`
	Volatility float64 `json:"volatility"`
}

// Default returns the standard starting estimate.
func Default() Rating {
	return Rating{Rating: DefaultRating, Deviation: DefaultDeviation, Volatility: DefaultVolatility}
}

func (r Rating) validate() error {
	if !finite(r.Rating) {
		return fmt.Errorf("%w: prior rating %v is not finite", ErrInvalidInput, r.Rating)
	}
	if !finite(r.Deviation) || r.Deviation <= 0 {
		return fmt.Errorf("%w: prior deviation %v must be finite and positive", ErrInvalidInput, r.Deviation)
	}
	if !finite(r.Volatility) || r.Volatility <= 0 {
		return fmt.Errorf("%w: prior volatility %v must be finite and positive", ErrInvalidInput, r.Volatility)
	}
	return nil
}

// Opponent is the strength of the other side of a game, as it stood at the
// start of the rating period.
type Opponent struct {
	Rating    float64 `json:"rating"`
	Deviation float64 `json:"deviation"`
}

// Observation is one game result from the subject's perspective.
type Observation struct {
	Outcome  Outcome
	Opponent Opponent
}

func (o Observation) validate(i int) error {
	if !o.Outcome.Valid() {
		return fmt.Errorf("%w: observation %d: outcome %d is not win, loss or draw", ErrInvalidInput, i, o.Outcome)
	}
	if !finite(o.Opponent.Rating) {
		return fmt.Errorf("%w: observation %d: opponent rating %v is not finite", ErrInvalidInput, i, o.Opponent.Rating)
	}
	if !finite(o.Opponent.Deviation) || o.Opponent.Deviation < 0 {
		return fmt.Errorf("%w: observation %d: opponent deviation %v must be finite and non-negative", ErrInvalidInput, i, o.Opponent.Deviation)
	}
	return nil
}

// Config tunes the volatility solve.
type Config struct {
	Tau           float64
	Epsilon       float64
	MaxIterations int
}

// DefaultConfig returns tau 0.5, a 1e-6 convergence tolerance and a cap of
// 100 iterations.
func DefaultConfig() Config {
	return Config{
		Tau:           0.5,
		Epsilon:       1e-6,
		MaxIterations: 100,
	}
}

// Estimator applies rating periods. It holds no mutable state and is safe for
// concurrent use.
type Estimator struct {
	config Config
}

// New returns an Estimator. Zero fields in config fall back to DefaultConfig.
func New(config Config) *Estimator {
	def := DefaultConfig()
	if config.Tau <= 0 {
		config.Tau = def.Tau
	}
	if config.Epsilon <= 0 {
		config.Epsilon = def.Epsilon
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = def.MaxIterations
	}
	return &Estimator{config: config}
}

// Config returns the effective configuration.
func (e *Estimator) Config() Config {
	return e.config
}

// Estimate rates a fresh subject from a single period of observations using
// the default prior and configuration.
func Estimate(obs []Observation) (Rating, error) {
	return New(DefaultConfig()).Update(Default(), obs)
}

// Update folds one rating period into prior and returns the new estimate.
// An empty period is rejected with ErrInvalidInput.
//
// The new deviation is normally below the prior's, but a long streak of
// extreme upsets drives the volatility up far enough that it can exceed it.
func (e *Estimator) Update(prior Rating, obs []Observation) (Rating, error) {
	if err := prior.validate(); err != nil {
		return Rating{}, err
	}
	if len(obs) == 0 {
		return Rating{}, fmt.Errorf("%w: rating period has no observations", ErrInvalidInput)
	}
	for i, o := range obs {
		if err := o.validate(i); err != nil {
			return Rating{}, err
		}
	}

	mu, phi := toInternal(prior.Rating, prior.Deviation)

	var vInv, sum float64
	for _, o := range obs {
		muJ, phiJ := toInternal(o.Opponent.Rating, o.Opponent.Deviation)
		gJ := g(phiJ)
		eJ := expected(mu, muJ, gJ)
		vInv += gJ * gJ * eJ * (1 - eJ)
		sum += gJ * (o.Outcome.Score() - eJ)
	}
	if vInv <= 0 || !finite(vInv) {
		return Rating{}, fmt.Errorf("%w: observations carry no information (v undefined)", ErrInvalidInput)
	}
	v := 1 / vInv
	delta := v * sum

	sigma, err := e.volatility(prior.Volatility, delta, phi, v)
	if err != nil {
		return Rating{}, err
	}

	phiStar := math.Sqrt(phi*phi + sigma*sigma)
	phiNew := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)
	muNew := mu + phiNew*phiNew*sum

	r, rd := fromInternal(muNew, phiNew)
	return Rating{Rating: r, Deviation: rd, Volatility: sigma}, nil
}

// volatility solves f(x) = 0 for x = ln(sigma'^2) with the Illinois method.
func (e *Estimator) volatility(sigma, delta, phi, v float64) (float64, error) {
	tau := e.config.Tau
	a := math.Log(sigma * sigma)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		d := phi*phi + v + ex
		return ex*(delta*delta-phi*phi-v-ex)/(2*d*d) - (x-a)/(tau*tau)
	}

	A := a
	var B float64
	if delta*delta > phi*phi+v {
		B = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1
		for f(a-float64(k)*tau) < 0 {
			if k >= e.config.MaxIterations {
				return 0, fmt.Errorf("%w: no bracket after %d steps", ErrNonConvergence, k)
			}
			k++
		}
		B = a - float64(k)*tau
	}

	fA, fB := f(A), f(B)
	for i := 0; math.Abs(B-A) > e.config.Epsilon; i++ {
		if i >= e.config.MaxIterations {
			return 0, fmt.Errorf("%w: |B-A| = %g after %d iterations", ErrNonConvergence, math.Abs(B-A), i)
		}
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if !finite(fC) {
			return 0, fmt.Errorf("%w: f(%g) is not finite", ErrNonConvergence, C)
		}
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC
	}
	return math.Exp(A / 2), nil
}

func toInternal(r, rd float64) (mu, phi float64) {
	return (r - DefaultRating) / Scale, rd / Scale
}

func fromInternal(mu, phi float64) (r, rd float64) {
	return mu*Scale + DefaultRating, phi * Scale
}

func g(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

func expected(mu, muJ, gJ float64) float64 {
	return 1 / (1 + math.Exp(-gJ*(mu-muJ)))
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
