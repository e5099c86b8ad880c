package models

import "time"

// RatingResult is the Glicko-2 estimate for one table: one subject at one
// temperature against one engine pool.
type RatingResult struct {
	Table       string  `json:"table"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	EngineLevel int     `json:"engine_level"`
	SubjectElo  float64 `json:"nanogpt_elo"`
	EngineElo   float64 `json:"stockfish_elo"`
	Rating      float64 `json:"rating"`
	Deviation   float64 `json:"deviation"`
	Volatility  float64 `json:"volatility"`
	Wins        int     `json:"wins"`
	Draws       int     `json:"draws"`
	Losses      int     `json:"losses"`
	MeanPlies   float64 `json:"mean_plies,omitempty"`
}

// Games returns the number of games folded into the estimate.
func (r *RatingResult) Games() int {
	return r.Wins + r.Draws + r.Losses
}

// WinRateSample is the outcome tally of one (temperature, level) group inside
// a single table.
type WinRateSample struct {
	Table       string  `json:"table"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	EngineLevel int     `json:"engine_level"`
	Wins        int     `json:"wins"`
	Draws       int     `json:"draws"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`
}

// WinRateSummary aggregates samples of one (model, temperature, level) group.
type WinRateSummary struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	EngineLevel int     `json:"engine_level"`
	Samples     int     `json:"samples"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	Wins        int     `json:"wins"`
	Draws       int     `json:"draws"`
	Losses      int     `json:"losses"`
	CILow       float64 `json:"ci_low"`
	CIHigh      float64 `json:"ci_high"`
}

// RatingSummary aggregates rating results of one (model, temperature, level)
// group.
type RatingSummary struct {
	Model         string  `json:"model"`
	Temperature   float64 `json:"temperature"`
	EngineLevel   int     `json:"engine_level"`
	Samples       int     `json:"samples"`
	Mean          float64 `json:"mean"`
	StdDev        float64 `json:"std_dev"`
	MeanDeviation float64 `json:"mean_deviation"`
}

// HeatmapCell is the mean rating for one (subject elo, engine elo) matchup.
type HeatmapCell struct {
	SubjectElo float64 `json:"nanogpt_elo"`
	EngineElo  float64 `json:"stockfish_elo"`
	Rating     float64 `json:"rating"`
	Deviation  float64 `json:"deviation"`
	Samples    int     `json:"samples"`
}

// Report is the output of one batch run.
type Report struct {
	ID        string           `json:"id"`
	Project   string           `json:"project"`
	CreatedAt time.Time        `json:"created_at"`
	Tables    int              `json:"tables"`
	Ratings   []RatingResult   `json:"ratings,omitempty"`
	WinRates  []WinRateSummary `json:"win_rates,omitempty"`
	Heatmap   []HeatmapCell    `json:"heatmap,omitempty"`
	Plots     []string         `json:"plots,omitempty"`
}
