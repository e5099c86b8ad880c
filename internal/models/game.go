// Package models defines the core domain records: logged games, game tables,
// and the statistics derived from them.
package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// EnginePrefix marks the chess engine's player name, e.g. "Stockfish 3".
const EnginePrefix = "Stockfish"

// Game is one row of a logged game table. The subject is the language model;
// the other player is the engine. Player one plays white.
type Game struct {
	Title          string  `json:"game_title"`
	PlayerOne      string  `json:"player_one"`
	PlayerTwo      string  `json:"player_two"`
	PlayerOneScore string  `json:"player_one_score"`
	PlayerTwoScore string  `json:"player_two_score"`
	Temperature    float64 `json:"temperature"`
	SubjectElo     float64 `json:"nanogpt_elo,omitempty"`
	EngineElo      float64 `json:"stockfish_elo,omitempty"`
	Transcript     string  `json:"transcript,omitempty"`
}

// EngineIsPlayerOne reports whether the engine sits in the player-one seat.
func (g *Game) EngineIsPlayerOne() (bool, error) {
	switch {
	case strings.HasPrefix(g.PlayerOne, EnginePrefix):
		return true, nil
	case strings.HasPrefix(g.PlayerTwo, EnginePrefix):
		return false, nil
	default:
		return false, fmt.Errorf("no %s player in %q vs %q", EnginePrefix, g.PlayerOne, g.PlayerTwo)
	}
}

// SubjectIsWhite reports whether the language model played white.
func (g *Game) SubjectIsWhite() (bool, error) {
	engineOne, err := g.EngineIsPlayerOne()
	if err != nil {
		return false, err
	}
	return !engineOne, nil
}

// SubjectScore returns the subject's score exactly as logged.
func (g *Game) SubjectScore() (string, error) {
	engineOne, err := g.EngineIsPlayerOne()
	if err != nil {
		return "", err
	}
	if engineOne {
		return g.PlayerTwoScore, nil
	}
	return g.PlayerOneScore, nil
}

// EngineLevel parses the skill level from the engine's player name, falling
// back to the game title.
func (g *Game) EngineLevel() (int, error) {
	engineOne, err := g.EngineIsPlayerOne()
	if err == nil {
		name := g.PlayerTwo
		if engineOne {
			name = g.PlayerOne
		}
		if level, ok := parseLevel(name); ok {
			return level, nil
		}
	}
	if i := strings.Index(g.Title, EnginePrefix+" "); i >= 0 {
		if level, ok := parseLevel(g.Title[i:]); ok {
			return level, nil
		}
	}
	return 0, fmt.Errorf("no %s skill level in game %q", EnginePrefix, g.Title)
}

func parseLevel(s string) (int, bool) {
	fields := strings.Fields(strings.TrimPrefix(s, EnginePrefix))
	if len(fields) == 0 {
		return 0, false
	}
	level, err := strconv.Atoi(strings.Trim(fields[0], ",;:()"))
	if err != nil || level < 0 {
		return 0, false
	}
	return level, true
}

// Validate checks game field constraints.
func (g *Game) Validate() error {
	if _, err := g.EngineIsPlayerOne(); err != nil {
		return err
	}
	if math.IsNaN(g.Temperature) || math.IsInf(g.Temperature, 0) || g.Temperature < 0 {
		return errors.New("temperature must be finite and non-negative")
	}
	if g.SubjectElo < 0 || g.EngineElo < 0 {
		return errors.New("elo columns must not be negative")
	}
	if math.IsNaN(g.SubjectElo) || math.IsInf(g.SubjectElo, 0) ||
		math.IsNaN(g.EngineElo) || math.IsInf(g.EngineElo, 0) {
		return errors.New("elo columns must be finite")
	}
	score, _ := g.SubjectScore()
	if strings.TrimSpace(score) == "" && strings.TrimSpace(g.Transcript) == "" {
		return errors.New("game has neither a score nor a transcript")
	}
	return nil
}

// Table is one logged evaluation table: every game one run played at a
// single sampling temperature.
type Table struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Games []Game `json:"games"`
}

// Validate checks table constraints.
func (t *Table) Validate() error {
	if t.Name == "" {
		return errors.New("table name must not be empty")
	}
	if len(t.Games) == 0 {
		return fmt.Errorf("table %s has no games", t.Name)
	}
	for i := range t.Games {
		if err := t.Games[i].Validate(); err != nil {
			return fmt.Errorf("table %s row %d: %w", t.Name, i, err)
		}
	}
	return nil
}
