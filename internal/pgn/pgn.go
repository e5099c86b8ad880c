// Package pgn recovers game results from logged move transcripts.
package pgn

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/notnil/chess"

	"github.com/rewired-gh/transcendence/internal/glicko2"
)

// ErrUndecided is returned for transcripts that end without a result.
var ErrUndecided = errors.New("game has no result")

// "1.e4" -> "1. e4"; model transcripts omit the space after move numbers.
var moveNumber = regexp.MustCompile(`(\d+)\.(\S)`)

// Normalize turns a logged transcript into PGN movetext the parser accepts.
func Normalize(transcript string) string {
	s := strings.TrimSpace(transcript)
	s = strings.TrimPrefix(s, ";")
	s = moveNumber.ReplaceAllString(s, "$1. $2")
	return strings.TrimSpace(s)
}

// Outcome replays transcript and returns the result from the subject's side
// together with the number of plies played.
func Outcome(transcript string, subjectWhite bool) (glicko2.Outcome, int, error) {
	movetext := Normalize(transcript)
	if movetext == "" {
		return 0, 0, fmt.Errorf("empty transcript")
	}

	opt, err := chess.PGN(strings.NewReader(movetext))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse transcript: %w", err)
	}
	game := chess.NewGame(opt)
	plies := len(game.Moves())

	switch game.Outcome() {
	case chess.Draw:
		return glicko2.Draw, plies, nil
	case chess.WhiteWon:
		if subjectWhite {
			return glicko2.Win, plies, nil
		}
		return glicko2.Loss, plies, nil
	case chess.BlackWon:
		if subjectWhite {
			return glicko2.Loss, plies, nil
		}
		return glicko2.Win, plies, nil
	default:
		return 0, plies, ErrUndecided
	}
}

// Plies counts the half-moves of a transcript without judging the result.
func Plies(transcript string) (int, error) {
	movetext := Normalize(transcript)
	if movetext == "" {
		return 0, nil
	}
	opt, err := chess.PGN(strings.NewReader(movetext))
	if err != nil {
		return 0, fmt.Errorf("failed to parse transcript: %w", err)
	}
	return len(chess.NewGame(opt).Moves()), nil
}
