package glicko2

import (
	"fmt"
	"strings"
)

// Outcome is a game result from the subject's perspective.
type Outcome int

const (
	Loss Outcome = iota
	Draw
	Win
)

// Score maps the outcome to 0, 0.5 or 1.
func (o Outcome) Score() float64 {
	switch o {
	case Win:
		return 1
	case Draw:
		return 0.5
	default:
		return 0
	}
}

func (o Outcome) Valid() bool {
	return o == Loss || o == Draw || o == Win
}

func (o Outcome) String() string {
	switch o {
	case Win:
		return "win"
	case Draw:
		return "draw"
	case Loss:
		return "loss"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ParseOutcome reads a score as logged in game tables: "1", "0", "1/2",
// "0.5" or "½".
func ParseOutcome(score string) (Outcome, error) {
	switch strings.TrimSpace(score) {
	case "1", "1.0":
		return Win, nil
	case "0", "0.0":
		return Loss, nil
	case "1/2", "0.5", "½":
		return Draw, nil
	default:
		return 0, fmt.Errorf("%w: unknown score %q", ErrInvalidInput, score)
	}
}
