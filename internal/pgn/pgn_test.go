package pgn

import (
	"errors"
	"testing"

	"github.com/rewired-gh/transcendence/internal/glicko2"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{";1.e4 e5 2.Nf3 Nc6", "1. e4 e5 2. Nf3 Nc6"},
		{"1. e4 e5", "1. e4 e5"},
		{"  ;  ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOutcome(t *testing.T) {
	const foolsMate = ";1.f3 e5 2.g4 Qh4# 0-1"

	tests := []struct {
		name         string
		transcript   string
		subjectWhite bool
		want         glicko2.Outcome
		wantPlies    int
	}{
		{"black mates, subject black", foolsMate, false, glicko2.Win, 4},
		{"black mates, subject white", foolsMate, true, glicko2.Loss, 4},
		{"agreed draw", "1. e4 e5 2. Nf3 Nc6 1/2-1/2", true, glicko2.Draw, 4},
		{"white resigns opponent", "1. e4 e5 1-0", true, glicko2.Win, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, plies, err := Outcome(tt.transcript, tt.subjectWhite)
			if err != nil {
				t.Fatalf("Outcome: %v", err)
			}
			if got != tt.want {
				t.Errorf("outcome = %v, want %v", got, tt.want)
			}
			if plies != tt.wantPlies {
				t.Errorf("plies = %d, want %d", plies, tt.wantPlies)
			}
		})
	}
}

func TestOutcome_Undecided(t *testing.T) {
	_, _, err := Outcome("1. e4 e5 2. Nf3 *", true)
	if !errors.Is(err, ErrUndecided) {
		t.Errorf("err = %v, want ErrUndecided", err)
	}
}

func TestOutcome_Empty(t *testing.T) {
	if _, _, err := Outcome(" ; ", true); err == nil {
		t.Error("expected error for empty transcript")
	}
}

func TestPlies(t *testing.T) {
	n, err := Plies(";1.e4 e5 2.Nf3 *")
	if err != nil {
		t.Fatalf("Plies: %v", err)
	}
	if n != 3 {
		t.Errorf("Plies = %d, want 3", n)
	}
}
