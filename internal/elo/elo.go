// Package elo computes rating updates for a finished two-player game.
package elo

import "math"

// K is the rating sensitivity applied to every game.
const K = 32

// Result is the declared outcome from white's perspective.
type Result string

const (
	WhiteWins Result = "white"
	BlackWins Result = "black"
	Draw      Result = "draw"
)

// Expected returns the expected score of a player rated ra against rb.
func Expected(ra, rb int) float64 {
	return 1 / (1 + math.Pow(10, float64(rb-ra)/400))
}

// Calculate returns the new white and black ratings. An unrecognised result
// is scored as a draw.
func Calculate(white, black int, result Result) (newWhite, newBlack int) {
	expWhite := Expected(white, black)
	expBlack := 1 - expWhite

	var actWhite, actBlack float64
	switch result {
	case WhiteWins:
		actWhite, actBlack = 1, 0
	case BlackWins:
		actWhite, actBlack = 0, 1
	default:
		actWhite, actBlack = 0.5, 0.5
	}

	newWhite = round(float64(white) + K*(actWhite-expWhite))
	newBlack = round(float64(black) + K*(actBlack-expBlack))
	return newWhite, newBlack
}

// round is half away from zero so swapping sides mirrors the result exactly.
func round(f float64) int {
	if f >= 0 {
		return int(math.Floor(f + 0.5))
	}
	return int(math.Ceil(f - 0.5))
}
