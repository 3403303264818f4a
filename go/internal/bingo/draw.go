package bingo

import "github.com/fabi086/Bingo-do-Fab-o/go/internal/models"

// maxRejections caps random picks before falling back to picking from the remaining numbers.
const maxRejections = 32

// IntSource is satisfied by *Rand and *rand.Rand.
type IntSource interface {
	IntN(n int) int
}

// NextNumber picks an undrawn number in [1, MaxNumber] uniformly. It returns
// false once every number has been drawn.
func NextNumber(src IntSource, drawn []int) (int, bool) {
	if len(drawn) >= models.MaxNumber {
		return 0, false
	}
	set := NewDrawnSet(drawn)
	for i := 0; i < maxRejections; i++ {
		n := src.IntN(models.MaxNumber) + 1
		if !set.Has(n) {
			return n, true
		}
	}

	remaining := make([]int, 0, models.MaxNumber-len(set))
	for n := 1; n <= models.MaxNumber; n++ {
		if !set.Has(n) {
			remaining = append(remaining, n)
		}
	}
	if len(remaining) == 0 {
		return 0, false
	}
	return remaining[src.IntN(len(remaining))], true
}
