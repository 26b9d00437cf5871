package withdraw

import (
	"math"
	"math/rand"
)

// RandomAmount draws a withdrawal amount uniformly from [min, max] and rounds
// it to a random precision between 5 and 12 decimal places. Round amounts or
// a fixed precision repeated across many accounts are an easy automation
// signature; varying both hides it.
func RandomAmount(min, max float64, rng *rand.Rand) float64 {
	v := min + rng.Float64()*(max-min)
	precision := 5 + rng.Intn(8) // 5..12
	scale := math.Pow10(precision)
	v = math.Round(v*scale) / scale

	// rounding can nudge the value just outside the range
	if v < min {
		v = min
	}
	if v > max {
		v = max
	}
	return v
}
