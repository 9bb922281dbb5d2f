package gc

import (
	"math/rand/v2"
	"time"
)

// nextPassIn schedules the delay before the next collection pass: the
// configured interval stretched by up to a quarter, never shortened. Passes
// only drift later, so a fleet of workers that started in lockstep spreads
// out over time instead of hammering the store's list API together.
func nextPassIn(interval time.Duration) time.Duration {
	if interval <= 0 {
		return time.Minute
	}
	return interval + rand.N(interval/4+1)
}
