package memstore

import (
	"math"
	"time"
)

// DecayParams controls lazy importance decay. The curve is exponential
// with a configurable half-life: unconfirmed memories lose half their
// importance every half-life, down to a floor so nothing is ever fully
// forgotten. Decay is computed at read time only; rows are never
// mutated by a background process.
type DecayParams struct {
	HalfLife time.Duration
	Floor    float64
}

// EffectiveImportance returns the decayed importance of a unit at the
// given instant. The result is monotonically non-increasing in elapsed
// time since the last reinforcement.
func (p DecayParams) EffectiveImportance(u *MemoryUnit, now time.Time) float64 {
	last := u.LastReinforced
	if last.IsZero() {
		last = u.CreatedAt
	}

	age := now.Sub(last)
	if age <= 0 || p.HalfLife <= 0 {
		return u.Importance
	}

	decayed := u.Importance * math.Pow(2, -age.Hours()/p.HalfLife.Hours())
	if decayed < p.Floor {
		return p.Floor
	}
	return decayed
}

// Reinforce returns the saturated importance after one reinforcement.
// The step shrinks as importance approaches 1.0, so the curve is
// monotonic and never exceeds 1.0.
func Reinforce(importance, gain float64) float64 {
	next := importance + (1.0-importance)*gain
	if next > 1.0 {
		return 1.0
	}
	return next
}
