package kinematics

import "math"

// MinSpeed is the floor applied to effective speed when computing progress so a
// stopped train still has a finite travel time.
const MinSpeed = 1.0

// TickMinutes is the simulated time covered by one tick.
const TickMinutes = 1.0

// LimitFraction runs trains at a fixed fraction of the track speed limit per
// action. It is the default model.
type LimitFraction struct{}

func (LimitFraction) EffectiveSpeed(limit float64, a Action) float64 {
	if limit <= 0 || math.IsNaN(limit) {
		return 0
	}
	return limit * a.Multiplier()
}

func (LimitFraction) DistancePerTick(speed float64) float64 {
	return math.Max(speed, MinSpeed) * TickMinutes / 60
}

func (LimitFraction) TravelMinutes(lengthKM, speed float64) float64 {
	return lengthKM / math.Max(speed, MinSpeed) * 60
}
