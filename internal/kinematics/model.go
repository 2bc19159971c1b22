// Package kinematics defines how a controller action turns into train speed
// and progress along a track.
//
// The environment models no braking or acceleration curves: a train runs at
// its effective speed for the whole tick. Adding a different speed model only
// requires implementing SpeedModel; the engine never needs to change.
package kinematics

import (
	"errors"
	"fmt"
)

// Action is a discrete controller choice for one train.
type Action int

const (
	ActionStop Action = iota
	ActionSlow
	ActionNormal
	ActionFast
)

// NumActions is the size of the action space per train.
const NumActions = 4

// ErrInvalidAction is returned for action indices outside [0, NumActions).
var ErrInvalidAction = errors.New("invalid action")

var multipliers = [NumActions]float64{0, 0.5, 1.0, 1.5}

var actionNames = [NumActions]string{"stop", "slow", "normal", "fast"}

// ParseAction converts a controller integer into an Action.
func ParseAction(i int) (Action, error) {
	if i < 0 || i >= NumActions {
		return 0, fmt.Errorf("%w %d: want 0..%d", ErrInvalidAction, i, NumActions-1)
	}
	return Action(i), nil
}

// Valid reports whether a is one of the defined actions.
func (a Action) Valid() bool { return a >= 0 && a < NumActions }

// Multiplier returns the fraction of the track speed limit the action asks for.
func (a Action) Multiplier() float64 {
	if !a.Valid() {
		return 0
	}
	return multipliers[a]
}

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Action(%d)", int(a))
	}
	return actionNames[a]
}

// SpeedModel is the contract every speed model must satisfy.
// Distances are kilometres, speeds km/h and time simulated minutes.
type SpeedModel interface {
	// EffectiveSpeed returns the speed a train runs at on a track with the given
	// limit under action a.
	EffectiveSpeed(limit float64, a Action) float64

	// DistancePerTick returns how far a train at speed moves in one tick.
	DistancePerTick(speed float64) float64

	// TravelMinutes returns the time needed to cover lengthKM at speed.
	TravelMinutes(lengthKM, speed float64) float64
}
