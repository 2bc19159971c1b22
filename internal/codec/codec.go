// Package codec translates between train registry state and the fixed-size
// numeric vectors exchanged with an external controller.
package codec

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/cxd309/tms-railenv/internal/graph"
	"github.com/cxd309/tms-railenv/internal/kinematics"
	"github.com/cxd309/tms-railenv/internal/train"
)

// FieldsPerTrain is the number of observation values per train slot.
const FieldsPerTrain = 3

// ErrActionCount is returned when an action vector does not fit the slots.
var ErrActionCount = errors.New("action count mismatch")

// Scales normalises speed and delay into [0, 1].
type Scales struct {
	Speed float64 `json:"speed" yaml:"speed_scale" validate:"gt=0"` // km/h mapped to 1.0
	Delay float64 `json:"delay" yaml:"delay_scale" validate:"gt=0"` // minutes mapped to 1.0
}

// DefaultScales matches the reference controller: 100 km/h and 60 minutes.
func DefaultScales() Scales { return Scales{Speed: 100, Delay: 60} }

// Size returns the observation length for maxTrains slots.
func Size(maxTrains int) int { return FieldsPerTrain * maxTrains }

// Encode lays out [position index, speed, delay] per train in slot order,
// zero-filling unused slots. Trains beyond maxTrains are not observed.
func Encode(trains []*train.Train, g *graph.Graph, maxTrains int, sc Scales) []float64 {
	obs := make([]float64, Size(maxTrains))
	n := g.Len()
	for i, t := range trains {
		if i >= maxTrains {
			break
		}
		pos := 0.0
		if idx := g.StationIndex(t.Position); idx >= 0 && n > 0 {
			pos = float64(idx) / float64(n)
		}
		base := i * FieldsPerTrain
		obs[base] = unit(pos)
		obs[base+1] = unit(ratio(t.Speed, sc.Speed))
		obs[base+2] = unit(ratio(t.Delay, sc.Delay))
	}
	return obs
}

// DecodeActions maps controller integers onto actions. Every value must be in
// range; the vector may not be longer than maxTrains.
func DecodeActions(raw []int, maxTrains int) ([]kinematics.Action, error) {
	if len(raw) > maxTrains {
		return nil, fmt.Errorf("%w: got %d actions for %d slots", ErrActionCount, len(raw), maxTrains)
	}
	out := make([]kinematics.Action, len(raw))
	for i, v := range raw {
		a, err := kinematics.ParseAction(v)
		if err != nil {
			return nil, fmt.Errorf("slot %d: %w", i, err)
		}
		out[i] = a
	}
	return out, nil
}

func ratio(v, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	return v / scale
}

func unit(v float64) float64 { return lo.Clamp(v, 0, 1) }
