package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"github.com/cxd309/tms-railenv/internal/kinematics"
	"github.com/cxd309/tms-railenv/internal/loader"
)

// Run builds a network from input, plays one episode under the input policy
// and returns the per-tick log.
func Run(input SimulationInput, logger *slog.Logger) (SimulationLog, error) {
	lopts := loader.DefaultOptions()
	if input.Loader != nil {
		lopts = *input.Loader
	}
	net, err := loader.New(lopts, nil, nil, logger).Load(input.Network.Stations, input.Network.Tracks)
	if err != nil {
		return SimulationLog{}, fmt.Errorf("loading network: %w", err)
	}
	opts := DefaultOptions()
	if input.Options != nil {
		opts = *input.Options
	}
	env, err := NewEnv(net.Graph(), opts, logger)
	if err != nil {
		return SimulationLog{}, fmt.Errorf("creating environment: %w", err)
	}

	action := int(kinematics.ActionNormal)
	if input.Policy.Action != nil {
		action = *input.Policy.Action
	}
	trains := len(env.Snapshot())

	out := SimulationLog{Meta: input.Meta}
	for tick := 0; !env.Done(); tick++ {
		if input.Meta.MaxTicks > 0 && tick >= input.Meta.MaxTicks {
			break
		}
		acts := lo.Times(trains, func(int) int { return action })
		if tick < len(input.Policy.Script) {
			acts = input.Policy.Script[tick]
		}
		res, err := env.Step(acts)
		if err != nil {
			return SimulationLog{}, fmt.Errorf("tick %d: %w", tick, err)
		}
		out.Output = append(out.Output, SimulationLogRow{
			Time:      res.Time,
			Rewards:   res.Rewards,
			Done:      res.Done,
			TrainLogs: env.Snapshot(),
		})
	}
	out.Summary = env.Summary()
	return out, nil
}

// RunJSON is the entry point shared by the CLI and WASM targets. It accepts a
// JSON-encoded SimulationInput and returns a JSON-encoded SimulationLog.
func RunJSON(jsonInput string) (string, error) {
	var input SimulationInput
	if err := json.Unmarshal([]byte(jsonInput), &input); err != nil {
		return "", fmt.Errorf("invalid input JSON: %w", err)
	}

	simLog, err := Run(input, nil)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(simLog)
	if err != nil {
		return "", fmt.Errorf("marshaling output: %w", err)
	}
	return string(out), nil
}
