// Package engine implements the railway environment: the simulation clock,
// the per-tick step and the reward and termination rules.
//
// Each step has two passes:
//
//  1. Motion pass - trains are resolved one at a time in the registry's
//     resolution order. A train asks the occupancy model for its next track
//     and, at the far end, for a platform; a refusal holds it in place and adds
//     one minute of delay.
//
//  2. Scoring pass - once every train has moved, the clock advances and each
//     train is scored and checked for termination in spawn order.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/cxd309/tms-railenv/internal/codec"
	"github.com/cxd309/tms-railenv/internal/graph"
	"github.com/cxd309/tms-railenv/internal/kinematics"
	"github.com/cxd309/tms-railenv/internal/logging"
	"github.com/cxd309/tms-railenv/internal/occupancy"
	"github.com/cxd309/tms-railenv/internal/train"
)

var (
	ErrEmptyNetwork = errors.New("network has no stations")
	ErrEpisodeDone  = errors.New("episode is done; call Reset")
	ErrActionCount  = codec.ErrActionCount
)

// arrivalTolerance absorbs floating point drift when summing per-tick distances.
const arrivalTolerance = 1e-9

// Env is one railway environment. The graph may be shared; everything else is
// owned by the Env and must not be shared between concurrent episodes.
type Env struct {
	g      *graph.Graph
	opts   Options
	model  kinematics.SpeedModel
	occ    *occupancy.Model
	reg    *train.Registry
	logger *slog.Logger

	elapsed     float64 // minutes
	ticks       int
	done        bool
	episode     int
	totalReward float64
}

// NewEnv builds an environment over g and performs the first Reset. Zero-valued
// options fall back to DefaultOptions; a nil logger discards output.
func NewEnv(g *graph.Graph, opts Options, logger *slog.Logger) (*Env, error) {
	if g == nil || g.Len() == 0 {
		return nil, ErrEmptyNetwork
	}
	opts, err := normalize(opts)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	e := &Env{
		g:      g,
		opts:   opts,
		model:  kinematics.LimitFraction{},
		occ:    occupancy.New(g, opts.EdgeCapacity),
		reg:    train.NewRegistry(),
		logger: logger,
	}
	e.Reset()
	return e, nil
}

func normalize(o Options) (Options, error) {
	d := DefaultOptions()
	if o.MaxTrains == 0 {
		o.MaxTrains = d.MaxTrains
	}
	if o.TimeBudget == 0 {
		o.TimeBudget = d.TimeBudget
	}
	if o.EdgeCapacity == 0 {
		o.EdgeCapacity = d.EdgeCapacity
	}
	if o.SpawnPool == 0 {
		o.SpawnPool = d.SpawnPool
	}
	reward := *d.Reward
	if o.Reward != nil {
		reward = *o.Reward
	}
	o.Reward = &reward
	if o.Scales.Speed == 0 {
		o.Scales.Speed = d.Scales.Speed
	}
	if o.Scales.Delay == 0 {
		o.Scales.Delay = d.Scales.Delay
	}
	order, err := train.ParseOrder(string(o.Order))
	if err != nil {
		return Options{}, err
	}
	o.Order = order
	switch {
	case o.MaxTrains < 0:
		return Options{}, fmt.Errorf("max trains must be positive, got %d", o.MaxTrains)
	case o.TimeBudget < 0:
		return Options{}, fmt.Errorf("time budget must be positive, got %v", o.TimeBudget)
	case o.EdgeCapacity < 0:
		return Options{}, fmt.Errorf("edge capacity must be positive, got %d", o.EdgeCapacity)
	case o.SpawnPool < 0:
		return Options{}, fmt.Errorf("spawn pool must be positive, got %d", o.SpawnPool)
	case reward.DelayPenalty < 0 || reward.ArrivalBonus < 0 || reward.ImportanceWeight < 0:
		return Options{}, fmt.Errorf("reward weights must not be negative, got %+v", reward)
	case o.Scales.Speed < 0 || o.Scales.Delay < 0:
		return Options{}, fmt.Errorf("observation scales must be positive, got %+v", o.Scales)
	}
	return o, nil
}

// Options returns the effective options.
func (e *Env) Options() Options { return e.opts }

// Graph returns the shared network graph.
func (e *Env) Graph() *graph.Graph { return e.g }

// Occupancy exposes the occupancy model for inspection.
func (e *Env) Occupancy() *occupancy.Model { return e.occ }

// Elapsed returns the simulated minutes since the last Reset.
func (e *Env) Elapsed() float64 { return e.elapsed }

// Done reports whether the current episode has ended.
func (e *Env) Done() bool { return e.done }

// Episode returns the number of resets performed.
func (e *Env) Episode() int { return e.episode }

// ObservationSize is the fixed length of every observation.
func (e *Env) ObservationSize() int { return codec.Size(e.opts.MaxTrains) }

// Reset discards all per-episode state, spawns a fresh set of trains and
// returns the initial observation.
func (e *Env) Reset() []float64 {
	e.occ.Reset()
	e.reg.Clear()
	e.elapsed = 0
	e.ticks = 0
	e.done = false
	e.totalReward = 0
	e.episode++
	e.spawnTrains()
	e.logger.Info("episode reset", "episode", e.episode, "trains", e.reg.Len())
	return e.observe()
}

// spawnTrains pairs the top stations by importance sequentially: the i-th
// train runs from the i-th to the (i+1)-th most important station.
func (e *Env) spawnTrains() {
	top := e.g.TopStations(e.opts.SpawnPool)
	n := min(e.opts.MaxTrains, len(top)-1)
	for i := 0; i < n; i++ {
		start, dest := top[i].Name, top[i+1].Name
		path := e.g.GetShortestPath(start, dest)
		t := train.New(fmt.Sprintf("T%d", i), start, dest, path.Route, path.Reachable)
		if err := e.reg.Add(t); err != nil {
			e.logger.Error("spawn failed", "train", t.ID, "err", err)
			continue
		}
		if err := e.occ.EnterStation(start, t.ID); err != nil {
			e.logger.Warn("spawn station full", "train", t.ID, "station", start, "err", err)
		}
		if !path.Reachable {
			e.logger.Warn("no route, using direct hop", "train", t.ID, "from", start, "to", dest)
		}
	}
}

// Step applies one action per train in spawn slot order and advances the
// clock by one tick. Invalid actions are rejected before any state changes.
func (e *Env) Step(actions []int) (StepResult, error) {
	if e.done {
		return StepResult{}, ErrEpisodeDone
	}
	acts, err := codec.DecodeActions(actions, e.opts.MaxTrains)
	if err != nil {
		return StepResult{}, fmt.Errorf("step at t=%v: %w", e.elapsed, err)
	}
	if len(acts) < e.reg.Len() && !e.opts.AllowPartialActions {
		return StepResult{}, fmt.Errorf("step at t=%v: %w: got %d actions for %d trains",
			e.elapsed, ErrActionCount, len(acts), e.reg.Len())
	}

	// Pass 1: resolve movement. Trains without an action are not advanced.
	for _, i := range e.reg.ResolutionOrder(e.opts.Order) {
		if i >= len(acts) {
			continue
		}
		e.advance(e.reg.At(i), acts[i])
	}

	e.ticks++
	e.elapsed += kinematics.TickMinutes
	outOfTime := e.elapsed >= e.opts.TimeBudget

	// Pass 2: score and check termination in spawn order.
	res := StepResult{
		Rewards: make([]float64, e.reg.Len()),
		Info:    make(map[string]TrainInfo, e.reg.Len()),
		Time:    e.elapsed,
	}
	allDone := true
	for i, t := range e.reg.All() {
		r := e.reward(t)
		done := t.Arrived() || outOfTime
		allDone = allDone && done
		res.Rewards[i] = r
		res.Info[t.ID] = TrainInfo{
			Delay:       t.Delay,
			Position:    t.Position,
			Destination: t.Destination,
			State:       t.State,
			Route:       append([]graph.StationID(nil), t.Route...),
			Reachable:   t.Reachable,
			Waiting:     t.Waiting,
			Reward:      r,
			Done:        done,
		}
		e.totalReward += r
	}
	e.done = allDone || outOfTime
	res.Done = e.done
	res.Observation = e.observe()

	if e.done {
		s := e.Summary()
		e.logger.Info("episode finished", "episode", s.Episode, "ticks", s.Ticks,
			"arrived", s.Arrived, "trains", s.Trains, "total_delay", s.TotalDelay)
	}
	return res, nil
}

// advance resolves one train for one tick.
func (e *Env) advance(t *train.Train, a kinematics.Action) {
	if t.Arrived() {
		t.Speed = 0
		return
	}
	next, ok := t.NextWaypoint()
	if !ok {
		t.Speed = 0
		return
	}
	track, ok := e.g.Track(t.Position, next)
	if !ok {
		// Fallback route with no real track: the train can never enter.
		t.Speed = 0
		e.hold(t, "no track", next)
		return
	}
	key := track.Key()
	if !t.Waiting {
		t.Speed = e.model.EffectiveSpeed(track.SpeedLimit, a)
	}

	if !t.OnEdge {
		if !e.occ.CanEnterEdge(key) {
			t.Speed = 0
			e.hold(t, "track full", next)
			return
		}
		if err := e.occ.EnterEdge(key, t.ID); err != nil {
			e.hold(t, err.Error(), next)
			return
		}
		e.occ.LeaveStation(t.Position, t.ID)
		t.Depart(key)
	}

	if !t.Waiting {
		t.Covered += e.model.DistancePerTick(t.Speed)
		if t.Covered+arrivalTolerance < track.LengthKM {
			return
		}
		t.Covered = track.LengthKM
	}

	// At the end of the track: a platform is needed before the train can leave it.
	if !e.occ.CanEnterStation(next, t.ID) {
		e.occ.Enqueue(next, t.ID)
		t.Waiting = true
		t.Speed = 0
		e.hold(t, "station full", next)
		return
	}
	if err := e.occ.EnterStation(next, t.ID); err != nil {
		e.hold(t, err.Error(), next)
		return
	}
	e.occ.LeaveEdge(key, t.ID)
	if err := t.Advance(); err != nil {
		e.logger.Error("advance failed", "train", t.ID, "err", err)
	}
}

func (e *Env) hold(t *train.Train, reason string, next graph.StationID) {
	t.Hold(kinematics.TickMinutes)
	e.logger.Debug("train held", "train", t.ID, "at", t.Position, "next", next,
		"reason", reason, "delay", t.Delay)
}

func (e *Env) reward(t *train.Train) float64 {
	r := -t.Delay * e.opts.Reward.DelayPenalty
	if t.Position == t.Destination {
		r += e.opts.Reward.ArrivalBonus
	}
	return r + e.g.Importance(t.Position)*e.opts.Reward.ImportanceWeight
}

func (e *Env) observe() []float64 {
	return codec.Encode(e.reg.All(), e.g, e.opts.MaxTrains, e.opts.Scales)
}

// Observation encodes the current state without advancing the clock.
func (e *Env) Observation() []float64 { return e.observe() }

// Snapshot returns a log entry per train in spawn order.
func (e *Env) Snapshot() []train.Log { return e.reg.Logs() }

// Summary aggregates the current episode so far.
func (e *Env) Summary() EpisodeSummary {
	trains := e.reg.All()
	return EpisodeSummary{
		Episode:     e.episode,
		Ticks:       e.ticks,
		Trains:      len(trains),
		Arrived:     lo.CountBy(trains, func(t *train.Train) bool { return t.Arrived() }),
		TotalDelay:  lo.SumBy(trains, func(t *train.Train) float64 { return t.Delay }),
		TotalReward: e.totalReward,
	}
}

// Render returns a human-readable dump of the clock and every train.
func (e *Env) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Time: %gmin\n", e.elapsed)
	for _, t := range e.reg.All() {
		fmt.Fprintf(&b, "%s: %s -> %s, delay: %.1fmin\n", t.ID, t.Position, t.Destination, t.Delay)
	}
	return b.String()
}
