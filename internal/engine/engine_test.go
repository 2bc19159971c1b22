package engine

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/cxd309/tms-railenv/internal/graph"
	"github.com/cxd309/tms-railenv/internal/kinematics"
	"github.com/cxd309/tms-railenv/internal/train"
)

const (
	stop   = int(kinematics.ActionStop)
	normal = int(kinematics.ActionNormal)
	fast   = int(kinematics.ActionFast)
)

// lineGraph is A(100) -10km@100- B(90) -5km@50- C(10).
func lineGraph() *graph.Graph {
	return graph.New([]graph.Station{
		{Name: "A", Importance: 100, Platforms: 2},
		{Name: "B", Importance: 90, Platforms: 2},
		{Name: "C", Importance: 10, Platforms: 2},
	}, []graph.Track{
		{From: "A", To: "B", LengthKM: 10, SpeedLimit: 100},
		{From: "B", To: "C", LengthKM: 5, SpeedLimit: 50},
	})
}

// forkGraph makes T0 (A->B) and T1 (B->A->C) compete for the A-B track.
func forkGraph() *graph.Graph {
	return graph.New([]graph.Station{
		{Name: "A", Importance: 100, Platforms: 2},
		{Name: "B", Importance: 90, Platforms: 2},
		{Name: "C", Importance: 80, Platforms: 2},
	}, []graph.Track{
		{From: "A", To: "B", LengthKM: 10, SpeedLimit: 100},
		{From: "A", To: "C", LengthKM: 10, SpeedLimit: 100},
	})
}

func newEnv(t *testing.T, g *graph.Graph, mutate func(*Options)) *Env {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	env, err := NewEnv(g, opts, nil)
	if err != nil {
		t.Fatalf("NewEnv: %v", err)
	}
	return env
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func mustStep(t *testing.T, env *Env, actions ...int) StepResult {
	t.Helper()
	res, err := env.Step(actions)
	if err != nil {
		t.Fatalf("Step(%v) at t=%v: %v", actions, env.Elapsed(), err)
	}
	return res
}

func TestResetSpawnsTopStationPairs(t *testing.T) {
	env := newEnv(t, lineGraph(), nil)

	logs := env.Snapshot()
	if len(logs) != 2 {
		t.Fatalf("spawned %d trains, want 2", len(logs))
	}
	want := []struct{ id, from, to string }{{"T0", "A", "B"}, {"T1", "B", "C"}}
	for i, w := range want {
		l := logs[i]
		if l.ID != w.id || l.Position != w.from || l.Destination != w.to || l.State != train.StateSpawned {
			t.Errorf("train %d = %+v, want %s %s->%s spawned", i, l, w.id, w.from, w.to)
		}
		if len(l.Route) < 2 || l.Route[0] != w.from || l.Route[len(l.Route)-1] != w.to {
			t.Errorf("train %s route = %v, want it to run %s -> %s", l.ID, l.Route, w.from, w.to)
		}
	}
	if occ := env.Occupancy().StationOccupants("A"); !reflect.DeepEqual(occ, []string{"T0"}) {
		t.Fatalf("A occupants = %v, want [T0]", occ)
	}
	if got, want := len(env.Reset()), env.ObservationSize(); got != want || want != 3*DefaultMaxTrains {
		t.Fatalf("observation length = %d, want %d", got, want)
	}
}

func TestStepArrivesAfterTravelTime(t *testing.T) {
	env := newEnv(t, lineGraph(), nil)

	var res StepResult
	for tick := 1; tick <= 5; tick++ {
		res = mustStep(t, env, normal, normal)
		if res.Done {
			t.Fatalf("done at tick %d, want tick 6", tick)
		}
	}
	// 5 km at 50 km/h is six ticks as well.
	if info := res.Info["T1"]; info.Position != "B" || info.Done || info.State != train.StateEnRoute {
		t.Fatalf("T1 after 5 ticks = %+v, want still en route to C", info)
	}

	res = mustStep(t, env, normal, normal)
	if !res.Done || res.Time != 6 {
		t.Fatalf("done=%v time=%v, want done at 6", res.Done, res.Time)
	}
	info := res.Info["T0"]
	if info.Position != "B" || info.Delay != 0 || info.State != train.StateArrived {
		t.Fatalf("T0 = %+v, want arrived at B without delay", info)
	}
	if want := 10 + 90*0.01; !approx(res.Rewards[0], want) {
		t.Fatalf("T0 reward = %v, want %v", res.Rewards[0], want)
	}
	if info := res.Info["T1"]; info.Position != "C" || info.Delay != 0 || info.State != train.StateArrived {
		t.Fatalf("T1 = %+v, want arrived at C without delay", info)
	}
	if want := 10 + 10*0.01; !approx(res.Rewards[1], want) {
		t.Fatalf("T1 reward = %v, want %v", res.Rewards[1], want)
	}
	if _, err := env.Step([]int{normal, normal}); !errors.Is(err, ErrEpisodeDone) {
		t.Fatalf("step after done: err = %v, want ErrEpisodeDone", err)
	}
	if s := env.Summary(); s.Arrived != 2 || s.Ticks != 6 || s.TotalDelay != 0 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestStepContendedTrackAccruesDelay(t *testing.T) {
	env := newEnv(t, forkGraph(), func(o *Options) { o.EdgeCapacity = 1 })
	ab := graph.NewEdgeKey("A", "B")

	for tick := 1; tick <= 5; tick++ {
		res := mustStep(t, env, normal, normal)
		if got := res.Info["T1"].Delay; got != float64(tick) {
			t.Fatalf("tick %d: T1 delay = %v, want %d", tick, got, tick)
		}
		if res.Info["T0"].Delay != 0 {
			t.Fatalf("tick %d: T0 delayed, want it to hold the track", tick)
		}
		if n := env.Occupancy().EdgeCount(ab); n != 1 {
			t.Fatalf("tick %d: A-B count = %d, want 1", tick, n)
		}
	}

	// T0 clears the track and T1 takes it in the same tick.
	res := mustStep(t, env, normal, normal)
	if res.Info["T0"].Position != "B" || res.Info["T1"].Delay != 5 {
		t.Fatalf("tick 6: T0=%+v T1=%+v", res.Info["T0"], res.Info["T1"])
	}
	if occ := env.Occupancy().EdgeOccupants(ab); !reflect.DeepEqual(occ, []string{"T1"}) {
		t.Fatalf("A-B occupants = %v, want [T1]", occ)
	}
}

func TestMostDelayedFirstWinsContestedTrack(t *testing.T) {
	cases := []struct {
		order          train.Order
		wantT0, wantT1 float64
		wantT1OnTrack  bool
	}{
		{train.OrderSpawn, 0, 4, false},
		{train.OrderMostDelayed, 1, 3, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.order), func(t *testing.T) {
			env := newEnv(t, forkGraph(), func(o *Options) {
				o.EdgeCapacity = 1
				o.Order = tc.order
			})
			env.reg.At(1).Delay = 3

			res := mustStep(t, env, normal, normal)
			if res.Info["T0"].Delay != tc.wantT0 || res.Info["T1"].Delay != tc.wantT1 {
				t.Fatalf("delays T0=%v T1=%v, want %v %v",
					res.Info["T0"].Delay, res.Info["T1"].Delay, tc.wantT0, tc.wantT1)
			}
			if on := env.reg.At(1).OnEdge; on != tc.wantT1OnTrack {
				t.Fatalf("T1 on track = %v, want %v", on, tc.wantT1OnTrack)
			}
		})
	}
}

func TestFullStationHoldsTrainOnTrack(t *testing.T) {
	env := newEnv(t, lineGraph(), func(o *Options) { o.MaxTrains = 1 })
	occ := env.Occupancy()
	for _, id := range []string{"x", "y"} {
		if err := occ.EnterStation("B", id); err != nil {
			t.Fatal(err)
		}
	}

	for tick := 1; tick <= 5; tick++ {
		mustStep(t, env, normal)
	}
	for _, wantDelay := range []float64{1, 2} {
		res := mustStep(t, env, normal)
		info := res.Info["T0"]
		if !info.Waiting || info.Position != "A" || info.Delay != wantDelay {
			t.Fatalf("T0 = %+v, want waiting outside B with delay %v", info, wantDelay)
		}
	}
	t0 := env.reg.At(0)
	if t0.Delay != 2 || t0.Speed != 0 || !t0.OnEdge {
		t.Fatalf("T0 = %+v, want held on the track with 2 minutes delay", t0.GetLog())
	}
	if q := occ.Queue("B"); !reflect.DeepEqual(q, []string{"T0"}) {
		t.Fatalf("B queue = %v, want [T0]", q)
	}

	occ.LeaveStation("B", "x")
	res := mustStep(t, env, normal)
	if !res.Done || res.Info["T0"].Position != "B" || res.Info["T0"].Delay != 2 {
		t.Fatalf("after release: done=%v T0=%+v", res.Done, res.Info["T0"])
	}
	if want := -0.2 + 10 + 0.9; !approx(res.Rewards[0], want) {
		t.Fatalf("reward = %v, want %v", res.Rewards[0], want)
	}
	if len(occ.Queue("B")) != 0 || occ.EdgeCount(graph.NewEdgeKey("A", "B")) != 0 {
		t.Fatal("T0 still queued or on the track after arriving")
	}
}

func TestRewardWeights(t *testing.T) {
	cases := []struct {
		name   string
		reward *RewardOptions
		want   float64
	}{
		{"unset uses defaults", nil, 10 + 90*0.01},
		{"zero weights are honoured", &RewardOptions{}, 0},
		{"custom", &RewardOptions{ArrivalBonus: 1, ImportanceWeight: 0.1}, 1 + 9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newEnv(t, lineGraph(), func(o *Options) {
				o.MaxTrains = 1
				o.Reward = tc.reward
			})
			var res StepResult
			for !env.Done() {
				res = mustStep(t, env, normal)
			}
			if !approx(res.Rewards[0], tc.want) {
				t.Fatalf("arrival reward = %v, want %v", res.Rewards[0], tc.want)
			}
		})
	}

	opts := DefaultOptions()
	opts.Reward = &RewardOptions{DelayPenalty: -1}
	if _, err := NewEnv(lineGraph(), opts, nil); err == nil {
		t.Fatal("expected negative reward weights to be rejected")
	}
}

func TestUnreachableTrainRunsOutOfTime(t *testing.T) {
	g := graph.New([]graph.Station{{Name: "A", Importance: 90}, {Name: "B", Importance: 80}}, nil)
	env := newEnv(t, g, func(o *Options) { o.TimeBudget = 3 })

	var res StepResult
	for tick := 1; tick <= 3; tick++ {
		res = mustStep(t, env, fast)
		if got := res.Info["T0"].Delay; got != float64(tick) {
			t.Fatalf("tick %d: delay = %v", tick, got)
		}
	}
	if !res.Done || !res.Info["T0"].Done || res.Info["T0"].Reachable {
		t.Fatalf("result = %+v, want done and unreachable", res)
	}
	if !reflect.DeepEqual(res.Info["T0"].Route, []string{"A", "B"}) {
		t.Fatalf("route = %v, want fallback [A B]", res.Info["T0"].Route)
	}
}

func TestStepRejectsBadActionsWithoutMutating(t *testing.T) {
	env := newEnv(t, lineGraph(), func(o *Options) { o.MaxTrains = 2 })
	before := env.Snapshot()

	cases := []struct {
		name    string
		actions []int
		want    error
	}{
		{"out of range", []int{normal, 9}, kinematics.ErrInvalidAction},
		{"negative", []int{-1, normal}, kinematics.ErrInvalidAction},
		{"too many", []int{normal, normal, normal}, ErrActionCount},
		{"too few", []int{normal}, ErrActionCount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.Step(tc.actions); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if env.Elapsed() != 0 || !reflect.DeepEqual(env.Snapshot(), before) {
				t.Fatal("rejected step changed the environment")
			}
		})
	}
}

func TestPartialActionsLeaveTrailingTrainsIdle(t *testing.T) {
	env := newEnv(t, lineGraph(), func(o *Options) { o.AllowPartialActions = true })

	res := mustStep(t, env, normal)
	t1 := res.Info["T1"]
	if t1.Position != "B" || t1.Delay != 0 || t1.State != train.StateSpawned {
		t.Fatalf("T1 = %+v, want untouched", t1)
	}
	if len(res.Rewards) != 2 {
		t.Fatalf("got %d rewards, want one per train", len(res.Rewards))
	}
}

func TestResetIsIdempotent(t *testing.T) {
	env := newEnv(t, forkGraph(), nil)
	first := env.Reset()
	logs := env.Snapshot()

	for i := 0; i < 4; i++ {
		mustStep(t, env, fast, stop)
	}
	second := env.Reset()
	if !reflect.DeepEqual(first, second) || !reflect.DeepEqual(logs, env.Snapshot()) {
		t.Fatal("reset did not restore the initial state")
	}
	if env.Elapsed() != 0 || env.Done() || env.Episode() != 3 {
		t.Fatalf("elapsed=%v done=%v episode=%d", env.Elapsed(), env.Done(), env.Episode())
	}
	for _, tr := range env.Graph().Tracks() {
		if n := env.Occupancy().EdgeCount(tr.Key()); n != 0 {
			t.Fatalf("%s still holds %d trains after reset", tr.Key(), n)
		}
	}
}

func TestObservationIsNormalised(t *testing.T) {
	env := newEnv(t, lineGraph(), func(o *Options) { o.MaxTrains = 3 })
	res := mustStep(t, env, fast, normal)

	if len(res.Observation) != 9 {
		t.Fatalf("observation length = %d, want 9", len(res.Observation))
	}
	for i, v := range res.Observation {
		if v < 0 || v > 1 {
			t.Fatalf("observation[%d] = %v out of [0,1]", i, v)
		}
	}
	// T0 runs at 150 km/h which clamps to 1; T1 runs at 50 km/h.
	if res.Observation[1] != 1 || res.Observation[4] != 0.5 {
		t.Fatalf("speeds = %v, %v, want 1 and 0.5", res.Observation[1], res.Observation[4])
	}
	if tail := res.Observation[6:]; !reflect.DeepEqual(tail, []float64{0, 0, 0}) {
		t.Fatalf("unused slot = %v, want zeros", tail)
	}
}

func TestRandomPolicyNeverOverfillsTracks(t *testing.T) {
	var stations []graph.Station
	var tracks []graph.Track
	names := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"}
	for i, n := range names {
		stations = append(stations, graph.Station{Name: n, Importance: float64(100 - 7*i), Platforms: 2})
		if i > 0 {
			tracks = append(tracks, graph.Track{From: names[i-1], To: n, LengthKM: float64(2 + i%3), SpeedLimit: 60})
		}
		if i > 3 {
			tracks = append(tracks, graph.Track{From: names[i-4], To: n, LengthKM: 6, SpeedLimit: 120})
		}
	}
	env := newEnv(t, graph.New(stations, tracks), func(o *Options) {
		o.EdgeCapacity = 1
		o.TimeBudget = 300
	})
	rng := rand.New(rand.NewSource(42))
	n := len(env.Snapshot())

	for !env.Done() {
		acts := make([]int, n)
		for i := range acts {
			acts[i] = rng.Intn(kinematics.NumActions)
		}
		mustStep(t, env, acts...)

		for _, tr := range env.Graph().Tracks() {
			if c := env.Occupancy().EdgeCount(tr.Key()); c > 1 {
				t.Fatalf("t=%v: %s holds %d trains", env.Elapsed(), tr.Key(), c)
			}
		}
		for _, s := range env.Graph().Stations() {
			if c := len(env.Occupancy().StationOccupants(s.Name)); c > s.Platforms {
				t.Fatalf("t=%v: %s holds %d trains on %d platforms", env.Elapsed(), s.Name, c, s.Platforms)
			}
		}
		for _, l := range env.Snapshot() {
			if l.Route[0] != l.Position || l.Route[len(l.Route)-1] != l.Destination {
				t.Fatalf("t=%v: %s route %v does not run %s -> %s", env.Elapsed(), l.ID, l.Route, l.Position, l.Destination)
			}
		}
	}
	if env.Elapsed() > 300 {
		t.Fatalf("episode ran past its budget: %v", env.Elapsed())
	}
}

func TestRender(t *testing.T) {
	env := newEnv(t, lineGraph(), nil)
	out := env.Render()
	for _, want := range []string{"Time: 0min", "T0: A -> B, delay: 0.0min", "T1: B -> C, delay: 0.0min"} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestNewEnvErrors(t *testing.T) {
	if _, err := NewEnv(graph.New(nil, nil), DefaultOptions(), nil); !errors.Is(err, ErrEmptyNetwork) {
		t.Fatalf("err = %v, want ErrEmptyNetwork", err)
	}
	opts := DefaultOptions()
	opts.Order = "random"
	if _, err := NewEnv(lineGraph(), opts, nil); err == nil {
		t.Fatal("expected an error for an unknown resolution order")
	}
}

func TestRunJSON(t *testing.T) {
	input := `{
		"simulation_meta": {"simulation_id": "line"},
		"network": {
			"stations": [
				{"name": "A", "importance_score": 100},
				{"name": "B", "importance_score": 90}
			],
			"tracks": [{"from": "A", "to": "B", "length": 10, "speed_limit": 100}]
		},
		"options": {"max_trains": 1}
	}`
	out, err := RunJSON(input)
	if err != nil {
		t.Fatal(err)
	}
	var log SimulationLog
	if err := json.Unmarshal([]byte(out), &log); err != nil {
		t.Fatal(err)
	}
	if log.Meta.SimulationID != "line" || len(log.Output) != 6 {
		t.Fatalf("got %d rows for %q, want 6", len(log.Output), log.Meta.SimulationID)
	}
	last := log.Output[len(log.Output)-1]
	if !last.Done || last.TrainLogs[0].Position != "B" || log.Summary.Arrived != 1 {
		t.Fatalf("last row = %+v, summary = %+v", last, log.Summary)
	}

	if _, err := RunJSON(`{"network": {"stations": []}}`); err == nil {
		t.Fatal("expected an error for an empty network")
	}
	if _, err := RunJSON(`not json`); err == nil {
		t.Fatal("expected an error for malformed input")
	}
}

func TestRunScriptAndTickLimit(t *testing.T) {
	stay := stop
	input := SimulationInput{
		Meta: SimulationMeta{MaxTicks: 4},
		Network: NetworkData{
			Stations: []map[string]any{{"name": "A", "importance": 100}, {"name": "B", "importance": 90}},
			Tracks:   []map[string]any{{"from": "A", "to": "B", "length": 10, "speed_limit": 100}},
		},
		Options: &Options{MaxTrains: 1},
		Policy:  Policy{Action: &stay, Script: [][]int{{fast}}},
	}
	log, err := Run(input, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(log.Output) != 4 {
		t.Fatalf("got %d rows, want 4", len(log.Output))
	}
	// One fast tick (2.5 km) then stops creeping at 1 km/h.
	if got := log.Output[0].TrainLogs[0].Covered; got != 2.5 {
		t.Fatalf("covered after tick 1 = %v, want 2.5", got)
	}
	if got := log.Output[1].TrainLogs[0].Speed; got != 0 {
		t.Fatalf("speed after stop = %v, want 0", got)
	}
}
