package engine

import (
	"github.com/cxd309/tms-railenv/internal/codec"
	"github.com/cxd309/tms-railenv/internal/graph"
	"github.com/cxd309/tms-railenv/internal/loader"
	"github.com/cxd309/tms-railenv/internal/train"
)

// Defaults for the environment knobs.
const (
	DefaultMaxTrains    = 20
	DefaultTimeBudget   = 480 // minutes
	DefaultEdgeCapacity = 2
	DefaultSpawnPool    = 10
)

// RewardOptions weights the per-tick reward terms.
type RewardOptions struct {
	DelayPenalty     float64 `json:"delay_penalty"`     // per minute of accumulated delay
	ArrivalBonus     float64 `json:"arrival_bonus"`     // while at the destination
	ImportanceWeight float64 `json:"importance_weight"` // per point of current station importance
}

// Options are the environment configuration knobs.
type Options struct {
	MaxTrains           int            `json:"max_trains"`
	TimeBudget          float64        `json:"time_budget"` // minutes
	EdgeCapacity        int            `json:"edge_capacity"`
	SpawnPool           int            `json:"spawn_pool"` // top-importance stations eligible for spawning
	Order               train.Order    `json:"order"`
	AllowPartialActions bool           `json:"allow_partial_actions"`
	Reward              *RewardOptions `json:"reward,omitempty"` // nil = defaults
	Scales              codec.Scales   `json:"scales"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxTrains:    DefaultMaxTrains,
		TimeBudget:   DefaultTimeBudget,
		EdgeCapacity: DefaultEdgeCapacity,
		SpawnPool:    DefaultSpawnPool,
		Order:        train.OrderSpawn,
		Reward: &RewardOptions{
			DelayPenalty:     0.1,
			ArrivalBonus:     10,
			ImportanceWeight: 0.01,
		},
		Scales: codec.DefaultScales(),
	}
}

// TrainInfo is the per-train diagnostic entry of a step.
type TrainInfo struct {
	Delay       float64           `json:"delay"`
	Position    graph.StationID   `json:"pos"`
	Destination graph.StationID   `json:"dest"`
	State       train.State       `json:"state"`
	Route       []graph.StationID `json:"route"`
	Reachable   bool              `json:"reachable"`
	Waiting     bool              `json:"waiting"`
	Reward      float64           `json:"reward"`
	Done        bool              `json:"done"`
}

// StepResult is everything a controller receives after one tick.
type StepResult struct {
	Observation []float64            `json:"observation"`
	Rewards     []float64            `json:"rewards"` // spawn order
	Done        bool                 `json:"done"`
	Info        map[string]TrainInfo `json:"info"`
	Time        float64              `json:"time"` // elapsed minutes after the tick
}

// EpisodeSummary aggregates one episode.
type EpisodeSummary struct {
	Episode     int     `json:"episode"`
	Ticks       int     `json:"ticks"`
	Trains      int     `json:"trains"`
	Arrived     int     `json:"arrived"`
	TotalDelay  float64 `json:"total_delay"`
	TotalReward float64 `json:"total_reward"`
}

// SimulationMeta holds the identity and limits of a batch run.
type SimulationMeta struct {
	SimulationID string `json:"simulation_id"`
	MaxTicks     int    `json:"max_ticks,omitempty"` // 0 = run until the episode is done
}

// NetworkData is the raw station and track records of a batch run.
type NetworkData struct {
	Stations []map[string]any `json:"stations"`
	Tracks   []map[string]any `json:"tracks"`
}

// Policy drives every train in a batch run. Script rows are used tick by tick;
// once exhausted, or when Script is empty, every train gets Action.
type Policy struct {
	Action *int    `json:"action,omitempty"` // default: normal
	Script [][]int `json:"script,omitempty"`
}

// SimulationInput is the JSON-serialisable input to RunJSON. Nil Loader or
// Options select the defaults.
type SimulationInput struct {
	Meta    SimulationMeta  `json:"simulation_meta"`
	Network NetworkData     `json:"network"`
	Loader  *loader.Options `json:"loader,omitempty"`
	Options *Options        `json:"options,omitempty"`
	Policy  Policy          `json:"policy"`
}

// SimulationLogRow is the state of all trains after one tick.
type SimulationLogRow struct {
	Time      float64     `json:"time"` // minutes
	Rewards   []float64   `json:"rewards"`
	Done      bool        `json:"done"`
	TrainLogs []train.Log `json:"train_logs"`
}

// SimulationLog is the complete output of a batch run.
type SimulationLog struct {
	Meta    SimulationMeta     `json:"simulation_meta"`
	Output  []SimulationLogRow `json:"output"`
	Summary EpisodeSummary     `json:"summary"`
}
