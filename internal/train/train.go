// Package train defines the train type, its per-episode state machine and the
// registry that owns every active train.
package train

import (
	"fmt"

	"github.com/cxd309/tms-railenv/internal/graph"
)

// State describes where a train is in its episode lifecycle.
type State string

const (
	StateSpawned State = "spawned"  // route assigned, still at the start station
	StateEnRoute State = "en_route" // has left the start station
	StateArrived State = "arrived"  // at its destination; terminal
)

// Train is the mutable state of one train within an episode.
type Train struct {
	ID          string            `json:"id"`
	Position    graph.StationID   `json:"position"` // current or last visited station
	Destination graph.StationID   `json:"destination"`
	Speed       float64           `json:"speed"` // km/h
	Delay       float64           `json:"delay"` // minutes
	Route       []graph.StationID `json:"route"` // Position .. Destination, inclusive
	State       State             `json:"state"`
	Reachable   bool              `json:"reachable"`

	OnEdge  bool          `json:"on_edge"`
	Edge    graph.EdgeKey `json:"edge"`
	Covered float64       `json:"covered"` // km travelled on Edge
	Waiting bool          `json:"waiting"` // held at the end of Edge by a full station
}

// New returns a train at start with the given route.
func New(id string, start, dest graph.StationID, route []graph.StationID, reachable bool) *Train {
	t := &Train{
		ID:          id,
		Position:    start,
		Destination: dest,
		Route:       route,
		State:       StateSpawned,
		Reachable:   reachable,
	}
	if start == dest {
		t.State = StateArrived
	}
	return t
}

// Arrived reports whether the train has reached its destination.
func (t *Train) Arrived() bool { return t.State == StateArrived }

// NextWaypoint returns the station after Position on the route.
func (t *Train) NextWaypoint() (graph.StationID, bool) {
	if len(t.Route) < 2 {
		return "", false
	}
	return t.Route[1], true
}

// Depart puts the train on the edge toward its next waypoint.
func (t *Train) Depart(edge graph.EdgeKey) {
	t.OnEdge = true
	t.Edge = edge
	t.Covered = 0
	t.Waiting = false
	if t.State == StateSpawned {
		t.State = StateEnRoute
	}
}

// Advance moves the train to its next waypoint and pops it from the route.
func (t *Train) Advance() error {
	next, ok := t.NextWaypoint()
	if !ok {
		return fmt.Errorf("train %q has no waypoint after %q", t.ID, t.Position)
	}
	t.Position = next
	t.Route = t.Route[1:]
	t.OnEdge = false
	t.Edge = graph.EdgeKey{}
	t.Covered = 0
	t.Waiting = false
	if t.Position == t.Destination {
		t.State = StateArrived
		t.Speed = 0
	} else {
		t.State = StateEnRoute
	}
	return nil
}

// Hold records one tick of delay.
func (t *Train) Hold(minutes float64) { t.Delay += minutes }

// Log is a point-in-time snapshot of a train.
type Log struct {
	ID          string            `json:"id"`
	Position    graph.StationID   `json:"position"`
	Destination graph.StationID   `json:"destination"`
	NextStop    graph.StationID   `json:"next_stop,omitempty"`
	State       State             `json:"state"`
	Speed       float64           `json:"speed"`
	Delay       float64           `json:"delay"`
	Route       []graph.StationID `json:"route"`
	OnEdge      bool              `json:"on_edge"`
	Covered     float64           `json:"covered"`
	Waiting     bool              `json:"waiting"`
	Reachable   bool              `json:"reachable"`
}

// GetLog returns a point-in-time snapshot of the train state.
func (t *Train) GetLog() Log {
	next, _ := t.NextWaypoint()
	return Log{
		ID:          t.ID,
		Position:    t.Position,
		Destination: t.Destination,
		NextStop:    next,
		State:       t.State,
		Speed:       t.Speed,
		Delay:       t.Delay,
		Route:       append([]graph.StationID(nil), t.Route...),
		OnEdge:      t.OnEdge,
		Covered:     t.Covered,
		Waiting:     t.Waiting,
		Reachable:   t.Reachable,
	}
}
