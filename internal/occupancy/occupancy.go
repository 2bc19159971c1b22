// Package occupancy tracks which trains hold each track and station platform.
// It is the single authority on whether a train may advance.
package occupancy

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cxd309/tms-railenv/internal/graph"
)

// DefaultEdgeCapacity is the number of trains allowed on one track at once.
const DefaultEdgeCapacity = 2

var (
	ErrEdgeFull       = errors.New("track at capacity")
	ErrStationFull    = errors.New("station at capacity")
	ErrUnknownEdge    = errors.New("unknown track")
	ErrUnknownStation = errors.New("unknown station")
)

type station struct {
	capacity  int
	occupants []string
	queue     []string // FIFO of trains waiting for a platform
}

// Model holds per-episode occupancy. It is not safe for concurrent use; one
// environment owns one Model.
type Model struct {
	g            *graph.Graph
	edgeCapacity int
	edges        map[graph.EdgeKey][]string
	stations     map[graph.StationID]*station
}

// New creates an empty Model over g. A non-positive edgeCapacity falls back to
// DefaultEdgeCapacity.
func New(g *graph.Graph, edgeCapacity int) *Model {
	if edgeCapacity <= 0 {
		edgeCapacity = DefaultEdgeCapacity
	}
	m := &Model{
		g:            g,
		edgeCapacity: edgeCapacity,
		edges:        make(map[graph.EdgeKey][]string),
		stations:     make(map[graph.StationID]*station, g.Len()),
	}
	for _, s := range g.Stations() {
		m.stations[s.Name] = &station{capacity: s.Platforms}
	}
	return m
}

// EdgeCapacity returns the per-track limit.
func (m *Model) EdgeCapacity() int { return m.edgeCapacity }

// Reset empties every track, platform and wait queue.
func (m *Model) Reset() {
	clear(m.edges)
	for _, s := range m.stations {
		s.occupants = s.occupants[:0]
		s.queue = s.queue[:0]
	}
}

// CanEnterEdge reports whether one more train fits on the track.
func (m *Model) CanEnterEdge(key graph.EdgeKey) bool {
	if _, ok := m.g.Track(key.A, key.B); !ok {
		return false
	}
	return len(m.edges[key]) < m.edgeCapacity
}

// EnterEdge places train on the track. It never admits beyond capacity.
func (m *Model) EnterEdge(key graph.EdgeKey, train string) error {
	if _, ok := m.g.Track(key.A, key.B); !ok {
		return fmt.Errorf("%w %s", ErrUnknownEdge, key)
	}
	if slices.Contains(m.edges[key], train) {
		return nil
	}
	if len(m.edges[key]) >= m.edgeCapacity {
		return fmt.Errorf("train %q entering %s: %w", train, key, ErrEdgeFull)
	}
	m.edges[key] = append(m.edges[key], train)
	return nil
}

// LeaveEdge removes train from the track. Leaving a track the train is not on
// is a no-op.
func (m *Model) LeaveEdge(key graph.EdgeKey, train string) {
	occ := m.edges[key]
	if i := slices.Index(occ, train); i >= 0 {
		occ = slices.Delete(occ, i, i+1)
	}
	if len(occ) == 0 {
		delete(m.edges, key)
		return
	}
	m.edges[key] = occ
}

// EdgeOccupants returns the trains on the track in entry order.
func (m *Model) EdgeOccupants(key graph.EdgeKey) []string {
	return slices.Clone(m.edges[key])
}

// EdgeCount returns the number of trains on the track.
func (m *Model) EdgeCount(key graph.EdgeKey) int { return len(m.edges[key]) }

// CanEnterStation reports whether train may take a platform now: a platform
// must be free and the train must not be behind another train in the queue.
func (m *Model) CanEnterStation(name graph.StationID, train string) bool {
	s, ok := m.stations[name]
	if !ok {
		return false
	}
	if len(s.occupants) >= s.capacity {
		return false
	}
	return len(s.queue) == 0 || s.queue[0] == train
}

// EnterStation puts train on a platform and drops it from the wait queue.
func (m *Model) EnterStation(name graph.StationID, train string) error {
	s, ok := m.stations[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownStation, name)
	}
	if slices.Contains(s.occupants, train) {
		return nil
	}
	if !m.CanEnterStation(name, train) {
		return fmt.Errorf("train %q entering %q: %w", train, name, ErrStationFull)
	}
	s.occupants = append(s.occupants, train)
	m.Dequeue(name, train)
	return nil
}

// LeaveStation frees the platform held by train.
func (m *Model) LeaveStation(name graph.StationID, train string) {
	s, ok := m.stations[name]
	if !ok {
		return
	}
	if i := slices.Index(s.occupants, train); i >= 0 {
		s.occupants = slices.Delete(s.occupants, i, i+1)
	}
}

// Enqueue appends train to the station's wait queue unless it is already
// waiting there.
func (m *Model) Enqueue(name graph.StationID, train string) {
	s, ok := m.stations[name]
	if !ok || slices.Contains(s.queue, train) {
		return
	}
	s.queue = append(s.queue, train)
}

// Dequeue drops train from the station's wait queue.
func (m *Model) Dequeue(name graph.StationID, train string) {
	s, ok := m.stations[name]
	if !ok {
		return
	}
	if i := slices.Index(s.queue, train); i >= 0 {
		s.queue = slices.Delete(s.queue, i, i+1)
	}
}

// Queue returns the station's wait queue, head first.
func (m *Model) Queue(name graph.StationID) []string {
	if s, ok := m.stations[name]; ok {
		return slices.Clone(s.queue)
	}
	return nil
}

// StationOccupants returns the trains on the station's platforms.
func (m *Model) StationOccupants(name graph.StationID) []string {
	if s, ok := m.stations[name]; ok {
		return slices.Clone(s.occupants)
	}
	return nil
}

// StationCapacity returns the platform count of the station.
func (m *Model) StationCapacity(name graph.StationID) int {
	if s, ok := m.stations[name]; ok {
		return s.capacity
	}
	return 0
}
