// Package graph provides the station/track network and shortest-path routing
// for the railway environment.
package graph

import (
	"math"
	"sort"
	"sync"

	"github.com/paulmach/orb"
)

// MinPlatforms is the smallest platform capacity a station can have.
const MinPlatforms = 2

// PlatformsFor derives a platform capacity from station importance.
func PlatformsFor(importance float64) int {
	return max(MinPlatforms, int(importance/20))
}

// StationID is the unique station name.
type StationID = string

// Station is a node in the network graph.
type Station struct {
	Name       StationID  `json:"name"`
	Importance float64    `json:"importance"`
	Platforms  int        `json:"platforms"`
	Location   *orb.Point `json:"location,omitempty"` // lon, lat; nil when the record had no coordinates
}

// Track is an undirected connection between two stations.
// A non-positive or NaN LengthKM means the length is unknown and the track is
// not traversable.
type Track struct {
	From       StationID `json:"from"`
	To         StationID `json:"to"`
	LengthKM   float64   `json:"length_km"`
	SpeedLimit float64   `json:"speed_limit"` // km/h
}

// Key returns the unordered identity of the track.
func (t Track) Key() EdgeKey { return NewEdgeKey(t.From, t.To) }

// HasLength reports whether the track carries a usable length.
func (t Track) HasLength() bool {
	return !math.IsNaN(t.LengthKM) && !math.IsInf(t.LengthKM, 0) && t.LengthKM > 0
}

// EdgeKey identifies a track by its unordered pair of endpoints. A is always the
// lexically smaller name.
type EdgeKey struct {
	A StationID `json:"a"`
	B StationID `json:"b"`
}

// NewEdgeKey returns the canonical key for the pair (u, v).
func NewEdgeKey(u, v StationID) EdgeKey {
	if v < u {
		u, v = v, u
	}
	return EdgeKey{A: u, B: v}
}

func (k EdgeKey) String() string { return k.A + "--" + k.B }

type neighbor struct {
	to  StationID
	key EdgeKey
}

// Graph is an undirected weighted graph over stations with cached shortest
// paths. It never changes after New and may be shared between environments.
type Graph struct {
	stations []StationID
	index    map[StationID]int
	byName   map[StationID]Station
	tracks   map[EdgeKey]Track
	order    []EdgeKey
	adj      map[StationID][]neighbor
	// Path cache; the graph never changes after New, so entries never go stale.
	pathMu    sync.Mutex
	pathCache map[pathKey]PathInfo
}

// New builds a Graph. Duplicate station names keep their first-seen position and
// take the attributes of the last record. Tracks whose endpoints are unknown,
// equal, or whose length is missing are left out. Duplicate tracks between the
// same pair keep the last record.
func New(stations []Station, tracks []Track) *Graph {
	g := &Graph{
		index:     make(map[StationID]int, len(stations)),
		byName:    make(map[StationID]Station, len(stations)),
		tracks:    make(map[EdgeKey]Track, len(tracks)),
		adj:       make(map[StationID][]neighbor, len(stations)),
		pathCache: make(map[pathKey]PathInfo),
	}
	for _, s := range stations {
		s.Platforms = max(s.Platforms, MinPlatforms)
		if _, seen := g.index[s.Name]; !seen {
			g.index[s.Name] = len(g.stations)
			g.stations = append(g.stations, s.Name)
		}
		g.byName[s.Name] = s
	}
	for _, t := range tracks {
		if t.From == t.To || !t.HasLength() {
			continue
		}
		if _, ok := g.byName[t.From]; !ok {
			continue
		}
		if _, ok := g.byName[t.To]; !ok {
			continue
		}
		key := t.Key()
		if _, seen := g.tracks[key]; !seen {
			g.order = append(g.order, key)
			g.adj[key.A] = append(g.adj[key.A], neighbor{to: key.B, key: key})
			g.adj[key.B] = append(g.adj[key.B], neighbor{to: key.A, key: key})
		}
		g.tracks[key] = t
	}
	return g
}

// Len returns the number of stations.
func (g *Graph) Len() int { return len(g.stations) }

// Stations returns the stations in insertion order.
func (g *Graph) Stations() []Station {
	out := make([]Station, len(g.stations))
	for i, name := range g.stations {
		out[i] = g.byName[name]
	}
	return out
}

// Station looks up a station by name.
func (g *Graph) Station(name StationID) (Station, bool) {
	s, ok := g.byName[name]
	return s, ok
}

// StationIndex returns the insertion index of a station, or -1.
func (g *Graph) StationIndex(name StationID) int {
	if i, ok := g.index[name]; ok {
		return i
	}
	return -1
}

// Importance returns the importance of a station, or 0 if it is unknown.
func (g *Graph) Importance(name StationID) float64 {
	return g.byName[name].Importance
}

// Tracks returns the traversable tracks in insertion order.
func (g *Graph) Tracks() []Track {
	out := make([]Track, len(g.order))
	for i, k := range g.order {
		out[i] = g.tracks[k]
	}
	return out
}

// Track returns the track between u and v in either direction.
func (g *Graph) Track(u, v StationID) (Track, bool) {
	t, ok := g.tracks[NewEdgeKey(u, v)]
	return t, ok
}

// Neighbors returns the stations directly connected to name.
func (g *Graph) Neighbors(name StationID) []StationID {
	ns := g.adj[name]
	out := make([]StationID, len(ns))
	for i, n := range ns {
		out[i] = n.to
	}
	return out
}

// TopStations returns up to n stations ordered by importance, highest first.
// Ties keep insertion order.
func (g *Graph) TopStations(n int) []Station {
	all := g.Stations()
	sort.SliceStable(all, func(i, j int) bool { return all[i].Importance > all[j].Importance })
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}
