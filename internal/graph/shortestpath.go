package graph

import (
	"container/heap"
	"math"
)

// PathInfo holds the result of a shortest-path computation.
type PathInfo struct {
	Route     []StationID // ordered station names from start to end, inclusive
	LengthKM  float64     // total length; +Inf when Reachable is false
	Reachable bool
}

type pathKey struct{ from, to StationID }

type queueItem struct {
	station StationID
	dist    float64
	order   int // insertion index of the station, for deterministic ties
	index   int
}

type distQueue []*queueItem

func (q distQueue) Len() int { return len(q) }

func (q distQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].order < q[j].order
}

func (q distQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *distQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *distQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// dijkstra runs a single-source shortest path search from start until end is
// settled. Track length is the edge weight.
func (g *Graph) dijkstra(start, end StationID) PathInfo {
	dist := map[StationID]float64{start: 0}
	prev := make(map[StationID]StationID)
	settled := make(map[StationID]bool)

	q := &distQueue{}
	heap.Push(q, &queueItem{station: start, dist: 0, order: g.index[start]})
	for q.Len() > 0 {
		cur := heap.Pop(q).(*queueItem)
		if settled[cur.station] {
			continue
		}
		settled[cur.station] = true
		if cur.station == end {
			break
		}
		for _, n := range g.adj[cur.station] {
			if settled[n.to] {
				continue
			}
			d := cur.dist + g.tracks[n.key].LengthKM
			if old, ok := dist[n.to]; ok && d >= old {
				continue
			}
			dist[n.to] = d
			prev[n.to] = cur.station
			heap.Push(q, &queueItem{station: n.to, dist: d, order: g.index[n.to]})
		}
	}

	if !settled[end] {
		return PathInfo{Route: []StationID{start, end}, LengthKM: math.Inf(1)}
	}
	route := []StationID{end}
	for at := end; at != start; {
		at = prev[at]
		route = append(route, at)
	}
	for i, j := 0, len(route)-1; i < j; i, j = i+1, j-1 {
		route[i], route[j] = route[j], route[i]
	}
	return PathInfo{Route: route, LengthKM: dist[end], Reachable: true}
}

// GetShortestPath returns the shortest path between start and end, using a cache.
// When either station is unknown or no path exists, the route degrades to the
// direct pair [start, end] with Reachable set to false.
func (g *Graph) GetShortestPath(start, end StationID) PathInfo {
	if start == end {
		return PathInfo{Route: []StationID{start}, Reachable: true}
	}
	key := pathKey{start, end}

	g.pathMu.Lock()
	defer g.pathMu.Unlock()
	if p, ok := g.pathCache[key]; ok {
		return clonePath(p)
	}
	var p PathInfo
	_, okStart := g.byName[start]
	_, okEnd := g.byName[end]
	if okStart && okEnd {
		p = g.dijkstra(start, end)
	} else {
		p = PathInfo{Route: []StationID{start, end}, LengthKM: math.Inf(1)}
	}
	g.pathCache[key] = p
	return clonePath(p)
}

// ShortestPath returns only the route of GetShortestPath.
func (g *Graph) ShortestPath(start, end StationID) []StationID {
	return g.GetShortestPath(start, end).Route
}

// Reachable reports whether a real path connects start and end.
func (g *Graph) Reachable(start, end StationID) bool {
	return g.GetShortestPath(start, end).Reachable
}

// callers mutate routes as trains advance
func clonePath(p PathInfo) PathInfo {
	p.Route = append([]StationID(nil), p.Route...)
	return p
}
