package loader

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/cxd309/tms-railenv/internal/graph"
)

// Locator resolves a coordinate to the nearest known station.
type Locator interface {
	Nearest(p orb.Point) (graph.StationID, bool)
}

// LocatorFactory builds a Locator over the stations of one load.
type LocatorFactory func(stations []graph.Station) Locator

// cellDeg is the grid bucket size in degrees.
const cellDeg = 0.1

type cell struct{ x, y int }

func cellOf(p orb.Point) cell {
	return cell{int(math.Floor(p.Lon() / cellDeg)), int(math.Floor(p.Lat() / cellDeg))}
}

type located struct {
	name graph.StationID
	p    orb.Point
	seq  int
}

// GridLocator buckets stations into a lat/lon grid and searches outward ring
// by ring. Distances are haversine metres.
type GridLocator struct {
	cells    map[cell][]located
	radiusKM float64 // 0 = unlimited
}

// Grid returns a LocatorFactory for GridLocator. Lookups further than
// radiusKM from every station fail; radiusKM <= 0 disables the limit.
func Grid(radiusKM float64) LocatorFactory {
	return func(stations []graph.Station) Locator { return NewGridLocator(stations, radiusKM) }
}

// NewGridLocator indexes every station that has a location.
func NewGridLocator(stations []graph.Station, radiusKM float64) *GridLocator {
	l := &GridLocator{cells: make(map[cell][]located), radiusKM: radiusKM}
	for i, s := range stations {
		if s.Location == nil {
			continue
		}
		c := cellOf(*s.Location)
		l.cells[c] = append(l.cells[c], located{name: s.Name, p: *s.Location, seq: i})
	}
	return l
}

// Nearest returns the closest indexed station. Ties go to the station listed
// first.
func (l *GridLocator) Nearest(p orb.Point) (graph.StationID, bool) {
	if len(l.cells) == 0 {
		return "", false
	}
	origin := cellOf(p)
	best, bestDist, found := located{}, math.Inf(1), false
	limit := ringSpan(origin, l)
	for r := 0; r <= limit; r++ {
		for _, s := range l.ring(origin, r) {
			d := geo.DistanceHaversine(p, s.p)
			if d < bestDist || (d == bestDist && s.seq < best.seq) {
				best, bestDist, found = s, d, true
			}
		}
		// Stations beyond ring r are more than r-1 whole cells away.
		if found && r > 0 && bestDist <= ringFloorMetres(r-1, p.Lat()) {
			break
		}
	}
	if !found {
		return "", false
	}
	if l.radiusKM > 0 && bestDist/1000 > l.radiusKM {
		return "", false
	}
	return best.name, true
}

func (l *GridLocator) ring(o cell, r int) []located {
	if r == 0 {
		return l.cells[o]
	}
	var out []located
	for dx := -r; dx <= r; dx++ {
		out = append(out, l.cells[cell{o.x + dx, o.y - r}]...)
		out = append(out, l.cells[cell{o.x + dx, o.y + r}]...)
	}
	for dy := -r + 1; dy <= r-1; dy++ {
		out = append(out, l.cells[cell{o.x - r, o.y + dy}]...)
		out = append(out, l.cells[cell{o.x + r, o.y + dy}]...)
	}
	return out
}

// ringSpan is the ring distance from o to the farthest occupied cell.
func ringSpan(o cell, l *GridLocator) int {
	span := 0
	for c := range l.cells {
		span = max(span, abs(c.x-o.x), abs(c.y-o.y))
	}
	return span
}

// ringFloorMetres is a lower bound on the distance to anything outside the
// first r rings around a point at latitude lat.
func ringFloorMetres(r int, lat float64) float64 {
	deg := float64(r) * cellDeg
	// A degree of longitude shrinks with latitude; use the shorter side.
	lonScale := math.Cos(math.Min(math.Abs(lat)+deg, 90) * math.Pi / 180)
	return deg * lonScale * metresPerDegree
}

const metresPerDegree = math.Pi * orb.EarthRadius / 180

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// FixedLocator always answers with one station. It is meant for tiny fixtures
// where every coordinate belongs to the same place.
type FixedLocator struct{ Name graph.StationID }

// Nearest returns the fixed station.
func (f FixedLocator) Nearest(orb.Point) (graph.StationID, bool) { return f.Name, f.Name != "" }

// Fixed returns a LocatorFactory for FixedLocator.
func Fixed(name graph.StationID) LocatorFactory {
	return func([]graph.Station) Locator { return FixedLocator{Name: name} }
}
