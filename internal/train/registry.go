package train

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Order selects how trains are resolved within a tick when they compete for
// the same track or platform.
type Order string

const (
	// OrderSpawn resolves earliest-spawned trains first.
	OrderSpawn Order = "spawn_order"
	// OrderMostDelayed resolves the most delayed trains first, spawn order on ties.
	OrderMostDelayed Order = "most_delayed_first"
)

// Registry owns the trains of one episode, in spawn order.
type Registry struct {
	trains []*Train
	byID   map[string]*Train
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Train)}
}

// Add registers t. IDs are unique per episode.
func (r *Registry) Add(t *Train) error {
	if _, exists := r.byID[t.ID]; exists {
		return fmt.Errorf("train %q already exists", t.ID)
	}
	r.trains = append(r.trains, t)
	r.byID[t.ID] = t
	return nil
}

// Clear drops every train.
func (r *Registry) Clear() {
	r.trains = nil
	clear(r.byID)
}

// Len returns the number of trains.
func (r *Registry) Len() int { return len(r.trains) }

// At returns the train in spawn slot i.
func (r *Registry) At(i int) *Train { return r.trains[i] }

// Get looks up a train by ID.
func (r *Registry) Get(id string) (*Train, bool) {
	t, ok := r.byID[id]
	return t, ok
}

// All returns the trains in spawn order.
func (r *Registry) All() []*Train { return append([]*Train(nil), r.trains...) }

// Logs snapshots every train in spawn order.
func (r *Registry) Logs() []Log {
	return lo.Map(r.trains, func(t *Train, _ int) Log { return t.GetLog() })
}

// AllArrived reports whether every train reached its destination.
func (r *Registry) AllArrived() bool {
	return lo.EveryBy(r.trains, func(t *Train) bool { return t.Arrived() })
}

// ResolutionOrder returns spawn slot indices in the order trains are resolved
// within a tick.
func (r *Registry) ResolutionOrder(o Order) []int {
	idx := lo.Range(len(r.trains))
	if o == OrderMostDelayed {
		sort.SliceStable(idx, func(i, j int) bool {
			return r.trains[idx[i]].Delay > r.trains[idx[j]].Delay
		})
	}
	return idx
}

// ParseOrder validates an order name. The empty string selects OrderSpawn.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case "", OrderSpawn:
		return OrderSpawn, nil
	case OrderMostDelayed:
		return OrderMostDelayed, nil
	}
	return "", fmt.Errorf("unknown resolution order %q", s)
}
