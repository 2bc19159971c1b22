// Package store records finished episode summaries.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cxd309/tms-railenv/internal/engine"
)

// DefaultLimit caps List when no positive limit is given.
const DefaultLimit = 50

// Episode is one finished episode.
type Episode struct {
	ID         int64                 `json:"id"`
	SessionID  string                `json:"session_id"`
	Summary    engine.EpisodeSummary `json:"summary"`
	FinishedAt time.Time             `json:"finished_at"`
}

// Store is an append-only log of episodes.
type Store interface {
	// Record appends ep and returns it with ID and FinishedAt filled in.
	Record(ctx context.Context, ep Episode) (Episode, error)
	// List returns up to limit episodes, newest first.
	List(ctx context.Context, limit int) ([]Episode, error)
	Close() error
}

// Open returns the store selected by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return OpenPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

// Memory keeps episodes in process memory.
type Memory struct {
	mu       sync.Mutex
	episodes []Episode
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{now: time.Now} }

func (m *Memory) Record(ctx context.Context, ep Episode) (Episode, error) {
	if err := ctx.Err(); err != nil {
		return Episode{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ep.ID = int64(len(m.episodes) + 1)
	if ep.FinishedAt.IsZero() {
		ep.FinishedAt = m.now().UTC()
	}
	m.episodes = append(m.episodes, ep)
	return ep, nil
}

func (m *Memory) List(ctx context.Context, limit int) ([]Episode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.episodes)
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
