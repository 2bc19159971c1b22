package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/cxd309/tms-railenv/internal/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
	id           BIGSERIAL PRIMARY KEY,
	session_id   TEXT NOT NULL,
	episode      INTEGER NOT NULL,
	ticks        INTEGER NOT NULL,
	trains       INTEGER NOT NULL,
	arrived      INTEGER NOT NULL,
	total_delay  DOUBLE PRECISION NOT NULL,
	total_reward DOUBLE PRECISION NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres records episodes in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and creates the episodes table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating episodes table: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Record(ctx context.Context, ep Episode) (Episode, error) {
	s := ep.Summary
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO episodes (session_id, episode, ticks, trains, arrived, total_delay, total_reward)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, finished_at`,
		ep.SessionID, s.Episode, s.Ticks, s.Trains, s.Arrived, s.TotalDelay, s.TotalReward)
	if err := row.Scan(&ep.ID, &ep.FinishedAt); err != nil {
		return Episode{}, fmt.Errorf("recording episode: %w", err)
	}
	return ep, nil
}

func (p *Postgres) List(ctx context.Context, limit int) ([]Episode, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_id, episode, ticks, trains, arrived, total_delay, total_reward, finished_at
		FROM episodes ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var ep Episode
		var s engine.EpisodeSummary
		if err := rows.Scan(&ep.ID, &ep.SessionID, &s.Episode, &s.Ticks, &s.Trains, &s.Arrived,
			&s.TotalDelay, &s.TotalReward, &ep.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning episode: %w", err)
		}
		ep.Summary = s
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error { return p.db.Close() }
