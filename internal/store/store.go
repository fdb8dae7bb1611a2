// Package store opens the configured Turn Store backend.
package store

import (
	"context"
	"fmt"
	"time"

	"rotation/internal/config"
	"rotation/internal/game"
	"rotation/internal/store/memstore"
	"rotation/internal/store/pgstore"
	"rotation/internal/store/sqlitestore"
	"rotation/internal/turn"
)

// Backend is a turn.Store plus the read side the API serves and the
// bootstrap operations run at startup.
type Backend interface {
	turn.Store
	Snapshot(ctx context.Context, chartType string, turnNumber int64) ([]game.ChartSnapshot, error)
	LatestSnapshotTurn(ctx context.Context, chartType string) (int64, error)
	EnsureTurnRecord(ctx context.Context, start time.Time, duration time.Duration) (game.TurnRecord, error)
	SeedDefaults(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*memstore.Store)(nil)
	_ Backend = (*sqlitestore.Store)(nil)
	_ Backend = (*pgstore.Store)(nil)
)

func Open(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		return pgstore.Open(ctx, cfg.DatabaseURL)
	case config.StoreSQLite:
		return sqlitestore.Open(ctx, cfg.SQLitePath)
	case config.StoreMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Bootstrap creates the turn record if it is missing and optionally loads the
// demo roster.
func Bootstrap(ctx context.Context, b Backend, now time.Time, duration time.Duration, seed bool) (game.TurnRecord, error) {
	rec, err := b.EnsureTurnRecord(ctx, now, duration)
	if err != nil {
		return game.TurnRecord{}, fmt.Errorf("ensure turn record: %w", err)
	}
	if seed {
		if err := b.SeedDefaults(ctx); err != nil {
			return game.TurnRecord{}, fmt.Errorf("seed defaults: %w", err)
		}
	}
	return rec, nil
}
