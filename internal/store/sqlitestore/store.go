// Package sqlitestore keeps the Turn Store in a single SQLite file. It uses
// one connection, so a running pass serialises every other statement; this
// store targets single-node deployments and tests.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"rotation/internal/game"
	"rotation/internal/turn"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sqlx.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type turnRow struct {
	ID             int64  `db:"id"`
	CurrentTurn    int64  `db:"current_turn"`
	StartedAtMs    int64  `db:"turn_started_at_ms"`
	DurationMs     int64  `db:"turn_duration_ms"`
	ClaimToken     string `db:"claim_token"`
	ClaimExpiresMs int64  `db:"claim_expires_at_ms"`
	LeaseTakeovers int    `db:"lease_takeovers"`
}

func (r turnRow) record() game.TurnRecord {
	rec := game.TurnRecord{
		ID:             r.ID,
		CurrentTurn:    r.CurrentTurn,
		TurnStartedAt:  time.UnixMilli(r.StartedAtMs).UTC(),
		TurnDuration:   time.Duration(r.DurationMs) * time.Millisecond,
		ClaimToken:     r.ClaimToken,
		LeaseTakeovers: r.LeaseTakeovers,
	}
	if r.ClaimExpiresMs > 0 {
		rec.ClaimExpiresAt = time.UnixMilli(r.ClaimExpiresMs).UTC()
	}
	return rec
}

const selectTurn = `
	SELECT id, current_turn, turn_started_at_ms, turn_duration_ms, claim_token, claim_expires_at_ms, lease_takeovers
	FROM turn_record
	WHERE id = 1
`

func (s *Store) EnsureTurnRecord(ctx context.Context, start time.Time, duration time.Duration) (game.TurnRecord, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO turn_record (id, current_turn, turn_started_at_ms, turn_duration_ms)
		VALUES (1, 0, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, start.UnixMilli(), duration.Milliseconds()); err != nil {
		return game.TurnRecord{}, classify("ensure turn record", err)
	}
	return s.LoadTurn(ctx)
}

func (s *Store) LoadTurn(ctx context.Context) (game.TurnRecord, error) {
	var row turnRow
	if err := s.db.GetContext(ctx, &row, selectTurn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return game.TurnRecord{}, game.ErrNoTurnRecord
		}
		return game.TurnRecord{}, classify("load turn", err)
	}
	return row.record(), nil
}

func (s *Store) ClaimTurn(ctx context.Context, req turn.ClaimRequest) (bool, error) {
	now := req.Now.UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE turn_record
		SET claim_token = ?,
		    claim_expires_at_ms = ?,
		    lease_takeovers = lease_takeovers + CASE WHEN claim_token <> '' THEN 1 ELSE 0 END
		WHERE id = 1
		  AND current_turn = ?
		  AND claim_token = ?
		  AND turn_started_at_ms + turn_duration_ms <= ?
		  AND (claim_token = '' OR claim_expires_at_ms <= ?)
	`, req.Token, req.LeaseUntil.UnixMilli(), req.ExpectedTurn, req.PrevToken, now, now)
	if err != nil {
		return false, classify("claim turn", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("claim turn", err)
	}
	return n == 1, nil
}

func (s *Store) ReleaseClaim(ctx context.Context, lease turn.Lease) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE turn_record
		SET claim_token = '', claim_expires_at_ms = 0
		WHERE id = 1 AND current_turn = ? AND claim_token = ?
	`, lease.Turn, lease.Token)
	return classify("release claim", err)
}

func (s *Store) RunPass(ctx context.Context, lease turn.Lease, fn func(ctx context.Context, tx turn.PassTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin pass", err)
	}
	defer tx.Rollback()

	ptx := &passTx{tx: tx, lease: lease}
	if err := fn(ctx, ptx); err != nil {
		return err
	}
	if !ptx.advanced {
		return fmt.Errorf("pass for turn %d ended without advancing", lease.Turn)
	}
	return classify("commit pass", tx.Commit())
}

// classify marks lock contention and closed connections as transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return game.Transient(op, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return game.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
