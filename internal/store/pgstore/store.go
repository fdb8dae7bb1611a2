// Package pgstore keeps the Turn Store in PostgreSQL under the rotation
// schema. Any number of API replicas and pingers may share one database.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rotation/internal/db"
	"rotation/internal/game"
	"rotation/internal/turn"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

// Open connects to databaseURL and applies the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return New(pool), nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

const selectTurn = `
	SELECT id, current_turn, turn_started_at, turn_duration_ms, claim_token, claim_expires_at, lease_takeovers
	FROM rotation.turn_record
	WHERE id = 1
`

func scanTurn(row pgx.Row) (game.TurnRecord, error) {
	var (
		rec        game.TurnRecord
		durationMs int64
		expires    *time.Time
	)
	if err := row.Scan(&rec.ID, &rec.CurrentTurn, &rec.TurnStartedAt, &durationMs, &rec.ClaimToken, &expires, &rec.LeaseTakeovers); err != nil {
		return game.TurnRecord{}, err
	}
	rec.TurnStartedAt = rec.TurnStartedAt.UTC()
	rec.TurnDuration = time.Duration(durationMs) * time.Millisecond
	if expires != nil {
		rec.ClaimExpiresAt = expires.UTC()
	}
	return rec, nil
}

func (s *Store) EnsureTurnRecord(ctx context.Context, start time.Time, duration time.Duration) (game.TurnRecord, error) {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO rotation.turn_record (id, current_turn, turn_started_at, turn_duration_ms)
		VALUES (1, 0, $1, $2)
		ON CONFLICT (id) DO NOTHING
	`, start.UTC(), duration.Milliseconds()); err != nil {
		return game.TurnRecord{}, classify("ensure turn record", err)
	}
	return s.LoadTurn(ctx)
}

func (s *Store) LoadTurn(ctx context.Context) (game.TurnRecord, error) {
	rec, err := scanTurn(s.db.QueryRow(ctx, selectTurn))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.TurnRecord{}, game.ErrNoTurnRecord
		}
		return game.TurnRecord{}, classify("load turn", err)
	}
	return rec, nil
}

func (s *Store) ClaimTurn(ctx context.Context, req turn.ClaimRequest) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE rotation.turn_record
		SET claim_token = $1,
		    claim_expires_at = $2,
		    lease_takeovers = lease_takeovers + CASE WHEN claim_token <> '' THEN 1 ELSE 0 END
		WHERE id = 1
		  AND current_turn = $3
		  AND claim_token = $4
		  AND turn_started_at + turn_duration_ms * interval '1 millisecond' <= $5
		  AND (claim_token = '' OR claim_expires_at <= $5)
	`, req.Token, req.LeaseUntil.UTC(), req.ExpectedTurn, req.PrevToken, req.Now.UTC())
	if err != nil {
		return false, classify("claim turn", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ReleaseClaim(ctx context.Context, lease turn.Lease) error {
	_, err := s.db.Exec(ctx, `
		UPDATE rotation.turn_record
		SET claim_token = '', claim_expires_at = NULL
		WHERE id = 1 AND current_turn = $1 AND claim_token = $2
	`, lease.Turn, lease.Token)
	return classify("release claim", err)
}

// RunPass uses read committed isolation. The pass writes additive deltas and
// the final guarded UPDATE on turn_record decides whether it commits, so
// serializable retries would only add noise.
func (s *Store) RunPass(ctx context.Context, lease turn.Lease, fn func(ctx context.Context, tx turn.PassTx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin pass", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SET LOCAL lock_timeout = '5s'`); err != nil {
		return classify("set lock timeout", err)
	}

	ptx := &passTx{tx: tx, lease: lease}
	if err := fn(ctx, ptx); err != nil {
		return err
	}
	if !ptx.advanced {
		return fmt.Errorf("pass for turn %d ended without advancing", lease.Turn)
	}
	return classify("commit pass", tx.Commit(ctx))
}

// classify marks serialization failures, deadlocks, lock timeouts and
// dropped connections as transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P01":
			return game.Transient(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return game.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
