package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rotation/internal/game"
	"rotation/internal/turn"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type passTx struct {
	tx       pgx.Tx
	lease    turn.Lease
	advanced bool
}

func selectTracks(ctx context.Context, q querier) ([]game.Track, error) {
	rows, err := q.Query(ctx, `
		SELECT id, entity_id, title, plays, spins, origin_turn
		FROM rotation.tracks
		ORDER BY id
	`)
	if err != nil {
		return nil, classify("select tracks", err)
	}
	defer rows.Close()

	out := make([]game.Track, 0, 32)
	for rows.Next() {
		var t game.Track
		if err := rows.Scan(&t.ID, &t.EntityID, &t.Title, &t.Plays, &t.Spins, &t.OriginTurn); err != nil {
			return nil, classify("scan track", err)
		}
		out = append(out, t)
	}
	return out, classify("select tracks", rows.Err())
}

func selectEntities(ctx context.Context, q querier) ([]game.Entity, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, total_plays, monthly_audience
		FROM rotation.entities
		ORDER BY id
	`)
	if err != nil {
		return nil, classify("select entities", err)
	}
	out := make([]game.Entity, 0, 16)
	byID := map[int64]int{}
	for rows.Next() {
		e := game.Entity{
			Followers:     map[game.Platform]int64{},
			PlatformPlays: map[game.Platform]int64{},
		}
		if err := rows.Scan(&e.ID, &e.Name, &e.TotalPlays, &e.MonthlyAudience); err != nil {
			rows.Close()
			return nil, classify("scan entity", err)
		}
		byID[e.ID] = len(out)
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, classify("select entities", err)
	}

	stats, err := q.Query(ctx, `
		SELECT entity_id, platform, plays, followers
		FROM rotation.entity_platform_stats
	`)
	if err != nil {
		return nil, classify("select platform stats", err)
	}
	defer stats.Close()
	for stats.Next() {
		var (
			entityID         int64
			platform         string
			plays, followers int64
		)
		if err := stats.Scan(&entityID, &platform, &plays, &followers); err != nil {
			return nil, classify("scan platform stats", err)
		}
		i, ok := byID[entityID]
		if !ok {
			continue
		}
		out[i].PlatformPlays[game.Platform(platform)] = plays
		out[i].Followers[game.Platform(platform)] = followers
	}
	return out, classify("select platform stats", stats.Err())
}

func (p *passTx) Tracks(ctx context.Context) ([]game.Track, error) {
	return selectTracks(ctx, p.tx)
}

func (p *passTx) Entities(ctx context.Context) ([]game.Entity, error) {
	return selectEntities(ctx, p.tx)
}

func (p *passTx) ConsumePromotion(ctx context.Context, trackID, turnNumber int64) (*game.PromotionGrant, error) {
	g := game.PromotionGrant{}
	err := p.tx.QueryRow(ctx, `
		UPDATE rotation.promotion_grants
		SET active = false, consumed_turn = $1
		WHERE id = (
			SELECT id FROM rotation.promotion_grants
			WHERE track_id = $2 AND active
			ORDER BY id
			LIMIT 1
			FOR UPDATE
		) AND active
		RETURNING id, track_id, multiplier
	`, turnNumber, trackID).Scan(&g.ID, &g.TrackID, &g.Multiplier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("consume promotion", err)
	}
	consumed := turnNumber
	g.ConsumedTurn = &consumed
	return &g, nil
}

func (p *passTx) ApplyTrackDelta(ctx context.Context, trackID, plays, spins int64) error {
	tag, err := p.tx.Exec(ctx, `
		UPDATE rotation.tracks SET plays = plays + $1, spins = spins + $2 WHERE id = $3
	`, plays, spins, trackID)
	if err != nil {
		return classify("update track", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("track %d: %w", trackID, game.ErrNotFound)
	}
	return nil
}

func (p *passTx) ApplyEntityDelta(ctx context.Context, entityID int64, d game.EntityDelta) error {
	tag, err := p.tx.Exec(ctx, `
		UPDATE rotation.entities
		SET total_plays = total_plays + $1, monthly_audience = monthly_audience + $2
		WHERE id = $3
	`, d.Plays, d.Audience, entityID)
	if err != nil {
		return classify("update entity", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %d: %w", entityID, game.ErrNotFound)
	}
	batch := &pgx.Batch{}
	for _, pl := range game.Platforms {
		batch.Queue(`
			INSERT INTO rotation.entity_platform_stats (entity_id, platform, plays, followers)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity_id, platform) DO UPDATE
			SET plays = rotation.entity_platform_stats.plays + EXCLUDED.plays,
			    followers = rotation.entity_platform_stats.followers + EXCLUDED.followers
		`, entityID, string(pl), d.PlatformPlays[pl], d.Followers[pl])
	}
	return classify("upsert platform stats", p.tx.SendBatch(ctx, batch).Close())
}

// AppendAudit tags every row of one call with a shared batch id.
func (p *passTx) AppendAudit(ctx context.Context, records []game.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}
	batchID := uuid.New()
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO rotation.play_audit (batch_id, turn_number, entity_id, track_id, platform, plays, followers)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, batchID, r.TurnNumber, r.EntityID, r.TrackID, string(r.Platform), r.Plays, r.Followers)
	}
	return classify("insert audit", p.tx.SendBatch(ctx, batch).Close())
}

func (p *passTx) InsertSnapshots(ctx context.Context, rows []game.ChartSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := p.tx.CopyFrom(ctx,
		pgx.Identifier{"rotation", "chart_snapshots"},
		[]string{"turn_number", "chart_type", "position", "subject_id", "metric_value"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.TurnNumber, r.ChartType, int32(r.Position), r.SubjectID, r.MetricValue}, nil
		}),
	)
	return classify("copy snapshots", err)
}

func (p *passTx) Advance(ctx context.Context, now time.Time) (game.TurnRecord, error) {
	rec, err := scanTurn(p.tx.QueryRow(ctx, `
		UPDATE rotation.turn_record
		SET current_turn = current_turn + 1,
		    turn_started_at = $1,
		    claim_token = '',
		    claim_expires_at = NULL,
		    lease_takeovers = 0
		WHERE id = 1 AND current_turn = $2 AND claim_token = $3
		RETURNING id, current_turn, turn_started_at, turn_duration_ms, claim_token, claim_expires_at, lease_takeovers
	`, now.UTC(), p.lease.Turn, p.lease.Token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.TurnRecord{}, game.ErrLeaseLost
		}
		return game.TurnRecord{}, classify("advance turn", err)
	}
	p.advanced = true
	return rec, nil
}
