package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rotation/internal/game"
	"rotation/internal/turn"

	"github.com/jmoiron/sqlx"
)

type passTx struct {
	tx       *sqlx.Tx
	lease    turn.Lease
	advanced bool
}

type trackRow struct {
	ID         int64         `db:"id"`
	EntityID   int64         `db:"entity_id"`
	Title      string        `db:"title"`
	Plays      int64         `db:"plays"`
	Spins      int64         `db:"spins"`
	OriginTurn sql.NullInt64 `db:"origin_turn"`
}

func (r trackRow) track() game.Track {
	t := game.Track{ID: r.ID, EntityID: r.EntityID, Title: r.Title, Plays: r.Plays, Spins: r.Spins}
	if r.OriginTurn.Valid {
		v := r.OriginTurn.Int64
		t.OriginTurn = &v
	}
	return t
}

type entityRow struct {
	ID              int64  `db:"id"`
	Name            string `db:"name"`
	TotalPlays      int64  `db:"total_plays"`
	MonthlyAudience int64  `db:"monthly_audience"`
}

type platformRow struct {
	EntityID  int64  `db:"entity_id"`
	Platform  string `db:"platform"`
	Plays     int64  `db:"plays"`
	Followers int64  `db:"followers"`
}

func selectTracks(ctx context.Context, q sqlx.QueryerContext) ([]game.Track, error) {
	var rows []trackRow
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT id, entity_id, title, plays, spins, origin_turn
		FROM tracks
		ORDER BY id
	`); err != nil {
		return nil, classify("select tracks", err)
	}
	out := make([]game.Track, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.track())
	}
	return out, nil
}

func selectEntities(ctx context.Context, q sqlx.QueryerContext) ([]game.Entity, error) {
	var rows []entityRow
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT id, name, total_plays, monthly_audience
		FROM entities
		ORDER BY id
	`); err != nil {
		return nil, classify("select entities", err)
	}
	var stats []platformRow
	if err := sqlx.SelectContext(ctx, q, &stats, `
		SELECT entity_id, platform, plays, followers
		FROM entity_platform_stats
	`); err != nil {
		return nil, classify("select platform stats", err)
	}
	byID := make(map[int64]int, len(rows))
	out := make([]game.Entity, 0, len(rows))
	for i, r := range rows {
		byID[r.ID] = i
		out = append(out, game.Entity{
			ID:              r.ID,
			Name:            r.Name,
			TotalPlays:      r.TotalPlays,
			MonthlyAudience: r.MonthlyAudience,
			Followers:       map[game.Platform]int64{},
			PlatformPlays:   map[game.Platform]int64{},
		})
	}
	for _, st := range stats {
		i, ok := byID[st.EntityID]
		if !ok {
			continue
		}
		out[i].PlatformPlays[game.Platform(st.Platform)] = st.Plays
		out[i].Followers[game.Platform(st.Platform)] = st.Followers
	}
	return out, nil
}

func (p *passTx) Tracks(ctx context.Context) ([]game.Track, error) {
	return selectTracks(ctx, p.tx)
}

func (p *passTx) Entities(ctx context.Context) ([]game.Entity, error) {
	return selectEntities(ctx, p.tx)
}

func (p *passTx) ConsumePromotion(ctx context.Context, trackID, turnNumber int64) (*game.PromotionGrant, error) {
	var g struct {
		ID         int64   `db:"id"`
		TrackID    int64   `db:"track_id"`
		Multiplier float64 `db:"multiplier"`
	}
	err := p.tx.GetContext(ctx, &g, `
		UPDATE promotion_grants
		SET active = 0, consumed_turn = ?
		WHERE id = (
			SELECT id FROM promotion_grants
			WHERE track_id = ? AND active = 1
			ORDER BY id
			LIMIT 1
		) AND active = 1
		RETURNING id, track_id, multiplier
	`, turnNumber, trackID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, classify("consume promotion", err)
	}
	consumed := turnNumber
	return &game.PromotionGrant{ID: g.ID, TrackID: g.TrackID, Multiplier: g.Multiplier, ConsumedTurn: &consumed}, nil
}

func (p *passTx) ApplyTrackDelta(ctx context.Context, trackID, plays, spins int64) error {
	res, err := p.tx.ExecContext(ctx, `
		UPDATE tracks SET plays = plays + ?, spins = spins + ? WHERE id = ?
	`, plays, spins, trackID)
	if err != nil {
		return classify("update track", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("track %d: %w", trackID, game.ErrNotFound)
	}
	return nil
}

func (p *passTx) ApplyEntityDelta(ctx context.Context, entityID int64, d game.EntityDelta) error {
	res, err := p.tx.ExecContext(ctx, `
		UPDATE entities
		SET total_plays = total_plays + ?, monthly_audience = monthly_audience + ?
		WHERE id = ?
	`, d.Plays, d.Audience, entityID)
	if err != nil {
		return classify("update entity", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %d: %w", entityID, game.ErrNotFound)
	}
	for _, pl := range game.Platforms {
		if _, err := p.tx.ExecContext(ctx, `
			INSERT INTO entity_platform_stats (entity_id, platform, plays, followers)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (entity_id, platform) DO UPDATE
			SET plays = plays + excluded.plays, followers = followers + excluded.followers
		`, entityID, string(pl), d.PlatformPlays[pl], d.Followers[pl]); err != nil {
			return classify("upsert platform stats", err)
		}
	}
	return nil
}

func (p *passTx) AppendAudit(ctx context.Context, records []game.AuditRecord) error {
	for _, r := range records {
		if _, err := p.tx.ExecContext(ctx, `
			INSERT INTO play_audit (turn_number, entity_id, track_id, platform, plays, followers)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.TurnNumber, r.EntityID, r.TrackID, string(r.Platform), r.Plays, r.Followers); err != nil {
			return classify("insert audit", err)
		}
	}
	return nil
}

func (p *passTx) InsertSnapshots(ctx context.Context, rows []game.ChartSnapshot) error {
	for _, r := range rows {
		if _, err := p.tx.ExecContext(ctx, `
			INSERT INTO chart_snapshots (turn_number, chart_type, position, subject_id, metric_value)
			VALUES (?, ?, ?, ?, ?)
		`, r.TurnNumber, r.ChartType, r.Position, r.SubjectID, r.MetricValue); err != nil {
			return classify("insert snapshot", err)
		}
	}
	return nil
}

func (p *passTx) Advance(ctx context.Context, now time.Time) (game.TurnRecord, error) {
	res, err := p.tx.ExecContext(ctx, `
		UPDATE turn_record
		SET current_turn = current_turn + 1,
		    turn_started_at_ms = ?,
		    claim_token = '',
		    claim_expires_at_ms = 0,
		    lease_takeovers = 0
		WHERE id = 1 AND current_turn = ? AND claim_token = ?
	`, now.UnixMilli(), p.lease.Turn, p.lease.Token)
	if err != nil {
		return game.TurnRecord{}, classify("advance turn", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return game.TurnRecord{}, game.ErrLeaseLost
	}
	var row turnRow
	if err := p.tx.GetContext(ctx, &row, selectTurn); err != nil {
		return game.TurnRecord{}, classify("reload turn", err)
	}
	p.advanced = true
	return row.record(), nil
}
