package pgstore

import (
	"context"
	"errors"

	"rotation/internal/game"

	"github.com/jackc/pgx/v5"
)

func (s *Store) Snapshot(ctx context.Context, chartType string, turnNumber int64) ([]game.ChartSnapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT turn_number, chart_type, position, subject_id, metric_value
		FROM rotation.chart_snapshots
		WHERE chart_type = $1 AND turn_number = $2
		ORDER BY position
	`, chartType, turnNumber)
	if err != nil {
		return nil, classify("select snapshot", err)
	}
	defer rows.Close()

	out := []game.ChartSnapshot{}
	for rows.Next() {
		var (
			r   game.ChartSnapshot
			pos int32
		)
		if err := rows.Scan(&r.TurnNumber, &r.ChartType, &pos, &r.SubjectID, &r.MetricValue); err != nil {
			return nil, classify("scan snapshot", err)
		}
		r.Position = int(pos)
		out = append(out, r)
	}
	return out, classify("select snapshot", rows.Err())
}

func (s *Store) LatestSnapshotTurn(ctx context.Context, chartType string) (int64, error) {
	var latest *int64
	if err := s.db.QueryRow(ctx, `
		SELECT MAX(turn_number) FROM rotation.chart_snapshots WHERE chart_type = $1
	`, chartType).Scan(&latest); err != nil {
		return 0, classify("latest snapshot", err)
	}
	if latest == nil {
		return 0, game.ErrNotFound
	}
	return *latest, nil
}

func (s *Store) Tracks(ctx context.Context) ([]game.Track, error) {
	return selectTracks(ctx, s.db)
}

func (s *Store) Entities(ctx context.Context) ([]game.Entity, error) {
	return selectEntities(ctx, s.db)
}

func (s *Store) Promotion(ctx context.Context, id int64) (game.PromotionGrant, error) {
	var g game.PromotionGrant
	err := s.db.QueryRow(ctx, `
		SELECT id, track_id, multiplier, active, consumed_turn
		FROM rotation.promotion_grants
		WHERE id = $1
	`, id).Scan(&g.ID, &g.TrackID, &g.Multiplier, &g.Active, &g.ConsumedTurn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.PromotionGrant{}, game.ErrNotFound
		}
		return game.PromotionGrant{}, classify("select promotion", err)
	}
	return g, nil
}

// SeedDefaults loads the demo roster into an empty database in one
// transaction.
func (s *Store) SeedDefaults(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify("begin seed", err)
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, `SELECT COUNT(1) FROM rotation.entities`).Scan(&count); err != nil {
		return classify("count entities", err)
	}
	if count > 0 {
		return nil
	}
	origin := int64(0)
	for _, a := range game.DemoCatalog() {
		var entityID int64
		if err := tx.QueryRow(ctx, `
			INSERT INTO rotation.entities (name) VALUES ($1) RETURNING id
		`, a.Name).Scan(&entityID); err != nil {
			return classify("insert entity", err)
		}
		for _, title := range a.Tracks {
			var trackID int64
			if err := tx.QueryRow(ctx, `
				INSERT INTO rotation.tracks (entity_id, title, origin_turn) VALUES ($1, $2, $3) RETURNING id
			`, entityID, title, origin).Scan(&trackID); err != nil {
				return classify("insert track", err)
			}
			if a.Promoted != title {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO rotation.promotion_grants (track_id, multiplier) VALUES ($1, $2)
			`, trackID, 1.5); err != nil {
				return classify("insert promotion", err)
			}
		}
	}
	return classify("commit seed", tx.Commit(ctx))
}
