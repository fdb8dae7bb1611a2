package sqlitestore

import (
	"context"
	"database/sql"
	"errors"

	"rotation/internal/game"
)

func (s *Store) Snapshot(ctx context.Context, chartType string, turnNumber int64) ([]game.ChartSnapshot, error) {
	var rows []struct {
		TurnNumber  int64  `db:"turn_number"`
		ChartType   string `db:"chart_type"`
		Position    int    `db:"position"`
		SubjectID   int64  `db:"subject_id"`
		MetricValue int64  `db:"metric_value"`
	}
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT turn_number, chart_type, position, subject_id, metric_value
		FROM chart_snapshots
		WHERE chart_type = ? AND turn_number = ?
		ORDER BY position
	`, chartType, turnNumber); err != nil {
		return nil, classify("select snapshot", err)
	}
	out := make([]game.ChartSnapshot, 0, len(rows))
	for _, r := range rows {
		out = append(out, game.ChartSnapshot(r))
	}
	return out, nil
}

func (s *Store) LatestSnapshotTurn(ctx context.Context, chartType string) (int64, error) {
	var latest sql.NullInt64
	if err := s.db.GetContext(ctx, &latest, `
		SELECT MAX(turn_number) FROM chart_snapshots WHERE chart_type = ?
	`, chartType); err != nil {
		return 0, classify("latest snapshot", err)
	}
	if !latest.Valid {
		return 0, game.ErrNotFound
	}
	return latest.Int64, nil
}

func (s *Store) Tracks(ctx context.Context) ([]game.Track, error) {
	return selectTracks(ctx, s.db)
}

func (s *Store) Entities(ctx context.Context) ([]game.Entity, error) {
	return selectEntities(ctx, s.db)
}

func (s *Store) AddEntity(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO entities (name) VALUES (?)`, name)
	if err != nil {
		return 0, classify("insert entity", err)
	}
	return res.LastInsertId()
}

func (s *Store) AddTrack(ctx context.Context, entityID int64, title string, originTurn *int64) (int64, error) {
	var origin sql.NullInt64
	if originTurn != nil {
		origin = sql.NullInt64{Int64: *originTurn, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (entity_id, title, origin_turn) VALUES (?, ?, ?)
	`, entityID, title, origin)
	if err != nil {
		return 0, classify("insert track", err)
	}
	return res.LastInsertId()
}

func (s *Store) AddPromotion(ctx context.Context, trackID int64, multiplier float64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO promotion_grants (track_id, multiplier, active) VALUES (?, ?, 1)
	`, trackID, multiplier)
	if err != nil {
		return 0, classify("insert promotion", err)
	}
	return res.LastInsertId()
}

func (s *Store) Promotion(ctx context.Context, id int64) (game.PromotionGrant, error) {
	var row struct {
		ID           int64         `db:"id"`
		TrackID      int64         `db:"track_id"`
		Multiplier   float64       `db:"multiplier"`
		Active       bool          `db:"active"`
		ConsumedTurn sql.NullInt64 `db:"consumed_turn"`
	}
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, track_id, multiplier, active, consumed_turn FROM promotion_grants WHERE id = ?
	`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return game.PromotionGrant{}, game.ErrNotFound
		}
		return game.PromotionGrant{}, classify("select promotion", err)
	}
	g := game.PromotionGrant{ID: row.ID, TrackID: row.TrackID, Multiplier: row.Multiplier, Active: row.Active}
	if row.ConsumedTurn.Valid {
		v := row.ConsumedTurn.Int64
		g.ConsumedTurn = &v
	}
	return g, nil
}

func (s *Store) SeedDefaults(ctx context.Context) error {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(1) FROM entities`); err != nil {
		return classify("count entities", err)
	}
	if count > 0 {
		return nil
	}
	origin := int64(0)
	for _, a := range game.DemoCatalog() {
		id, err := s.AddEntity(ctx, a.Name)
		if err != nil {
			return err
		}
		for _, title := range a.Tracks {
			tid, err := s.AddTrack(ctx, id, title, &origin)
			if err != nil {
				return err
			}
			if a.Promoted == title {
				if _, err := s.AddPromotion(ctx, tid, 1.5); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
