package memstore

import (
	"context"
	"fmt"

	"rotation/internal/game"
)

// The methods below stand in for the external collaborators that own
// entities, tracks and promotions.

func (s *Store) AddEntity(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.d.entities[s.nextID] = game.Entity{
		ID:            s.nextID,
		Name:          name,
		Followers:     map[game.Platform]int64{},
		PlatformPlays: map[game.Platform]int64{},
	}
	return s.nextID
}

func (s *Store) AddTrack(entityID int64, title string, originTurn *int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	var origin *int64
	if originTurn != nil {
		v := *originTurn
		origin = &v
	}
	s.d.tracks[s.nextID] = game.Track{ID: s.nextID, EntityID: entityID, Title: title, OriginTurn: origin}
	return s.nextID
}

func (s *Store) AddPromotion(trackID int64, multiplier float64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.d.promos[s.nextID] = game.PromotionGrant{ID: s.nextID, TrackID: trackID, Multiplier: multiplier, Active: true}
	return s.nextID
}

// AddPlays is an out-of-band write, such as an import, made directly against
// an entity's counters.
func (s *Store) AddPlays(entityID, plays int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.d.entities[entityID]
	if !ok {
		return fmt.Errorf("entity %d: %w", entityID, game.ErrNotFound)
	}
	e.TotalPlays += plays
	s.d.entities[entityID] = e
	return nil
}

func (s *Store) Entity(id int64) (game.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.d.entities[id]
	if !ok {
		return game.Entity{}, game.ErrNotFound
	}
	return cloneEntity(e), nil
}

func (s *Store) Track(id int64) (game.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.d.tracks[id]
	if !ok {
		return game.Track{}, game.ErrNotFound
	}
	return t, nil
}

func (s *Store) Promotion(id int64) (game.PromotionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.d.promos[id]
	if !ok {
		return game.PromotionGrant{}, game.ErrNotFound
	}
	return p, nil
}

func (s *Store) Audits() []game.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]game.AuditRecord(nil), s.d.audits...)
}

func (s *Store) Snapshot(_ context.Context, chartType string, turnNumber int64) ([]game.ChartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.d.snapshots[snapKey{turn: turnNumber, chartType: chartType}]
	if !ok {
		return []game.ChartSnapshot{}, nil
	}
	return append([]game.ChartSnapshot{}, rows...), nil
}

func (s *Store) LatestSnapshotTurn(_ context.Context, chartType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := int64(-1)
	for k := range s.d.snapshots {
		if k.chartType == chartType && k.turn > latest {
			latest = k.turn
		}
	}
	if latest < 0 {
		return 0, game.ErrNotFound
	}
	return latest, nil
}

func (s *Store) SeedDefaults(ctx context.Context) error {
	s.mu.Lock()
	empty := len(s.d.entities) == 0
	s.mu.Unlock()
	if !empty {
		return nil
	}
	for _, a := range game.DemoCatalog() {
		id := s.AddEntity(a.Name)
		for _, title := range a.Tracks {
			origin := int64(0)
			tid := s.AddTrack(id, title, &origin)
			if a.Promoted == title {
				s.AddPromotion(tid, 1.5)
			}
		}
	}
	return ctx.Err()
}
