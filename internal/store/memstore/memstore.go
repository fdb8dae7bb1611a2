// Package memstore is an in-process Turn Store. A pass works on a private
// copy of the data and its writes are replayed onto the live copy only if
// the lease still holds at commit, which gives the same all-or-nothing
// behaviour as the SQL stores.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"rotation/internal/game"
	"rotation/internal/turn"
)

type snapKey struct {
	turn      int64
	chartType string
}

type data struct {
	rec       game.TurnRecord
	hasRec    bool
	entities  map[int64]game.Entity
	tracks    map[int64]game.Track
	promos    map[int64]game.PromotionGrant
	snapshots map[snapKey][]game.ChartSnapshot
	audits    []game.AuditRecord
}

func newData() data {
	return data{
		entities:  map[int64]game.Entity{},
		tracks:    map[int64]game.Track{},
		promos:    map[int64]game.PromotionGrant{},
		snapshots: map[snapKey][]game.ChartSnapshot{},
	}
}

func (d data) clone() data {
	out := newData()
	out.rec = d.rec
	out.hasRec = d.hasRec
	for id, e := range d.entities {
		out.entities[id] = cloneEntity(e)
	}
	for id, t := range d.tracks {
		out.tracks[id] = t
	}
	for id, p := range d.promos {
		out.promos[id] = p
	}
	for k, rows := range d.snapshots {
		out.snapshots[k] = append([]game.ChartSnapshot(nil), rows...)
	}
	out.audits = append([]game.AuditRecord(nil), d.audits...)
	return out
}

func cloneEntity(e game.Entity) game.Entity {
	f := make(map[game.Platform]int64, len(e.Followers))
	for k, v := range e.Followers {
		f[k] = v
	}
	p := make(map[game.Platform]int64, len(e.PlatformPlays))
	for k, v := range e.PlatformPlays {
		p[k] = v
	}
	e.Followers = f
	e.PlatformPlays = p
	return e
}

type Store struct {
	mu     sync.Mutex
	d      data
	nextID int64
	faults map[string][]error
	passes int
}

func New() *Store {
	return &Store{d: newData(), faults: map[string][]error{}}
}

func (s *Store) Close() error { return nil }

// FailNext queues errors returned by the next calls of op
// ("LoadTurn", "ClaimTurn", "RunPass", "ReleaseClaim").
func (s *Store) FailNext(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], errs...)
}

func (s *Store) faultLocked(op string) error {
	q := s.faults[op]
	if len(q) == 0 {
		return nil
	}
	s.faults[op] = q[1:]
	return q[0]
}

// CommittedPasses counts passes that reached commit.
func (s *Store) CommittedPasses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passes
}

func (s *Store) EnsureTurnRecord(_ context.Context, start time.Time, duration time.Duration) (game.TurnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.d.hasRec {
		s.d.rec = game.TurnRecord{ID: 1, CurrentTurn: 0, TurnStartedAt: start, TurnDuration: duration}
		s.d.hasRec = true
	}
	return s.d.rec, nil
}

func (s *Store) LoadTurn(_ context.Context) (game.TurnRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faultLocked("LoadTurn"); err != nil {
		return game.TurnRecord{}, err
	}
	if !s.d.hasRec {
		return game.TurnRecord{}, game.ErrNoTurnRecord
	}
	return s.d.rec, nil
}

func (s *Store) ClaimTurn(_ context.Context, req turn.ClaimRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faultLocked("ClaimTurn"); err != nil {
		return false, err
	}
	if !s.d.hasRec {
		return false, game.ErrNoTurnRecord
	}
	r := s.d.rec
	if r.CurrentTurn != req.ExpectedTurn || r.ClaimToken != req.PrevToken {
		return false, nil
	}
	if !r.Due(req.Now) || r.ClaimHeld(req.Now) {
		return false, nil
	}
	if r.ClaimToken != "" {
		r.LeaseTakeovers++
	}
	r.ClaimToken = req.Token
	r.ClaimExpiresAt = req.LeaseUntil
	s.d.rec = r
	return true, nil
}

func (s *Store) ReleaseClaim(_ context.Context, lease turn.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.faultLocked("ReleaseClaim"); err != nil {
		return err
	}
	if s.d.rec.CurrentTurn == lease.Turn && s.d.rec.ClaimToken == lease.Token {
		s.d.rec.ClaimToken = ""
		s.d.rec.ClaimExpiresAt = time.Time{}
	}
	return nil
}

func (s *Store) RunPass(ctx context.Context, lease turn.Lease, fn func(ctx context.Context, tx turn.PassTx) error) error {
	s.mu.Lock()
	if err := s.faultLocked("RunPass"); err != nil {
		s.mu.Unlock()
		return err
	}
	view := s.d.clone()
	s.mu.Unlock()

	tx := &passTx{lease: lease, view: view}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if !tx.advanced {
		return fmt.Errorf("pass for turn %d ended without advancing", lease.Turn)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.rec.CurrentTurn != lease.Turn || s.d.rec.ClaimToken != lease.Token {
		return game.ErrLeaseLost
	}
	next := s.d.clone()
	for _, op := range tx.ops {
		if err := op(&next); err != nil {
			return fmt.Errorf("%w: %w", game.ErrTxConflict, err)
		}
	}
	next.rec = tx.next
	s.d = next
	s.passes++
	return nil
}

type passTx struct {
	lease    turn.Lease
	view     data
	ops      []func(*data) error
	advanced bool
	next     game.TurnRecord
}

// apply runs op on the private view and queues it for commit.
func (tx *passTx) apply(op func(*data) error) error {
	if tx.advanced {
		return errors.New("pass already advanced")
	}
	if err := op(&tx.view); err != nil {
		return err
	}
	tx.ops = append(tx.ops, op)
	return nil
}

func (tx *passTx) Tracks(_ context.Context) ([]game.Track, error) {
	out := make([]game.Track, 0, len(tx.view.tracks))
	for _, t := range tx.view.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *passTx) Entities(_ context.Context) ([]game.Entity, error) {
	return sortedEntities(tx.view.entities), nil
}

func (tx *passTx) ConsumePromotion(_ context.Context, trackID, turnNumber int64) (*game.PromotionGrant, error) {
	var found *game.PromotionGrant
	for _, p := range tx.view.promos {
		if p.TrackID != trackID || !p.Active {
			continue
		}
		if found == nil || p.ID < found.ID {
			cp := p
			found = &cp
		}
	}
	if found == nil {
		return nil, nil
	}
	id := found.ID
	err := tx.apply(func(d *data) error {
		p, ok := d.promos[id]
		if !ok || !p.Active {
			return fmt.Errorf("promotion %d already consumed", id)
		}
		t := turnNumber
		p.Active = false
		p.ConsumedTurn = &t
		d.promos[id] = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (tx *passTx) ApplyTrackDelta(_ context.Context, trackID, plays, spins int64) error {
	return tx.apply(func(d *data) error {
		t, ok := d.tracks[trackID]
		if !ok {
			return fmt.Errorf("track %d: %w", trackID, game.ErrNotFound)
		}
		t.Plays += plays
		t.Spins += spins
		d.tracks[trackID] = t
		return nil
	})
}

func (tx *passTx) ApplyEntityDelta(_ context.Context, entityID int64, delta game.EntityDelta) error {
	return tx.apply(func(d *data) error {
		e, ok := d.entities[entityID]
		if !ok {
			return fmt.Errorf("entity %d: %w", entityID, game.ErrNotFound)
		}
		e = cloneEntity(e)
		e.TotalPlays += delta.Plays
		e.MonthlyAudience += delta.Audience
		for p, v := range delta.PlatformPlays {
			e.PlatformPlays[p] += v
		}
		for p, v := range delta.Followers {
			e.Followers[p] += v
		}
		d.entities[entityID] = e
		return nil
	})
}

func (tx *passTx) AppendAudit(_ context.Context, records []game.AuditRecord) error {
	rows := append([]game.AuditRecord(nil), records...)
	return tx.apply(func(d *data) error {
		d.audits = append(d.audits, rows...)
		return nil
	})
}

func (tx *passTx) InsertSnapshots(_ context.Context, rows []game.ChartSnapshot) error {
	grouped := map[snapKey][]game.ChartSnapshot{}
	for _, r := range rows {
		k := snapKey{turn: r.TurnNumber, chartType: r.ChartType}
		grouped[k] = append(grouped[k], r)
	}
	return tx.apply(func(d *data) error {
		for k := range grouped {
			if _, exists := d.snapshots[k]; exists {
				return fmt.Errorf("snapshot %s@%d already written", k.chartType, k.turn)
			}
		}
		for k, g := range grouped {
			d.snapshots[k] = append([]game.ChartSnapshot(nil), g...)
		}
		return nil
	})
}

func (tx *passTx) Advance(_ context.Context, now time.Time) (game.TurnRecord, error) {
	if tx.advanced {
		return tx.next, nil
	}
	r := tx.view.rec
	if r.CurrentTurn != tx.lease.Turn || r.ClaimToken != tx.lease.Token {
		return game.TurnRecord{}, game.ErrLeaseLost
	}
	r.CurrentTurn++
	r.TurnStartedAt = now
	r.ClaimToken = ""
	r.ClaimExpiresAt = time.Time{}
	r.LeaseTakeovers = 0
	tx.next = r
	tx.view.rec = r
	tx.advanced = true
	return r, nil
}

func sortedEntities(m map[int64]game.Entity) []game.Entity {
	out := make([]game.Entity, 0, len(m))
	for _, e := range m {
		out = append(out, cloneEntity(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
