// Package engine runs the turn pass: claim the boundary, simulate every
// track, publish the charts and commit the next TurnRecord.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"rotation/internal/charts"
	"rotation/internal/economy"
	"rotation/internal/game"
	"rotation/internal/turn"
)

type Status string

const (
	StatusNotDue            Status = "not_due"
	StatusAlreadyProcessing Status = "already_processing"
	StatusAdvanced          Status = "advanced"
	StatusError             Status = "error"
)

type Outcome struct {
	Status        Status `json:"status"`
	TimeRemaining string `json:"time_remaining,omitempty"`
	RemainingMs   int64  `json:"time_remaining_ms,omitempty"`
	NewTurn       int64  `json:"new_turn,omitempty"`
	Detail        string `json:"detail,omitempty"`
	Err           error  `json:"-"`
}

type PassState string

const (
	StateIdle       PassState = "idle"
	StateClaimed    PassState = "claimed"
	StateSimulating PassState = "simulating"
	StatePublishing PassState = "publishing"
	StateCommitted  PassState = "committed"
)

type PassReport struct {
	Turn       int64
	Tracks     int
	Skipped    int
	Promotions int
	Snapshots  int
}

type Options struct {
	Clock   turn.Clock
	Logger  *slog.Logger
	Params  economy.Params
	Catalog *charts.Catalog
	Lease   time.Duration
	// StuckAfter is the number of consecutive lease takeovers on one
	// boundary before the turn is reported stuck.
	StuckAfter int
	// Seed makes passes reproducible: turn N draws from seed^N.
	Seed  *int64
	Retry RetryPolicy
}

type Engine struct {
	store      turn.Store
	coord      *turn.Coordinator
	clock      turn.Clock
	log        *slog.Logger
	params     economy.Params
	catalog    *charts.Catalog
	stuckAfter int
	retry      RetryPolicy
	sourceFor  func(turn int64) economy.Source
}

func New(store turn.Store, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine requires a store")
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("economy params: %w", err)
	}
	if opts.Catalog == nil {
		return nil, errors.New("engine requires a chart catalog")
	}
	if opts.Clock == nil {
		opts.Clock = turn.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = 3
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	e := &Engine{
		store:      store,
		coord:      turn.NewCoordinator(store, opts.Lease),
		clock:      opts.Clock,
		log:        opts.Logger,
		params:     opts.Params,
		catalog:    opts.Catalog,
		stuckAfter: opts.StuckAfter,
		retry:      opts.Retry,
	}
	if opts.Seed != nil {
		seed := *opts.Seed
		e.sourceFor = func(t int64) economy.Source { return economy.NewSource(seed ^ t) }
	} else {
		e.sourceFor = func(t int64) economy.Source { return economy.NewSource(time.Now().UnixNano() ^ t) }
	}
	return e, nil
}

func (e *Engine) Coordinator() *turn.Coordinator {
	return e.coord
}

func (e *Engine) Catalog() *charts.Catalog {
	return e.catalog
}

// Status reports the current TurnRecord as seen at the engine's clock.
func (e *Engine) Status(ctx context.Context) (game.TurnStatus, error) {
	var rec game.TurnRecord
	err := e.retry.retry(ctx, func() error {
		var err error
		rec, err = e.store.LoadTurn(ctx)
		return err
	})
	if err != nil {
		return game.TurnStatus{}, err
	}
	now := e.clock.Now()
	remaining := rec.TimeRemaining(now)
	return game.TurnStatus{
		CurrentTurn:   rec.CurrentTurn,
		TurnStartedAt: rec.TurnStartedAt,
		TurnDuration:  rec.TurnDuration.String(),
		NextTurnAt:    rec.DueAt(),
		TimeRemaining: remaining.Round(time.Millisecond).String(),
		RemainingMs:   remaining.Milliseconds(),
		Claimed:       rec.ClaimHeld(now),
	}, nil
}

// Advance is the single trigger operation. It is safe to call from any
// number of goroutines or processes; at most one call per boundary runs the
// pass and every other call returns without side effects.
func (e *Engine) Advance(ctx context.Context) Outcome {
	var dec turn.Decision
	err := e.retry.retry(ctx, func() error {
		var err error
		dec, err = e.coord.TryClaim(ctx, e.clock.Now())
		return err
	})
	if err != nil {
		e.log.Error("turn claim failed", "err", err)
		return e.fail(err)
	}

	switch dec.Outcome {
	case turn.NotYetDue:
		advanceTotal.WithLabelValues(string(StatusNotDue)).Inc()
		return Outcome{
			Status:        StatusNotDue,
			TimeRemaining: dec.Remaining.Round(time.Millisecond).String(),
			RemainingMs:   dec.Remaining.Milliseconds(),
		}
	case turn.AlreadyClaimed:
		advanceTotal.WithLabelValues(string(StatusAlreadyProcessing)).Inc()
		return Outcome{Status: StatusAlreadyProcessing}
	}

	lease := dec.Lease
	log := e.log.With("turn", lease.Turn, "lease", lease.Token)
	log.Debug("turn pass state", "state", StateClaimed)
	if lease.Takeover {
		leaseTakeovers.Inc()
		log.Warn("turn lease expired, reclaiming", "takeovers", lease.Takeovers)
		if lease.Takeovers >= e.stuckAfter {
			turnStuck.Set(1)
			log.Error("turn stuck", "takeovers", lease.Takeovers, "stuck_after", e.stuckAfter)
		}
	}

	passCtx, cancel := context.WithTimeout(ctx, e.coord.LeaseDuration())
	defer cancel()

	start := time.Now()
	var (
		rec    game.TurnRecord
		report PassReport
	)
	err = e.retry.retry(passCtx, func() error {
		var err error
		rec, report, err = e.runPass(passCtx, lease, log)
		return err
	})
	if err != nil {
		if errors.Is(err, game.ErrLeaseLost) {
			log.Warn("turn pass lost its lease", "err", err)
			advanceTotal.WithLabelValues(string(StatusAlreadyProcessing)).Inc()
			return Outcome{Status: StatusAlreadyProcessing}
		}
		log.Error("turn pass failed", "err", err)
		e.release(ctx, lease, log)
		return e.fail(err)
	}

	elapsed := time.Since(start)
	passDuration.Observe(elapsed.Seconds())
	currentTurn.Set(float64(rec.CurrentTurn))
	turnStuck.Set(0)
	advanceTotal.WithLabelValues(string(StatusAdvanced)).Inc()
	log.Info("turn advanced",
		"new_turn", rec.CurrentTurn,
		"tracks", report.Tracks,
		"skipped", report.Skipped,
		"promotions", report.Promotions,
		"snapshots", report.Snapshots,
		"duration", elapsed.String(),
	)
	return Outcome{Status: StatusAdvanced, NewTurn: rec.CurrentTurn}
}

func (e *Engine) fail(err error) Outcome {
	advanceTotal.WithLabelValues(string(StatusError)).Inc()
	return Outcome{Status: StatusError, Detail: err.Error(), Err: err}
}

// release gives the boundary back early; if it fails the lease still
// expires on its own.
func (e *Engine) release(ctx context.Context, lease turn.Lease, log *slog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.ReleaseClaim(rctx, lease); err != nil {
		log.Warn("lease release failed", "err", err)
	}
}

// runPass derives every delta from persisted state inside one store
// transaction, so a retried or abandoned pass never applies twice.
func (e *Engine) runPass(ctx context.Context, lease turn.Lease, log *slog.Logger) (game.TurnRecord, PassReport, error) {
	var (
		committed game.TurnRecord
		report    PassReport
	)
	nextTurn := lease.Turn + 1
	err := e.store.RunPass(ctx, lease, func(ctx context.Context, tx turn.PassTx) error {
		report = PassReport{Turn: nextTurn}
		log.Debug("turn pass state", "state", StateSimulating)

		tracks, err := tx.Tracks(ctx)
		if err != nil {
			return fmt.Errorf("list tracks: %w", err)
		}
		owners, err := tx.Entities(ctx)
		if err != nil {
			return fmt.Errorf("list entities: %w", err)
		}
		known := make(map[int64]bool, len(owners))
		for _, en := range owners {
			known[en.ID] = true
		}
		rng := e.sourceFor(lease.Turn)
		deltas := map[int64]*game.EntityDelta{}
		for _, t := range tracks {
			report.Tracks++
			res, consumed, err := e.simulateTrack(ctx, tx, rng, lease.Turn, t, known)
			if err != nil {
				if errors.Is(err, game.ErrMalformedTrack) {
					report.Skipped++
					subjectFailures.Inc()
					log.Warn("skipping track", "track_id", t.ID, "err", err)
					continue
				}
				return err
			}
			if consumed {
				report.Promotions++
			}
			if err := tx.ApplyTrackDelta(ctx, t.ID, res.PlayDelta, res.SpinDelta); err != nil {
				return fmt.Errorf("apply track %d: %w", t.ID, err)
			}
			if err := tx.AppendAudit(ctx, res.Audit(nextTurn)); err != nil {
				return fmt.Errorf("audit track %d: %w", t.ID, err)
			}
			d, ok := deltas[res.EntityID]
			if !ok {
				d = &game.EntityDelta{}
				deltas[res.EntityID] = d
			}
			d.Add(res.EntityDelta())
		}

		ids := make([]int64, 0, len(deltas))
		for id := range deltas {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if err := tx.ApplyEntityDelta(ctx, id, *deltas[id]); err != nil {
				return fmt.Errorf("apply entity %d: %w", id, err)
			}
		}

		log.Debug("turn pass state", "state", StatePublishing)
		entities, err := tx.Entities(ctx)
		if err != nil {
			return fmt.Errorf("reload entities: %w", err)
		}
		updated, err := tx.Tracks(ctx)
		if err != nil {
			return fmt.Errorf("reload tracks: %w", err)
		}
		rows := e.catalog.Build(nextTurn, entities, updated)
		if err := tx.InsertSnapshots(ctx, rows); err != nil {
			return fmt.Errorf("insert snapshots: %w", err)
		}
		report.Snapshots = len(rows)

		committed, err = tx.Advance(ctx, e.clock.Now())
		return err
	})
	if err != nil {
		return game.TurnRecord{}, PassReport{}, err
	}
	log.Debug("turn pass state", "state", StateCommitted)
	return committed, report, nil
}

// simulateTrack validates the track and its owner before touching its
// promotion so a malformed row never burns a grant.
func (e *Engine) simulateTrack(ctx context.Context, tx turn.PassTx, rng economy.Source, currentTurn int64, t game.Track, known map[int64]bool) (economy.Result, bool, error) {
	if err := economy.CheckTrack(currentTurn, t); err != nil {
		return economy.Result{}, false, err
	}
	if !known[t.EntityID] {
		return economy.Result{}, false, fmt.Errorf("track %d: %w: entity %d does not exist", t.ID, game.ErrMalformedTrack, t.EntityID)
	}
	promo, err := tx.ConsumePromotion(ctx, t.ID, currentTurn)
	if err != nil {
		return economy.Result{}, false, fmt.Errorf("consume promotion for track %d: %w", t.ID, err)
	}
	res, err := economy.Simulate(e.params, rng, economy.Input{CurrentTurn: currentTurn, Track: t, Promotion: promo})
	if err != nil {
		return economy.Result{}, false, err
	}
	return res, promo != nil, nil
}
