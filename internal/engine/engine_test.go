package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"rotation/internal/charts"
	"rotation/internal/economy"
	"rotation/internal/game"
	"rotation/internal/store/memstore"
	"rotation/internal/turn"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const turnLength = time.Hour

func newTestEngine(t *testing.T, store turn.Store, clock turn.Clock, seed int64) *Engine {
	t.Helper()
	catalog, err := charts.NewCatalog(charts.DefaultSpecs())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	e, err := New(store, Options{
		Clock:   clock,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Params:  economy.DefaultParams(),
		Catalog: catalog,
		Lease:   2 * time.Minute,
		Seed:    &seed,
		Retry:   RetryPolicy{Attempts: 4, Initial: time.Millisecond, Max: 4 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func seededStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	if _, err := s.EnsureTurnRecord(context.Background(), epoch, turnLength); err != nil {
		t.Fatalf("ensure turn record: %v", err)
	}
	if err := s.SeedDefaults(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func loadTurn(t *testing.T, s turn.Store) game.TurnRecord {
	t.Helper()
	rec, err := s.LoadTurn(context.Background())
	if err != nil {
		t.Fatalf("load turn: %v", err)
	}
	return rec
}

func concurrentAdvance(e *Engine, n int) map[Status]int {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		got = map[Status]int{}
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out := e.Advance(context.Background())
			mu.Lock()
			got[out.Status]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()
	return got
}

func TestAdvanceNotDue(t *testing.T) {
	store := seededStore(t)
	clock := turn.NewManualClock(epoch.Add(20 * time.Minute))
	e := newTestEngine(t, store, clock, 1)

	out := e.Advance(context.Background())
	if out.Status != StatusNotDue {
		t.Fatalf("got status %s want %s", out.Status, StatusNotDue)
	}
	if out.RemainingMs != (40 * time.Minute).Milliseconds() {
		t.Fatalf("remaining got %dms want 40m", out.RemainingMs)
	}
	if store.CommittedPasses() != 0 {
		t.Fatalf("no pass should have run")
	}
}

func TestFiftyConcurrentTriggersAdvanceOnce(t *testing.T) {
	store := seededStore(t)
	clock := turn.NewManualClock(epoch.Add(turnLength))
	e := newTestEngine(t, store, clock, 7)

	got := concurrentAdvance(e, 50)
	if got[StatusAdvanced] != 1 {
		t.Fatalf("advanced %d times, want exactly 1 (%v)", got[StatusAdvanced], got)
	}
	if got[StatusError] != 0 {
		t.Fatalf("unexpected errors: %v", got)
	}
	if got[StatusAdvanced]+got[StatusAlreadyProcessing]+got[StatusNotDue] != 50 {
		t.Fatalf("statuses do not add up: %v", got)
	}
	if store.CommittedPasses() != 1 {
		t.Fatalf("committed passes got %d want 1", store.CommittedPasses())
	}
	rec := loadTurn(t, store)
	if rec.CurrentTurn != 1 {
		t.Fatalf("current turn got %d want 1", rec.CurrentTurn)
	}
	if !rec.TurnStartedAt.Equal(clock.Now()) {
		t.Fatalf("turn_started_at got %v want %v", rec.TurnStartedAt, clock.Now())
	}
}

func TestTurnsMatchBoundariesWithCrashedClaimant(t *testing.T) {
	store := seededStore(t)
	clock := turn.NewManualClock(epoch)
	e := newTestEngine(t, store, clock, 11)

	const boundaries = 10
	for k := int64(1); k <= boundaries; k++ {
		clock.Advance(turnLength)

		if k == 4 {
			// A claimant takes the boundary and dies without committing.
			dec, err := e.Coordinator().TryClaim(context.Background(), clock.Now())
			if err != nil || dec.Outcome != turn.Claimed {
				t.Fatalf("crash setup: outcome=%v err=%v", dec.Outcome, err)
			}
			got := concurrentAdvance(e, 8)
			if got[StatusAlreadyProcessing] != 8 {
				t.Fatalf("with a live lease every caller should back off: %v", got)
			}
			clock.Advance(e.Coordinator().LeaseDuration())
		}

		got := concurrentAdvance(e, 8)
		if got[StatusAdvanced] != 1 || got[StatusError] != 0 {
			t.Fatalf("boundary %d: %v", k, got)
		}
		if rec := loadTurn(t, store); rec.CurrentTurn != k {
			t.Fatalf("boundary %d: current turn %d", k, rec.CurrentTurn)
		}
	}
	if store.CommittedPasses() != boundaries {
		t.Fatalf("committed passes got %d want %d", store.CommittedPasses(), boundaries)
	}
	if rec := loadTurn(t, store); rec.LeaseTakeovers != 0 || rec.ClaimToken != "" {
		t.Fatalf("claim state not cleared on commit: %+v", rec)
	}
}

func TestPromotionConsumedOnceAcrossRetries(t *testing.T) {
	store := memstore.New()
	if _, err := store.EnsureTurnRecord(context.Background(), epoch, turnLength); err != nil {
		t.Fatal(err)
	}
	artist := store.AddEntity("Solo")
	origin := int64(0)
	track := store.AddTrack(artist, "Single", &origin)
	promo := store.AddPromotion(track, 3)

	// The first pass attempt fails transiently, the second commits.
	store.FailNext("RunPass", game.Transient("run pass", errors.New("connection reset")))

	clock := turn.NewManualClock(epoch.Add(turnLength))
	e := newTestEngine(t, store, clock, 99)
	if out := e.Advance(context.Background()); out.Status != StatusAdvanced {
		t.Fatalf("got %+v", out)
	}

	p, err := store.Promotion(promo)
	if err != nil {
		t.Fatal(err)
	}
	if p.Active || p.ConsumedTurn == nil || *p.ConsumedTurn != 0 {
		t.Fatalf("promotion not consumed by turn 0 pass: %+v", p)
	}

	clock.Advance(turnLength)
	if out := e.Advance(context.Background()); out.Status != StatusAdvanced {
		t.Fatalf("second pass: %+v", out)
	}
	p, _ = store.Promotion(promo)
	if *p.ConsumedTurn != 0 {
		t.Fatalf("promotion re-consumed on turn %d", *p.ConsumedTurn)
	}

	// Replaying the same seed without faults or promotion gives the baseline
	// growth; the promoted first turn must be exactly 3x that.
	base := memstore.New()
	base.EnsureTurnRecord(context.Background(), epoch, turnLength)
	bArtist := base.AddEntity("Solo")
	base.AddTrack(bArtist, "Single", &origin)
	be := newTestEngine(t, base, turn.NewManualClock(epoch.Add(turnLength)), 99)
	if out := be.Advance(context.Background()); out.Status != StatusAdvanced {
		t.Fatalf("baseline: %+v", out)
	}
	promoted := store.Audits()
	baseline := base.Audits()
	var promotedPlays, basePlays int64
	for _, a := range promoted {
		if a.TurnNumber == 1 {
			promotedPlays += a.Plays
		}
	}
	for _, a := range baseline {
		basePlays += a.Plays
	}
	// floor(d*0.97*3) lies within [3*floor(d*0.97), 3*floor(d*0.97)+2].
	if promotedPlays < 3*basePlays || promotedPlays > 3*basePlays+2 {
		t.Fatalf("promotion applied wrongly: promoted=%d baseline=%d", promotedPlays, basePlays)
	}
}

func TestClaimRetriesTransientStoreErrors(t *testing.T) {
	store := seededStore(t)
	transient := game.Transient("claim", errors.New("timeout"))
	store.FailNext("ClaimTurn", transient, transient)

	e := newTestEngine(t, store, turn.NewManualClock(epoch.Add(turnLength)), 3)
	if out := e.Advance(context.Background()); out.Status != StatusAdvanced {
		t.Fatalf("got %+v", out)
	}
}

func TestStoreUnavailableIsAnError(t *testing.T) {
	store := seededStore(t)
	transient := game.Transient("load", errors.New("refused"))
	store.FailNext("LoadTurn", transient, transient, transient, transient)

	e := newTestEngine(t, store, turn.NewManualClock(epoch.Add(turnLength)), 3)
	before := testutil.ToFloat64(advanceTotal.WithLabelValues(string(StatusError)))
	out := e.Advance(context.Background())
	if out.Status != StatusError || !errors.Is(out.Err, game.ErrStoreUnavailable) {
		t.Fatalf("got %+v", out)
	}
	if after := testutil.ToFloat64(advanceTotal.WithLabelValues(string(StatusError))); after != before+1 {
		t.Fatalf("error counter got %v want %v", after, before+1)
	}
	if rec := loadTurn(t, store); rec.CurrentTurn != 0 || rec.ClaimToken != "" {
		t.Fatalf("failed claim must not touch the record: %+v", rec)
	}
}

func TestFailedPassReleasesLease(t *testing.T) {
	store := seededStore(t)
	store.FailNext("RunPass", errors.New("disk full"))

	e := newTestEngine(t, store, turn.NewManualClock(epoch.Add(turnLength)), 9)
	if out := e.Advance(context.Background()); out.Status != StatusError {
		t.Fatalf("got %+v want error", out)
	}
	if rec := loadTurn(t, store); rec.CurrentTurn != 0 || rec.ClaimToken != "" {
		t.Fatalf("failed pass should release its lease: %+v", rec)
	}
	if out := e.Advance(context.Background()); out.Status != StatusAdvanced || out.NewTurn != 1 {
		t.Fatalf("retry after release got %+v", out)
	}
}

func TestMalformedTrackIsSkipped(t *testing.T) {
	store := memstore.New()
	store.EnsureTurnRecord(context.Background(), epoch, turnLength)
	artist := store.AddEntity("Mixed")
	origin := int64(0)
	good := store.AddTrack(artist, "Good", &origin)
	bad := store.AddTrack(artist, "Broken", nil)
	badPromo := store.AddPromotion(bad, 2)

	e := newTestEngine(t, store, turn.NewManualClock(epoch.Add(turnLength)), 5)
	before := testutil.ToFloat64(subjectFailures)
	if out := e.Advance(context.Background()); out.Status != StatusAdvanced {
		t.Fatalf("got %+v", out)
	}
	if got := testutil.ToFloat64(subjectFailures); got != before+1 {
		t.Fatalf("subject failures got %v want %v", got, before+1)
	}
	g, _ := store.Track(good)
	if g.Plays == 0 {
		t.Fatalf("good track did not grow")
	}
	b, _ := store.Track(bad)
	if b.Plays != 0 || b.Spins != 0 {
		t.Fatalf("malformed track was simulated: %+v", b)
	}
	if p, _ := store.Promotion(badPromo); !p.Active {
		t.Fatalf("malformed track must not consume its promotion")
	}
}

func TestOrphanTrackIsSkipped(t *testing.T) {
	store := memstore.New()
	store.EnsureTurnRecord(context.Background(), epoch, turnLength)
	artist := store.AddEntity("Owner")
	origin := int64(0)
	good := store.AddTrack(artist, "Good", &origin)
	orphan := store.AddTrack(999, "Orphan", &origin)
	orphanPromo := store.AddPromotion(orphan, 3)

	e := newTestEngine(t, store, turn.NewManualClock(epoch.Add(turnLength)), 6)
	before := testutil.ToFloat64(subjectFailures)
	if out := e.Advance(context.Background()); out.Status != StatusAdvanced {
		t.Fatalf("got %+v", out)
	}
	if got := loadTurn(t, store); got.CurrentTurn != 1 {
		t.Fatalf("current turn got %d want 1", got.CurrentTurn)
	}
	if got := testutil.ToFloat64(subjectFailures); got != before+1 {
		t.Fatalf("subject failures got %v want %v", got, before+1)
	}
	if p, _ := store.Promotion(orphanPromo); !p.Active {
		t.Fatalf("orphan track must not consume its promotion")
	}
	for _, a := range store.Audits() {
		if a.TrackID != good {
			t.Fatalf("audit for unexpected track %d", a.TrackID)
		}
	}
	if len(store.Audits()) != len(game.Platforms) {
		t.Fatalf("want one audit row per platform, got %d", len(store.Audits()))
	}
}

// takeoverStore steals the lease while the wrapped pass is running.
type takeoverStore struct {
	*memstore.Store
	clock *turn.ManualClock
	rival *turn.Coordinator
	once  sync.Once
}

func (s *takeoverStore) RunPass(ctx context.Context, lease turn.Lease, fn func(context.Context, turn.PassTx) error) error {
	return s.Store.RunPass(ctx, lease, func(ctx context.Context, tx turn.PassTx) error {
		var err error
		s.once.Do(func() {
			s.clock.Advance(3 * time.Minute)
			var dec turn.Decision
			dec, err = s.rival.TryClaim(ctx, s.clock.Now())
			if err == nil && dec.Outcome != turn.Claimed {
				err = errors.New("rival failed to claim")
			}
		})
		if err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func TestLeaseLostMidPassAppliesNothing(t *testing.T) {
	inner := seededStore(t)
	clock := turn.NewManualClock(epoch.Add(turnLength))
	store := &takeoverStore{Store: inner, clock: clock, rival: turn.NewCoordinator(inner, 2*time.Minute)}
	e := newTestEngine(t, store, clock, 8)

	out := e.Advance(context.Background())
	if out.Status != StatusAlreadyProcessing {
		t.Fatalf("got %+v want already_processing", out)
	}
	if inner.CommittedPasses() != 0 || len(inner.Audits()) != 0 {
		t.Fatalf("lost pass leaked writes: passes=%d audits=%d", inner.CommittedPasses(), len(inner.Audits()))
	}
	rec := loadTurn(t, inner)
	if rec.CurrentTurn != 0 || rec.LeaseTakeovers != 1 {
		t.Fatalf("record after takeover: %+v", rec)
	}
}

func TestChartsAppendedPerTurn(t *testing.T) {
	store := seededStore(t)
	clock := turn.NewManualClock(epoch)
	e := newTestEngine(t, store, clock, 21)

	for i := 0; i < 2; i++ {
		clock.Advance(turnLength)
		if out := e.Advance(context.Background()); out.Status != StatusAdvanced {
			t.Fatalf("pass %d: %+v", i, out)
		}
	}
	ctx := context.Background()
	for _, spec := range e.Catalog().Specs() {
		latest, err := store.LatestSnapshotTurn(ctx, spec.Type)
		if err != nil || latest != 2 {
			t.Fatalf("%s latest turn got %d err %v", spec.Type, latest, err)
		}
		first, _ := store.Snapshot(ctx, spec.Type, 1)
		second, _ := store.Snapshot(ctx, spec.Type, 2)
		if len(first) == 0 || len(second) == 0 {
			t.Fatalf("%s missing rows: %d/%d", spec.Type, len(first), len(second))
		}
		for i, row := range second {
			if row.Position != i+1 || row.TurnNumber != 2 {
				t.Fatalf("%s row %d: %+v", spec.Type, i, row)
			}
		}
		if len(charts.Movement(second, first)) != len(second) {
			t.Fatalf("%s movement size mismatch", spec.Type)
		}
	}
}

// externalWriteStore credits plays to an entity from outside the engine
// after the pass has taken its view.
type externalWriteStore struct {
	*memstore.Store
	entityID int64
	plays    int64
	once     sync.Once
}

func (s *externalWriteStore) RunPass(ctx context.Context, lease turn.Lease, fn func(context.Context, turn.PassTx) error) error {
	return s.Store.RunPass(ctx, lease, func(ctx context.Context, tx turn.PassTx) error {
		var err error
		s.once.Do(func() { err = s.Store.AddPlays(s.entityID, s.plays) })
		if err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func TestEngineWritesAreAdditive(t *testing.T) {
	base := memstore.New()
	base.EnsureTurnRecord(context.Background(), epoch, turnLength)
	artist := base.AddEntity("Adder")
	origin := int64(0)
	base.AddTrack(artist, "One", &origin)
	store := &externalWriteStore{Store: base, entityID: artist, plays: 1_000_000}

	e := newTestEngine(t, store, turn.NewManualClock(epoch.Add(turnLength)), 4)
	if out := e.Advance(context.Background()); out.Status != StatusAdvanced {
		t.Fatalf("got %+v", out)
	}
	var engine int64
	for _, a := range base.Audits() {
		engine += a.Plays
	}
	if engine == 0 {
		t.Fatalf("engine credited no plays")
	}
	got, _ := base.Entity(artist)
	if got.TotalPlays != 1_000_000+engine {
		t.Fatalf("total plays got %d want %d", got.TotalPlays, 1_000_000+engine)
	}
	if len(base.Audits()) != len(game.Platforms) {
		t.Fatalf("want one audit row per platform, got %d", len(base.Audits()))
	}
}
