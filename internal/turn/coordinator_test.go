package turn_test

import (
	"context"
	"testing"
	"time"

	"rotation/internal/store/memstore"
	"rotation/internal/turn"
)

func TestTryClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := memstore.New()
	if _, err := store.EnsureTurnRecord(ctx, start, time.Hour); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	c := turn.NewCoordinator(store, 2*time.Minute)

	d, err := c.TryClaim(ctx, start.Add(45*time.Minute))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if d.Outcome != turn.NotYetDue || d.Remaining != 15*time.Minute {
		t.Fatalf("got %v remaining %s", d.Outcome, d.Remaining)
	}

	due := start.Add(time.Hour)
	first, err := c.TryClaim(ctx, due)
	if err != nil || first.Outcome != turn.Claimed {
		t.Fatalf("first claim got %v err %v", first.Outcome, err)
	}
	if first.Lease.Token == "" || first.Lease.Turn != 0 || first.Lease.Takeover {
		t.Fatalf("got lease %+v", first.Lease)
	}
	if !first.Lease.ExpiresAt.Equal(due.Add(2 * time.Minute)) {
		t.Fatalf("got expiry %s", first.Lease.ExpiresAt)
	}

	held, err := c.TryClaim(ctx, due.Add(time.Minute))
	if err != nil || held.Outcome != turn.AlreadyClaimed {
		t.Fatalf("claim while held got %v err %v", held.Outcome, err)
	}

	// The first claimant never committed; its lease has expired.
	takeover, err := c.TryClaim(ctx, due.Add(2*time.Minute))
	if err != nil || takeover.Outcome != turn.Claimed {
		t.Fatalf("takeover got %v err %v", takeover.Outcome, err)
	}
	if !takeover.Lease.Takeover || takeover.Lease.Takeovers != 1 || takeover.Lease.Token == first.Lease.Token {
		t.Fatalf("got lease %+v", takeover.Lease)
	}
	rec, _ := store.LoadTurn(ctx)
	if rec.ClaimToken != takeover.Lease.Token || rec.LeaseTakeovers != 1 || rec.CurrentTurn != 0 {
		t.Fatalf("got record %+v", rec)
	}
}
