// Package turn decides when a turn boundary has passed and admits exactly
// one caller per boundary to run the simulation pass.
package turn

import (
	"context"
	"fmt"
	"time"

	"rotation/internal/game"

	"github.com/google/uuid"
)

type Outcome int

const (
	NotYetDue Outcome = iota
	Claimed
	AlreadyClaimed
)

func (o Outcome) String() string {
	switch o {
	case NotYetDue:
		return "not_yet_due"
	case Claimed:
		return "claimed"
	case AlreadyClaimed:
		return "already_claimed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Decision struct {
	Outcome   Outcome
	Record    game.TurnRecord
	Lease     Lease
	Remaining time.Duration
}

type Coordinator struct {
	store    Store
	lease    time.Duration
	newToken func() string
}

func NewCoordinator(store Store, lease time.Duration) *Coordinator {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Coordinator{
		store:    store,
		lease:    lease,
		newToken: uuid.NewString,
	}
}

func (c *Coordinator) LeaseDuration() time.Duration {
	return c.lease
}

// TryClaim is the only way to obtain a Lease. Store failures come back as
// errors, never as a Claimed decision.
func (c *Coordinator) TryClaim(ctx context.Context, now time.Time) (Decision, error) {
	rec, err := c.store.LoadTurn(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("load turn: %w", err)
	}
	if !rec.Due(now) {
		return Decision{Outcome: NotYetDue, Record: rec, Remaining: rec.TimeRemaining(now)}, nil
	}
	if rec.ClaimHeld(now) {
		return Decision{Outcome: AlreadyClaimed, Record: rec}, nil
	}

	req := ClaimRequest{
		ExpectedTurn: rec.CurrentTurn,
		PrevToken:    rec.ClaimToken,
		Token:        c.newToken(),
		Now:          now,
		LeaseUntil:   now.Add(c.lease),
	}
	ok, err := c.store.ClaimTurn(ctx, req)
	if err != nil {
		return Decision{}, fmt.Errorf("claim turn %d: %w", rec.CurrentTurn, err)
	}
	if !ok {
		return Decision{Outcome: AlreadyClaimed, Record: rec}, nil
	}

	takeover := rec.ClaimToken != ""
	takeovers := 0
	if takeover {
		takeovers = rec.LeaseTakeovers + 1
	}
	return Decision{
		Outcome: Claimed,
		Record:  rec,
		Lease: Lease{
			Token:     req.Token,
			Turn:      rec.CurrentTurn,
			ClaimedAt: now,
			ExpiresAt: req.LeaseUntil,
			Takeover:  takeover,
			Takeovers: takeovers,
		},
	}, nil
}
