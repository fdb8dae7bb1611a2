package turn

import (
	"context"
	"time"

	"rotation/internal/game"
)

// ClaimRequest is a compare-and-set against the observed TurnRecord. It only
// succeeds if the stored turn and claim token still equal ExpectedTurn and
// PrevToken, the boundary has passed at Now, and any previous lease has
// expired at Now.
type ClaimRequest struct {
	ExpectedTurn int64
	PrevToken    string
	Token        string
	Now          time.Time
	LeaseUntil   time.Time
}

// Lease is the time-bounded right to run one pass for Turn.
type Lease struct {
	Token     string
	Turn      int64
	ClaimedAt time.Time
	ExpiresAt time.Time
	// Takeover is set when the lease replaced an expired one.
	Takeover bool
	// Takeovers counts consecutive expired leases on this boundary.
	Takeovers int
}

// Store is the durable TurnRecord plus the data a pass reads and writes.
// All coordination goes through ClaimTurn; callers never write the record
// directly.
type Store interface {
	LoadTurn(ctx context.Context) (game.TurnRecord, error)
	ClaimTurn(ctx context.Context, req ClaimRequest) (bool, error)
	// ReleaseClaim clears the claim if it is still held by lease.Token.
	ReleaseClaim(ctx context.Context, lease Lease) error
	// RunPass executes fn atomically. Nothing fn wrote is visible unless fn
	// returned nil after a successful PassTx.Advance.
	RunPass(ctx context.Context, lease Lease, fn func(ctx context.Context, tx PassTx) error) error
}

// PassTx is the view of the store inside one pass. Counter writes are
// additive deltas so they commute with unrelated writes to the same rows.
type PassTx interface {
	Tracks(ctx context.Context) ([]game.Track, error)
	Entities(ctx context.Context) ([]game.Entity, error)
	// ConsumePromotion deactivates the oldest active grant for trackID and
	// returns it, or nil when there is none.
	ConsumePromotion(ctx context.Context, trackID, turn int64) (*game.PromotionGrant, error)
	ApplyTrackDelta(ctx context.Context, trackID, plays, spins int64) error
	ApplyEntityDelta(ctx context.Context, entityID int64, d game.EntityDelta) error
	AppendAudit(ctx context.Context, records []game.AuditRecord) error
	InsertSnapshots(ctx context.Context, rows []game.ChartSnapshot) error
	// Advance writes current_turn+1 and turn_started_at=now together, guarded
	// by the lease. It returns game.ErrLeaseLost if the lease was taken over.
	Advance(ctx context.Context, now time.Time) (game.TurnRecord, error)
}
