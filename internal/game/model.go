package game

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// BasisPoints is the fixed-point scale used for weights and fractions.
const BasisPoints = int64(10_000)

var (
	ErrNotFound         = errors.New("not found")
	ErrLeaseLost        = errors.New("turn lease lost before commit")
	ErrMalformedTrack   = errors.New("malformed track")
	ErrInvalidChartType = errors.New("unknown chart type")
	ErrStoreUnavailable = errors.New("turn store unavailable")
	ErrTxConflict       = errors.New("transaction conflict, retry")
	ErrNoTurnRecord     = errors.New("turn record not initialised")
)

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrTxConflict)
}

// Transient wraps a driver error so IsTransient matches it.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// ToBasisPoints converts a weight such as 0.55 into 5500.
func ToBasisPoints(v float64) int64 {
	return int64(math.Round(v * float64(BasisPoints)))
}

// ValidateWeights checks that per-platform weights cover every platform and
// sum to exactly one once expressed in basis points.
func ValidateWeights(w map[Platform]float64) error {
	var sum int64
	for _, p := range Platforms {
		v, ok := w[p]
		if !ok {
			return fmt.Errorf("missing weight for platform %q", p)
		}
		if v < 0 {
			return fmt.Errorf("weight for platform %q must be >= 0", p)
		}
		sum += ToBasisPoints(v)
	}
	if len(w) != len(Platforms) {
		return fmt.Errorf("weights cover %d platforms, want %d", len(w), len(Platforms))
	}
	if sum != BasisPoints {
		return fmt.Errorf("weights sum to %d bps, want %d", sum, BasisPoints)
	}
	return nil
}

// TimeRemaining is how long until the record's boundary, never negative.
func (r TurnRecord) TimeRemaining(now time.Time) time.Duration {
	d := r.DueAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (r TurnRecord) DueAt() time.Time {
	return r.TurnStartedAt.Add(r.TurnDuration)
}

func (r TurnRecord) Due(now time.Time) bool {
	return !now.Before(r.DueAt())
}

// ClaimHeld is true while a lease is outstanding and unexpired.
func (r TurnRecord) ClaimHeld(now time.Time) bool {
	return r.ClaimToken != "" && now.Before(r.ClaimExpiresAt)
}
