// Package economy computes the per-turn growth of a single track.
//
// Everything here is a pure function of its inputs. Randomness comes from a
// caller supplied Source so a fixed seed reproduces a pass exactly.
package economy

import (
	"fmt"
	"math"
	"math/rand"

	"rotation/internal/game"
)

// floorEpsilon keeps products like 10000*0.94 from flooring to 9399.
const floorEpsilon = 1e-9

// MaxDelta caps a single scaled counter delta. Split and fraction multiply
// by basis points, so the cap keeps those products inside int64.
const MaxDelta = int64(1) << 40

// Source is the subset of *rand.Rand the simulator draws from.
type Source interface {
	Int63n(n int64) int64
}

// NewSource returns a deterministic source for seed.
func NewSource(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

type Input struct {
	CurrentTurn int64
	Track       game.Track
	// Promotion is the grant consumed for this track in this pass, if any.
	Promotion *game.PromotionGrant
}

type Result struct {
	TrackID  int64
	EntityID int64

	Decay      float64
	Multiplier float64

	PlayDelta      int64
	SpinDelta      int64
	AudienceDelta  int64
	PlatformPlays  map[game.Platform]int64
	FollowerDeltas map[game.Platform]int64
}

// EntityDelta folds the result into the additive entity counter update.
func (r Result) EntityDelta() game.EntityDelta {
	d := game.EntityDelta{
		Plays:         r.PlayDelta,
		Audience:      r.AudienceDelta,
		PlatformPlays: make(map[game.Platform]int64, len(r.PlatformPlays)),
		Followers:     make(map[game.Platform]int64, len(r.FollowerDeltas)),
	}
	for p, v := range r.PlatformPlays {
		d.PlatformPlays[p] = v
	}
	for p, v := range r.FollowerDeltas {
		d.Followers[p] = v
	}
	return d
}

// Audit expands the result into one record per platform contribution.
func (r Result) Audit(turn int64) []game.AuditRecord {
	out := make([]game.AuditRecord, 0, len(game.Platforms))
	for _, p := range game.Platforms {
		out = append(out, game.AuditRecord{
			TurnNumber: turn,
			EntityID:   r.EntityID,
			TrackID:    r.TrackID,
			Platform:   p,
			Plays:      r.PlatformPlays[p],
			Followers:  r.FollowerDeltas[p],
		})
	}
	return out
}

// Decay returns the growth factor for a track first active on originTurn.
func Decay(p Params, currentTurn, originTurn int64) float64 {
	elapsed := currentTurn - originTurn
	if elapsed < 1 {
		elapsed = 1
	}
	return math.Max(p.FloorDecay, 1-float64(elapsed)*p.DecayRate)
}

// Simulate draws this turn's deltas for one track. It has no side effects.
func Simulate(p Params, rng Source, in Input) (Result, error) {
	t := in.Track
	if err := CheckTrack(in.CurrentTurn, t); err != nil {
		return Result{}, err
	}
	origin := *t.OriginTurn

	mult := 1.0
	if in.Promotion != nil {
		mult = in.Promotion.Multiplier
		if !(mult > 0) || math.IsInf(mult, 0) {
			return Result{}, fmt.Errorf("track %d: %w: promotion %d multiplier %v", t.ID, game.ErrMalformedTrack, in.Promotion.ID, mult)
		}
	}

	decay := Decay(p, in.CurrentTurn, origin)
	factor := decay * mult

	// Draw order is fixed: plays first, then spins.
	plays := scale(uniform(rng, p.PlaysMin, p.PlaysMax), factor)
	spins := scale(uniform(rng, p.SpinsMin, p.SpinsMax), factor)
	followers := fraction(plays, p.FollowerFraction)

	return Result{
		TrackID:        t.ID,
		EntityID:       t.EntityID,
		Decay:          decay,
		Multiplier:     mult,
		PlayDelta:      plays,
		SpinDelta:      spins,
		AudienceDelta:  fraction(plays, p.AudienceFraction),
		PlatformPlays:  Split(plays, p.PlayWeights),
		FollowerDeltas: Split(followers, p.FollowerWeights),
	}, nil
}

// CheckTrack rejects rows the growth model cannot be applied to.
func CheckTrack(currentTurn int64, t game.Track) error {
	if t.OriginTurn == nil {
		return fmt.Errorf("track %d: %w: no origin turn", t.ID, game.ErrMalformedTrack)
	}
	if origin := *t.OriginTurn; origin < 0 || origin > currentTurn {
		return fmt.Errorf("track %d: %w: origin turn %d outside [0, %d]", t.ID, game.ErrMalformedTrack, origin, currentTurn)
	}
	if t.EntityID <= 0 {
		return fmt.Errorf("track %d: %w: no owning entity", t.ID, game.ErrMalformedTrack)
	}
	return nil
}

// Split divides total across platforms by weight. Shares are floored and the
// remainder goes to the dominant platform, so the parts always sum to total.
func Split(total int64, weights map[game.Platform]float64) map[game.Platform]int64 {
	out := make(map[game.Platform]int64, len(game.Platforms))
	var assigned int64
	for _, p := range game.Platforms {
		share := total * game.ToBasisPoints(weights[p]) / game.BasisPoints
		out[p] = share
		assigned += share
	}
	out[game.Platforms[0]] += total - assigned
	return out
}

func uniform(rng Source, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Int63n(hi-lo+1)
}

func scale(v int64, factor float64) int64 {
	f := math.Floor(float64(v)*factor + floorEpsilon)
	if f >= float64(MaxDelta) {
		return MaxDelta
	}
	if f < 0 {
		return 0
	}
	return int64(f)
}

func fraction(v int64, f float64) int64 {
	return v * game.ToBasisPoints(f) / game.BasisPoints
}
