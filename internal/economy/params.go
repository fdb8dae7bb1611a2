package economy

import (
	"fmt"
	"math"

	"rotation/internal/game"
)

const (
	DefaultDecayRate  = 0.03
	DefaultFloorDecay = 0.15

	DefaultPlaysMin = int64(2_000)
	DefaultPlaysMax = int64(25_000)
	DefaultSpinsMin = int64(50)
	DefaultSpinsMax = int64(500)

	DefaultFollowerFraction = 0.02
	DefaultAudienceFraction = 0.40
)

// Params holds every tunable of the per-track growth model.
type Params struct {
	DecayRate  float64
	FloorDecay float64

	PlaysMin int64
	PlaysMax int64
	SpinsMin int64
	SpinsMax int64

	// PlayWeights splits a play delta across platforms.
	PlayWeights map[game.Platform]float64
	// FollowerWeights splits follower growth across platforms.
	FollowerWeights map[game.Platform]float64

	FollowerFraction float64
	AudienceFraction float64
}

func DefaultParams() Params {
	return Params{
		DecayRate:  DefaultDecayRate,
		FloorDecay: DefaultFloorDecay,
		PlaysMin:   DefaultPlaysMin,
		PlaysMax:   DefaultPlaysMax,
		SpinsMin:   DefaultSpinsMin,
		SpinsMax:   DefaultSpinsMax,
		PlayWeights: map[game.Platform]float64{
			game.PlatformStream: 0.55,
			game.PlatformVideo:  0.28,
			game.PlatformSocial: 0.17,
		},
		FollowerWeights: map[game.Platform]float64{
			game.PlatformStream: 0.45,
			game.PlatformVideo:  0.35,
			game.PlatformSocial: 0.20,
		},
		FollowerFraction: DefaultFollowerFraction,
		AudienceFraction: DefaultAudienceFraction,
	}
}

func (p Params) Validate() error {
	if p.DecayRate < 0 || math.IsNaN(p.DecayRate) {
		return fmt.Errorf("decay rate must be >= 0")
	}
	if p.FloorDecay <= 0 || p.FloorDecay > 1 {
		return fmt.Errorf("floor decay must be in (0, 1]")
	}
	if p.PlaysMin < 0 || p.PlaysMax < p.PlaysMin {
		return fmt.Errorf("plays range [%d, %d] is invalid", p.PlaysMin, p.PlaysMax)
	}
	if p.SpinsMin < 0 || p.SpinsMax < p.SpinsMin {
		return fmt.Errorf("spins range [%d, %d] is invalid", p.SpinsMin, p.SpinsMax)
	}
	if err := game.ValidateWeights(p.PlayWeights); err != nil {
		return fmt.Errorf("play weights: %w", err)
	}
	if err := game.ValidateWeights(p.FollowerWeights); err != nil {
		return fmt.Errorf("follower weights: %w", err)
	}
	if p.FollowerFraction < 0 || p.AudienceFraction < 0 {
		return fmt.Errorf("growth fractions must be >= 0")
	}
	return nil
}
