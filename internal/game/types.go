package game

import "time"

type Platform string

const (
	PlatformStream Platform = "stream"
	PlatformVideo  Platform = "video"
	PlatformSocial Platform = "social"
)

// Platforms is ordered by dominance; rounding remainders go to the first.
var Platforms = []Platform{PlatformStream, PlatformVideo, PlatformSocial}

type TurnRecord struct {
	ID             int64         `json:"id"`
	CurrentTurn    int64         `json:"current_turn"`
	TurnStartedAt  time.Time     `json:"turn_started_at"`
	TurnDuration   time.Duration `json:"turn_duration"`
	ClaimToken     string        `json:"-"`
	ClaimExpiresAt time.Time     `json:"-"`
	LeaseTakeovers int           `json:"lease_takeovers"`
}

type Entity struct {
	ID              int64              `json:"id"`
	Name            string             `json:"name"`
	TotalPlays      int64              `json:"total_plays"`
	MonthlyAudience int64              `json:"monthly_audience"`
	Followers       map[Platform]int64 `json:"followers"`
	PlatformPlays   map[Platform]int64 `json:"platform_plays"`
}

func (e Entity) TotalFollowers() int64 {
	var n int64
	for _, v := range e.Followers {
		n += v
	}
	return n
}

type Track struct {
	ID         int64  `json:"id"`
	EntityID   int64  `json:"entity_id"`
	Title      string `json:"title"`
	Plays      int64  `json:"plays"`
	Spins      int64  `json:"spins"`
	OriginTurn *int64 `json:"origin_turn"`
}

type PromotionGrant struct {
	ID           int64   `json:"id"`
	TrackID      int64   `json:"track_id"`
	Multiplier   float64 `json:"multiplier"`
	Active       bool    `json:"active"`
	ConsumedTurn *int64  `json:"consumed_turn,omitempty"`
}

type ChartSnapshot struct {
	TurnNumber  int64  `json:"turn_number"`
	ChartType   string `json:"chart_type"`
	Position    int    `json:"position"`
	SubjectID   int64  `json:"subject_id"`
	MetricValue int64  `json:"metric_value"`
}

// EntityDelta is an additive change to an entity's counters.
type EntityDelta struct {
	Plays         int64              `json:"plays"`
	Audience      int64              `json:"audience"`
	PlatformPlays map[Platform]int64 `json:"platform_plays"`
	Followers     map[Platform]int64 `json:"followers"`
}

// Add folds other into d.
func (d *EntityDelta) Add(other EntityDelta) {
	d.Plays += other.Plays
	d.Audience += other.Audience
	if d.PlatformPlays == nil {
		d.PlatformPlays = make(map[Platform]int64, len(Platforms))
	}
	if d.Followers == nil {
		d.Followers = make(map[Platform]int64, len(Platforms))
	}
	for p, v := range other.PlatformPlays {
		d.PlatformPlays[p] += v
	}
	for p, v := range other.Followers {
		d.Followers[p] += v
	}
}

// AuditRecord is one platform contribution of one track in one turn.
type AuditRecord struct {
	TurnNumber int64    `json:"turn_number"`
	EntityID   int64    `json:"entity_id"`
	TrackID    int64    `json:"track_id"`
	Platform   Platform `json:"platform"`
	Plays      int64    `json:"plays"`
	Followers  int64    `json:"followers"`
}

type TurnStatus struct {
	CurrentTurn   int64     `json:"current_turn"`
	TurnStartedAt time.Time `json:"turn_started_at"`
	TurnDuration  string    `json:"turn_duration"`
	NextTurnAt    time.Time `json:"next_turn_at"`
	TimeRemaining string    `json:"time_remaining"`
	RemainingMs   int64     `json:"time_remaining_ms"`
	Claimed       bool      `json:"claimed"`
}
