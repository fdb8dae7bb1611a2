// Package charts ranks subjects into per-turn leaderboards and derives rank
// movement between two turns.
package charts

import (
	"sort"

	"rotation/internal/game"
)

type candidate struct {
	id    int64
	value int64
}

// Build produces one ranked snapshot per spec. It never looks at earlier
// turns; history is only read back through Movement.
func (c *Catalog) Build(turn int64, entities []game.Entity, tracks []game.Track) []game.ChartSnapshot {
	var out []game.ChartSnapshot
	for _, s := range c.specs {
		out = append(out, Rank(turn, s, entities, tracks)...)
	}
	return out
}

// Rank orders the spec's subject pool by metric descending, ties by id
// ascending, and keeps the first Cap rows.
func Rank(turn int64, s Spec, entities []game.Entity, tracks []game.Track) []game.ChartSnapshot {
	pool := candidates(s, entities, tracks)
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].value != pool[j].value {
			return pool[i].value > pool[j].value
		}
		return pool[i].id < pool[j].id
	})
	if len(pool) > s.Cap {
		pool = pool[:s.Cap]
	}
	out := make([]game.ChartSnapshot, 0, len(pool))
	for i, cand := range pool {
		out = append(out, game.ChartSnapshot{
			TurnNumber:  turn,
			ChartType:   s.Type,
			Position:    i + 1,
			SubjectID:   cand.id,
			MetricValue: cand.value,
		})
	}
	return out
}

func candidates(s Spec, entities []game.Entity, tracks []game.Track) []candidate {
	switch s.Subject {
	case SubjectTrack:
		out := make([]candidate, 0, len(tracks))
		for _, t := range tracks {
			v := t.Plays
			if s.Metric == MetricSpins {
				v = t.Spins
			}
			out = append(out, candidate{id: t.ID, value: v})
		}
		return out
	case SubjectEntity:
		out := make([]candidate, 0, len(entities))
		for _, e := range entities {
			var v int64
			switch s.Metric {
			case MetricAudience:
				v = e.MonthlyAudience
			case MetricFollowers:
				v = e.TotalFollowers()
			default:
				v = e.TotalPlays
			}
			out = append(out, candidate{id: e.ID, value: v})
		}
		return out
	}
	return nil
}
