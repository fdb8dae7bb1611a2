package charts

import "rotation/internal/game"

type MovementRow struct {
	Position         int   `json:"position"`
	SubjectID        int64 `json:"subject_id"`
	MetricValue      int64 `json:"metric_value"`
	PreviousPosition *int  `json:"previous_position"`
	// Change is previous minus current position; positive means climbing.
	Change int  `json:"change"`
	IsNew  bool `json:"is_new"`
}

// Movement joins a snapshot with the previous turn's snapshot of the same
// chart type by subject id.
func Movement(current, previous []game.ChartSnapshot) []MovementRow {
	prev := make(map[int64]int, len(previous))
	for _, row := range previous {
		prev[row.SubjectID] = row.Position
	}
	out := make([]MovementRow, 0, len(current))
	for _, row := range current {
		m := MovementRow{
			Position:    row.Position,
			SubjectID:   row.SubjectID,
			MetricValue: row.MetricValue,
		}
		if p, ok := prev[row.SubjectID]; ok {
			pos := p
			m.PreviousPosition = &pos
			m.Change = p - row.Position
		} else {
			m.IsNew = true
		}
		out = append(out, m)
	}
	return out
}
