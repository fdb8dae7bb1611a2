package charts

import (
	"errors"
	"testing"

	"rotation/internal/game"
)

func mustCatalog(t *testing.T, specs []Spec) *Catalog {
	t.Helper()
	c, err := NewCatalog(specs)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func TestRankOrdersByMetricThenID(t *testing.T) {
	tracks := []game.Track{
		{ID: 5, Plays: 100},
		{ID: 2, Plays: 300},
		{ID: 9, Plays: 100},
		{ID: 1, Plays: 100},
		{ID: 4, Plays: 50},
	}
	spec := Spec{Type: "top_streams", Subject: SubjectTrack, Metric: MetricPlays, Cap: 4}
	rows := Rank(8, spec, nil, tracks)

	wantIDs := []int64{2, 1, 5, 9}
	if len(rows) != len(wantIDs) {
		t.Fatalf("got %d rows want %d", len(rows), len(wantIDs))
	}
	for i, row := range rows {
		if row.SubjectID != wantIDs[i] {
			t.Fatalf("position %d: got subject %d want %d", i+1, row.SubjectID, wantIDs[i])
		}
		if row.Position != i+1 {
			t.Fatalf("row %d: got position %d", i, row.Position)
		}
		if row.TurnNumber != 8 || row.ChartType != "top_streams" {
			t.Fatalf("row %d stamped %d/%s", i, row.TurnNumber, row.ChartType)
		}
		if i > 0 && rows[i-1].MetricValue < row.MetricValue {
			t.Fatalf("row %d not descending", i)
		}
	}
}

func TestBuildUsesIndependentSubjectPools(t *testing.T) {
	c := mustCatalog(t, DefaultSpecs())
	entities := []game.Entity{
		{ID: 1, MonthlyAudience: 10, Followers: map[game.Platform]int64{game.PlatformStream: 5}},
		{ID: 2, MonthlyAudience: 20, Followers: map[game.Platform]int64{game.PlatformVideo: 1}},
	}
	tracks := []game.Track{
		{ID: 10, EntityID: 1, Plays: 7, Spins: 70},
		{ID: 11, EntityID: 2, Plays: 9, Spins: 30},
		{ID: 12, EntityID: 2, Plays: 1, Spins: 90},
	}
	rows := c.Build(3, entities, tracks)

	byType := map[string][]game.ChartSnapshot{}
	for _, r := range rows {
		byType[r.ChartType] = append(byType[r.ChartType], r)
	}
	if got := byType["radio"][0].SubjectID; got != 12 {
		t.Fatalf("radio #1 got %d want 12", got)
	}
	if got := byType["top_streams"][0].SubjectID; got != 11 {
		t.Fatalf("top_streams #1 got %d want 11", got)
	}
	if got := byType["monthly_listeners"][0].SubjectID; got != 2 {
		t.Fatalf("monthly_listeners #1 got %d want 2", got)
	}
	if got := byType["followers"][0].SubjectID; got != 1 {
		t.Fatalf("followers #1 got %d want 1", got)
	}
	if len(byType["monthly_listeners"]) != 2 || len(byType["radio"]) != 3 {
		t.Fatalf("unexpected pool sizes: %d entities, %d tracks", len(byType["monthly_listeners"]), len(byType["radio"]))
	}
}

func TestRankPositionsContiguous(t *testing.T) {
	var tracks []game.Track
	for i := int64(1); i <= 250; i++ {
		tracks = append(tracks, game.Track{ID: i, Plays: (i * 37) % 11})
	}
	rows := Rank(1, Spec{Type: "x", Subject: SubjectTrack, Metric: MetricPlays, Cap: 100}, nil, tracks)
	if len(rows) != 100 {
		t.Fatalf("got %d rows want cap 100", len(rows))
	}
	seen := map[int64]bool{}
	for i, row := range rows {
		if row.Position != i+1 {
			t.Fatalf("position gap at %d: %d", i, row.Position)
		}
		if seen[row.SubjectID] {
			t.Fatalf("subject %d ranked twice", row.SubjectID)
		}
		seen[row.SubjectID] = true
		if i > 0 {
			prev := rows[i-1]
			if prev.MetricValue < row.MetricValue || (prev.MetricValue == row.MetricValue && prev.SubjectID > row.SubjectID) {
				t.Fatalf("ordering broken between %+v and %+v", prev, row)
			}
		}
	}
}

func TestNewCatalogValidation(t *testing.T) {
	bad := [][]Spec{
		nil,
		{{Type: "a", Subject: SubjectTrack, Metric: MetricAudience, Cap: 10}},
		{{Type: "a", Subject: "album", Metric: MetricPlays, Cap: 10}},
		{{Type: "a", Subject: SubjectTrack, Metric: MetricPlays, Cap: 0}},
		{
			{Type: "a", Subject: SubjectTrack, Metric: MetricPlays, Cap: 10},
			{Type: "a", Subject: SubjectEntity, Metric: MetricPlays, Cap: 10},
		},
	}
	for i, specs := range bad {
		if _, err := NewCatalog(specs); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
	c := mustCatalog(t, DefaultSpecs())
	if _, err := c.Lookup("nope"); !errors.Is(err, game.ErrInvalidChartType) {
		t.Fatalf("expected ErrInvalidChartType, got %v", err)
	}
}

func TestMovement(t *testing.T) {
	prev := []game.ChartSnapshot{
		{Position: 1, SubjectID: 10},
		{Position: 2, SubjectID: 20},
		{Position: 3, SubjectID: 30},
	}
	cur := []game.ChartSnapshot{
		{Position: 1, SubjectID: 30, MetricValue: 9},
		{Position: 2, SubjectID: 10, MetricValue: 8},
		{Position: 3, SubjectID: 40, MetricValue: 7},
	}
	rows := Movement(cur, prev)
	if rows[0].Change != 2 || rows[0].IsNew || *rows[0].PreviousPosition != 3 {
		t.Fatalf("subject 30: %+v", rows[0])
	}
	if rows[1].Change != -1 {
		t.Fatalf("subject 10 change got %d want -1", rows[1].Change)
	}
	if !rows[2].IsNew || rows[2].PreviousPosition != nil {
		t.Fatalf("subject 40 should be new: %+v", rows[2])
	}
}
