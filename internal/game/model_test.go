package game

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestValidateWeights(t *testing.T) {
	valid := []map[Platform]float64{
		{PlatformStream: 0.55, PlatformVideo: 0.28, PlatformSocial: 0.17},
		{PlatformStream: 1, PlatformVideo: 0, PlatformSocial: 0},
		{PlatformStream: 0.1 + 0.2, PlatformVideo: 0.3, PlatformSocial: 0.4},
	}
	for _, w := range valid {
		if err := ValidateWeights(w); err != nil {
			t.Fatalf("expected weights %v to be valid: %v", w, err)
		}
	}

	invalid := []map[Platform]float64{
		{PlatformStream: 0.55, PlatformVideo: 0.28},
		{PlatformStream: 0.55, PlatformVideo: 0.28, PlatformSocial: 0.18},
		{PlatformStream: 1.2, PlatformVideo: -0.2, PlatformSocial: 0},
		{PlatformStream: 0.5, PlatformVideo: 0.3, PlatformSocial: 0.1, "radio": 0.1},
	}
	for _, w := range invalid {
		if err := ValidateWeights(w); err == nil {
			t.Fatalf("expected weights %v to fail", w)
		}
	}
}

func TestTurnRecordTiming(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := TurnRecord{TurnStartedAt: start, TurnDuration: time.Hour}

	tests := []struct {
		at        time.Duration
		remaining time.Duration
		due       bool
	}{
		{at: 0, remaining: time.Hour, due: false},
		{at: 59 * time.Minute, remaining: time.Minute, due: false},
		{at: time.Hour, remaining: 0, due: true},
		{at: 3 * time.Hour, remaining: 0, due: true},
	}
	for _, tc := range tests {
		now := start.Add(tc.at)
		if got := rec.TimeRemaining(now); got != tc.remaining {
			t.Fatalf("at=%s remaining got=%s want=%s", tc.at, got, tc.remaining)
		}
		if got := rec.Due(now); got != tc.due {
			t.Fatalf("at=%s due got=%v want=%v", tc.at, got, tc.due)
		}
	}
}

func TestClaimHeld(t *testing.T) {
	now := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	tests := []struct {
		token   string
		expires time.Time
		want    bool
	}{
		{token: "", expires: now.Add(time.Minute), want: false},
		{token: "a", expires: now.Add(time.Minute), want: true},
		{token: "a", expires: now, want: false},
		{token: "a", expires: now.Add(-time.Second), want: false},
	}
	for _, tc := range tests {
		rec := TurnRecord{ClaimToken: tc.token, ClaimExpiresAt: tc.expires}
		if got := rec.ClaimHeld(now); got != tc.want {
			t.Fatalf("token=%q expires=%s got=%v want=%v", tc.token, tc.expires, got, tc.want)
		}
	}
}

func TestEntityDeltaAdd(t *testing.T) {
	var total EntityDelta
	total.Add(EntityDelta{
		Plays:         100,
		Audience:      40,
		PlatformPlays: map[Platform]int64{PlatformStream: 55, PlatformVideo: 28, PlatformSocial: 17},
		Followers:     map[Platform]int64{PlatformStream: 1},
	})
	total.Add(EntityDelta{
		Plays:         10,
		Audience:      4,
		PlatformPlays: map[Platform]int64{PlatformStream: 10},
		Followers:     map[Platform]int64{PlatformVideo: 2},
	})
	if total.Plays != 110 || total.Audience != 44 {
		t.Fatalf("got plays=%d audience=%d", total.Plays, total.Audience)
	}
	if total.PlatformPlays[PlatformStream] != 65 || total.PlatformPlays[PlatformSocial] != 17 {
		t.Fatalf("got platform plays %v", total.PlatformPlays)
	}
	if total.Followers[PlatformStream] != 1 || total.Followers[PlatformVideo] != 2 {
		t.Fatalf("got followers %v", total.Followers)
	}
}

func TestTransient(t *testing.T) {
	cause := errors.New("database is locked")
	err := Transient("claim turn", cause)
	if !IsTransient(err) || !errors.Is(err, cause) {
		t.Fatalf("transient wrapper lost its chain: %v", err)
	}
	if !IsTransient(fmt.Errorf("pass: %w", ErrTxConflict)) {
		t.Fatalf("tx conflict should be transient")
	}
	if IsTransient(ErrLeaseLost) {
		t.Fatalf("lease lost must not be retried")
	}
}
