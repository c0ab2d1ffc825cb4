package escalation

import (
	"testing"
	"time"
)

func TestNormalize_ParsesDelaysAndSorts(t *testing.T) {
	policy := Policy{
		SiteID: "site-1",
		Levels: []Level{
			{Rank: 2, AfterRaw: "5m", Channels: []string{"sms"}},
			{Rank: 1, AfterRaw: "0s", Channels: []string{"push"}},
		},
	}
	if err := policy.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if policy.Levels[0].Rank != 1 || policy.Levels[1].Rank != 2 {
		t.Fatalf("levels not sorted by rank: %+v", policy.Levels)
	}
	if policy.Levels[1].After != 5*time.Minute {
		t.Fatalf("After = %v", policy.Levels[1].After)
	}
}

func TestNormalize_RejectsBrokenLadders(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
	}{
		{"zero rank", Policy{Levels: []Level{{Rank: 0, Channels: []string{"push"}}}}},
		{"no channels", Policy{Levels: []Level{{Rank: 1}}}},
		{"bad delay", Policy{Levels: []Level{{Rank: 1, AfterRaw: "soon", Channels: []string{"push"}}}}},
		{"duplicate rank", Policy{Levels: []Level{
			{Rank: 1, Channels: []string{"push"}},
			{Rank: 1, Channels: []string{"sms"}},
		}}},
		{"rank gap", Policy{Levels: []Level{
			{Rank: 1, Channels: []string{"push"}},
			{Rank: 3, Channels: []string{"sms"}},
		}}},
		{"out of order delays", Policy{Levels: []Level{
			{Rank: 1, AfterRaw: "10m", Channels: []string{"push"}},
			{Rank: 2, AfterRaw: "5m", Channels: []string{"sms"}},
		}}},
		{"bad quiet hours", Policy{
			Levels:     []Level{{Rank: 1, Channels: []string{"push"}}},
			QuietHours: &QuietHours{Start: "22", End: "06:00"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.policy.Normalize(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDueLevel(t *testing.T) {
	policy := DefaultPolicy()
	if due := policy.DueLevel(0); due == nil || due.Rank != 1 {
		t.Fatalf("DueLevel(0) = %+v", due)
	}
	if due := policy.DueLevel(6 * time.Minute); due == nil || due.Rank != 2 {
		t.Fatalf("DueLevel(6m) = %+v", due)
	}
	if due := policy.DueLevel(time.Hour); due == nil || due.Rank != 3 {
		t.Fatalf("DueLevel(1h) = %+v", due)
	}
}

func TestInQuietHours(t *testing.T) {
	policy := Policy{QuietHours: &QuietHours{Start: "22:00", End: "06:00"}}

	cases := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC), true},
		{time.Date(2026, 2, 10, 3, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 2, 10, 22, 0, 0, 0, time.UTC), true},
		{time.Date(2026, 2, 10, 6, 0, 0, 0, time.UTC), false},
		{time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		if got := policy.InQuietHours(tc.at); got != tc.want {
			t.Fatalf("InQuietHours(%s) = %v, want %v", tc.at, got, tc.want)
		}
	}

	// No quiet hours configured means never quiet.
	if (Policy{}).InQuietHours(time.Date(2026, 2, 10, 3, 0, 0, 0, time.UTC)) {
		t.Fatal("policy without quiet hours should never be quiet")
	}
}

func TestLevelByRank(t *testing.T) {
	policy := DefaultPolicy()
	if level := policy.LevelByRank(2); level == nil || level.Channels[0] != "sms" {
		t.Fatalf("LevelByRank(2) = %+v", level)
	}
	if level := policy.LevelByRank(9); level != nil {
		t.Fatalf("LevelByRank(9) = %+v", level)
	}
}
