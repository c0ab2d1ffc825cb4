package escalation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Level is one rung of an escalation ladder. After the delay elapses
// with the alert still open and unacknowledged, the listed targets are
// notified on the listed channels.
type Level struct {
	Rank     int           `yaml:"rank"`
	After    time.Duration `yaml:"-"`
	AfterRaw string        `yaml:"after"`
	Channels []string      `yaml:"channels"`
	Targets  []string      `yaml:"targets"`
}

// QuietHours is a daily window during which warning notifications are
// held back. Critical alerts always go out.
type QuietHours struct {
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Timezone string `yaml:"timezone"`
}

// Policy is a site's escalation ladder.
type Policy struct {
	SiteID     string      `yaml:"site_id"`
	Levels     []Level     `yaml:"levels"`
	QuietHours *QuietHours `yaml:"quiet_hours"`
}

// DefaultPolicy returns the ladder used when a site has none of its own.
func DefaultPolicy() Policy {
	return Policy{
		Levels: []Level{
			{Rank: 1, After: 0, Channels: []string{"push"}},
			{Rank: 2, After: 5 * time.Minute, Channels: []string{"sms"}},
			{Rank: 3, After: 15 * time.Minute, Channels: []string{"voice"}},
		},
	}
}

// Normalize parses raw delay strings, sorts levels by rank, and
// validates the ladder. Ranks must run 1..n without gaps so the
// scheduler can always find the next rung.
func (p *Policy) Normalize() error {
	if p == nil {
		return fmt.Errorf("escalation policy: nil policy")
	}
	for i := range p.Levels {
		level := &p.Levels[i]
		if level.Rank <= 0 {
			return fmt.Errorf("escalation policy: level rank must be positive, got %d", level.Rank)
		}
		if level.AfterRaw != "" {
			after, err := time.ParseDuration(level.AfterRaw)
			if err != nil {
				return fmt.Errorf("escalation policy: level %d delay: %w", level.Rank, err)
			}
			level.After = after
		}
		if len(level.Channels) == 0 {
			return fmt.Errorf("escalation policy: level %d has no channels", level.Rank)
		}
	}
	sort.SliceStable(p.Levels, func(i, j int) bool {
		return p.Levels[i].Rank < p.Levels[j].Rank
	})
	for i := range p.Levels {
		if p.Levels[i].Rank != i+1 {
			return fmt.Errorf("escalation policy: ladder ranks must be contiguous from 1, got rank %d at step %d", p.Levels[i].Rank, i+1)
		}
		if i > 0 && p.Levels[i].After < p.Levels[i-1].After {
			return fmt.Errorf("escalation policy: level %d fires before level %d", p.Levels[i].Rank, p.Levels[i-1].Rank)
		}
	}
	if p.QuietHours != nil {
		if _, _, err := parseClock(p.QuietHours.Start); err != nil {
			return fmt.Errorf("escalation policy: quiet hours start: %w", err)
		}
		if _, _, err := parseClock(p.QuietHours.End); err != nil {
			return fmt.Errorf("escalation policy: quiet hours end: %w", err)
		}
	}
	return nil
}

// DueLevel returns the highest level whose delay has elapsed since the
// alert triggered, or nil when none is due.
func (p Policy) DueLevel(age time.Duration) *Level {
	var due *Level
	for i := range p.Levels {
		if age >= p.Levels[i].After {
			due = &p.Levels[i]
		}
	}
	return due
}

// LevelByRank returns the level with the given rank.
func (p Policy) LevelByRank(rank int) *Level {
	for i := range p.Levels {
		if p.Levels[i].Rank == rank {
			return &p.Levels[i]
		}
	}
	return nil
}

// InQuietHours reports whether the instant falls inside the policy's
// quiet window. Windows may cross midnight.
func (p Policy) InQuietHours(at time.Time) bool {
	q := p.QuietHours
	if q == nil || q.Start == "" || q.End == "" {
		return false
	}
	loc := time.UTC
	if q.Timezone != "" {
		if parsed, err := time.LoadLocation(q.Timezone); err == nil {
			loc = parsed
		}
	}
	local := at.In(loc)
	minute := local.Hour()*60 + local.Minute()

	startH, startM, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	endH, endM, err := parseClock(q.End)
	if err != nil {
		return false
	}
	start := startH*60 + startM
	end := endH*60 + endM
	if start == end {
		return false
	}
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func parseClock(value string) (int, int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", value)
	}
	return hour, minute, nil
}
