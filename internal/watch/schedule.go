package watch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is used when no schedule is configured.
const DefaultInterval = 15 * time.Minute

type ScheduleKind int

const (
	ScheduleInterval ScheduleKind = iota
	ScheduleCron
)

// Schedule decides how long a watcher sleeps after a cycle.
//
// Accepted forms:
//   - Go duration: "15m", "1h30m"
//   - HH:MM interval: "00:15" (15 minutes)
//   - "interval:" or "every:" prefix forcing an interval
//   - cron: "*/15 * * * *", "@hourly", "@every 15m", or the "cron:" prefix
//
// An interval is a fixed delay measured from the end of the previous cycle.
// A cron schedule sleeps until its next activation.
type Schedule struct {
	Kind   ScheduleKind
	Every  time.Duration
	Cron   string
	Source string // "duration" | "hhmm" | "cron"

	cron cron.Schedule
	loc  *time.Location
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

func Every(d time.Duration) Schedule {
	return Schedule{Kind: ScheduleInterval, Every: d, Source: "duration"}
}

// ParseSchedule parses raw. An empty string yields DefaultInterval. loc is
// used for cron schedules; nil means local time.
func ParseSchedule(raw string, loc *time.Location) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Every(DefaultInterval), nil
	}
	if loc == nil {
		loc = time.Local
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]), loc)
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s, loc)
	}
	sch, err := parseInterval(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q (use a duration like '15m', HH:MM like '00:15', or cron like '*/15 * * * *')", raw)
	}
	return sch, nil
}

func parseCron(expr string, loc *time.Location) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression required")
	}
	c, err := cron.ParseStandard(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Schedule{Kind: ScheduleCron, Cron: expr, Source: "cron", cron: c, loc: loc}, nil
}

func parseInterval(v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Schedule{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Schedule{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval must be > 0")
		}
		return Schedule{Kind: ScheduleInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval must be > 0")
	}
	return Every(d), nil
}

// Delay is the sleep after a cycle that finished at now.
func (s Schedule) Delay(now time.Time) time.Duration {
	if s.Kind == ScheduleCron && s.cron != nil {
		next := s.cron.Next(now.In(s.loc))
		if d := next.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	if s.Every <= 0 {
		return DefaultInterval
	}
	return s.Every
}

// Nominal is the typical spacing between cycles.
func (s Schedule) Nominal(now time.Time) time.Duration {
	if s.Kind == ScheduleCron && s.cron != nil {
		a := s.cron.Next(now.In(s.loc))
		return s.cron.Next(a).Sub(a)
	}
	return s.Delay(now)
}

func (s Schedule) String() string {
	if s.Kind == ScheduleCron {
		return s.Cron
	}
	return s.Every.String()
}
