package cronengine

import (
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// scheduleFromMap decodes a loose schedule object into a Schedule, applying
// both camelCase and snake_case key spellings and defaulting an unset kind
// to "cron".
func scheduleFromMap(raw map[string]any) *Schedule {
	if raw == nil {
		return nil
	}
	kind, _ := stringField(raw, "kind")
	if kind == "" {
		kind = ScheduleCron
	}
	s := &Schedule{Kind: kind}
	if v, ok := int64Field(raw, "atMs", "at_ms"); ok {
		s.AtMs = &v
	}
	if v, ok := int64Field(raw, "everyMs", "every_ms"); ok {
		s.EveryMs = &v
	}
	s.Cron, _ = stringField(raw, "cron")
	s.Timezone, _ = stringField(raw, "timezone", "tz", "timeZone")
	return s
}

func (s *Schedule) zone() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDue reports whether the job should run now, given its last run time (if
// any) and creation time, mirroring ScheduleSpec::is_due.
func (s *Schedule) IsDue(lastRunAtMs, createdAtMs *int64, nowMs int64) bool {
	if s == nil {
		return false
	}
	switch s.Kind {
	case ScheduleAt:
		if s.AtMs == nil {
			return false
		}
		if nowMs < *s.AtMs {
			return false
		}
		if lastRunAtMs == nil {
			return true
		}
		return *lastRunAtMs < *s.AtMs

	case ScheduleEvery:
		if s.EveryMs == nil || *s.EveryMs <= 0 {
			return false
		}
		base := nowMs
		switch {
		case lastRunAtMs != nil:
			base = *lastRunAtMs
		case createdAtMs != nil:
			base = *createdAtMs
		}
		return nowMs-base >= *s.EveryMs

	case ScheduleCron:
		if s.Cron == "" {
			return false
		}
		schedule, err := cronParser.Parse(s.Cron)
		if err != nil {
			return false
		}
		marker := nowMs - 60_000
		if lastRunAtMs != nil {
			marker = *lastRunAtMs
		}
		loc := s.zone()
		last := time.UnixMilli(marker).In(loc)
		next := schedule.Next(last)
		return !next.After(time.UnixMilli(nowMs).In(loc))

	default:
		return false
	}
}

// NextRunAfter returns the next time this schedule will fire, or nil if it
// never will again (a past "at" schedule, or an invalid spec).
func (s *Schedule) NextRunAfter(lastRunAtMs, createdAtMs *int64, nowMs int64) *int64 {
	if s == nil {
		return nil
	}
	switch s.Kind {
	case ScheduleAt:
		if s.AtMs == nil || nowMs >= *s.AtMs {
			return nil
		}
		v := *s.AtMs
		return &v

	case ScheduleEvery:
		if s.EveryMs == nil || *s.EveryMs <= 0 {
			return nil
		}
		base := nowMs
		switch {
		case lastRunAtMs != nil:
			base = *lastRunAtMs
		case createdAtMs != nil:
			base = *createdAtMs
		}
		if base > nowMs {
			return &base
		}
		elapsed := nowMs - base
		intervals := elapsed/(*s.EveryMs) + 1
		next := base + intervals*(*s.EveryMs)
		return &next

	case ScheduleCron:
		if s.Cron == "" {
			return nil
		}
		schedule, err := cronParser.Parse(s.Cron)
		if err != nil {
			return nil
		}
		loc := s.zone()
		next := schedule.Next(time.UnixMilli(nowMs).In(loc)).UnixMilli()
		return &next

	default:
		return nil
	}
}
