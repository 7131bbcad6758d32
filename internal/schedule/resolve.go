package schedule

import (
	"fmt"
	"time"
)

// resolveHorizonDays bounds the forward walk so resolution terminates even on
// a schedule with no send days at all (three full weeks covers every weekday
// pattern).
const resolveHorizonDays = 21

// Resolve picks the earliest qualifying fire instant for the schedule, seen
// from reference. It returns nil when no run qualifies within the horizon.
//
// Rules:
//   - paused: only overrides may fire;
//   - an active override takes strict precedence over the default time on its
//     date, including when the default time has not been reached yet;
//   - "upcoming" tolerates lateness up to grace: an instant at exactly
//     reference-grace still qualifies, so a run that started slightly late is
//     treated as the current run instead of being skipped.
//
// Resolve is pure: it reads the schedule snapshot and the clock argument only.
func Resolve(s Schedule, reference time.Time, grace time.Duration) (*ResolvedRun, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrBadTimezone, s.Timezone)
	}
	if grace < 0 {
		grace = 0
	}
	ref := reference.In(loc)
	upcoming := func(target time.Time) bool {
		return !target.Before(ref.Add(-grace))
	}

	if s.Paused {
		// Overrides are kept sorted by date, so the first upcoming active
		// one is the earliest.
		for i := range s.ManualOverrides {
			o := &s.ManualOverrides[i]
			if !o.Active() {
				continue
			}
			target, err := DateAtClock(o.Date, o.Time, loc)
			if err != nil {
				continue
			}
			if upcoming(target) {
				return &ResolvedRun{Schedule: s.Clone(), Override: ptrClone(o), Target: target}, nil
			}
		}
		return nil, nil
	}

	cursor := ref
	for i := 0; i < resolveHorizonDays; i++ {
		dateKey := DateKey(cursor)

		if o := s.ActiveOverride(dateKey); o != nil {
			target, err := DateAtClock(o.Date, o.Time, loc)
			if err == nil && upcoming(target) {
				return &ResolvedRun{Schedule: s.Clone(), Override: ptrClone(o), Target: target}, nil
			}
			// An override day never falls back to the default time.
			cursor = startOfNextDay(cursor)
			continue
		}

		if hhmm := s.DailyTime(ISOWeekday(cursor)); hhmm != "" {
			target, err := ClockAt(cursor, hhmm)
			if err == nil && upcoming(target) {
				return &ResolvedRun{Schedule: s.Clone(), Override: nil, Target: target}, nil
			}
		}

		cursor = startOfNextDay(cursor)
	}

	return nil, nil
}

func ptrClone(o *Override) *Override {
	cp := o.clone()
	return &cp
}
