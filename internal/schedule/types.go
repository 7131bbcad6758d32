package schedule

import (
	"time"
)

// Weekday keys for DailyTimes ("1" = Monday .. "7" = Sunday).
var weekdayKeys = []string{"1", "2", "3", "4", "5", "6", "7"}

// legacyVersion marks documents written before defaultVersion existed.
// They are auto-upgrade candidates while still system-managed.
const legacyVersion = "legacy"

// systemActor is the UpdatedBy value for schedules never touched by an admin.
const systemActor = "system"

// Schedule is the persisted singleton schedule document.
type Schedule struct {
	Timezone string `json:"timezone"`

	// DailyTimes maps ISO weekday keys "1".."7" to an HH:mm local send time.
	// A nil value means "no send that day".
	DailyTimes map[string]*string `json:"dailyTimes"`

	// ManualOverrides is kept sorted ascending by date, at most one
	// active entry per date.
	ManualOverrides []Override `json:"manualOverrides"`

	Paused bool `json:"paused"`

	LastUpdatedAt  time.Time `json:"lastUpdatedAt"`
	UpdatedBy      string    `json:"updatedBy"`
	DefaultVersion string    `json:"defaultVersion"`
}

// Override is a one-off date/time that replaces the default recurrence
// for its date. It is consumed exactly once after a successful dispatch.
type Override struct {
	ID        string     `json:"id"`
	Date      string     `json:"date"` // DD-MM-YYYY
	Time      string     `json:"time"` // HH:mm
	Note      string     `json:"note,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	CreatedBy string     `json:"createdBy"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
}

// Active reports whether the override can still fire.
func (o Override) Active() bool { return o.ConsumedAt == nil }

// ResolvedRun is the resolver's answer for one planning cycle: what to send
// and when. It is ephemeral and never persisted.
type ResolvedRun struct {
	Schedule Schedule
	Override *Override // nil for a default daily run
	Target   time.Time
}

// FromOverride reports whether the run was produced by a manual override.
func (r *ResolvedRun) FromOverride() bool { return r != nil && r.Override != nil }

// FactoryDefaults is the shipped default schedule. Operators bump Version
// when changing the defaults; unmodified system-managed deployments pick the
// new values up via the store's auto-upgrade on read.
type FactoryDefaults struct {
	Timezone   string
	DailyTimes map[string]*string
	Version    string
}

// Template builds a fresh system-managed schedule from the factory defaults.
func (f FactoryDefaults) Template() Schedule {
	return Schedule{
		Timezone:       f.Timezone,
		DailyTimes:     cloneDailyTimes(f.DailyTimes),
		Paused:         false,
		LastUpdatedAt:  time.Unix(0, 0).UTC(),
		UpdatedBy:      systemActor,
		DefaultVersion: f.Version,
	}
}

// Clone returns a deep copy. Store methods hand out clones so callers can
// not mutate the document behind the store's back.
func (s Schedule) Clone() Schedule {
	cp := s
	cp.DailyTimes = cloneDailyTimes(s.DailyTimes)
	if s.ManualOverrides != nil {
		cp.ManualOverrides = make([]Override, len(s.ManualOverrides))
		for i, o := range s.ManualOverrides {
			cp.ManualOverrides[i] = o.clone()
		}
	}
	return cp
}

func (o Override) clone() Override {
	cp := o
	if o.ConsumedAt != nil {
		t := *o.ConsumedAt
		cp.ConsumedAt = &t
	}
	return cp
}

func cloneDailyTimes(m map[string]*string) map[string]*string {
	cp := make(map[string]*string, len(weekdayKeys))
	for k, v := range m {
		if v == nil {
			cp[k] = nil
			continue
		}
		s := *v
		cp[k] = &s
	}
	return cp
}

// DailyTime returns the configured HH:mm for an ISO weekday, or "" when the
// day has no default send.
func (s Schedule) DailyTime(isoWeekday int) string {
	v, ok := s.DailyTimes[weekdayKeys[isoWeekday-1]]
	if !ok || v == nil {
		return ""
	}
	return *v
}

// ActiveOverride returns the active (non-consumed) override for a date key,
// or nil.
func (s *Schedule) ActiveOverride(dateKey string) *Override {
	for i := range s.ManualOverrides {
		o := &s.ManualOverrides[i]
		if o.Date == dateKey && o.Active() {
			return o
		}
	}
	return nil
}

func dailyTimesEqual(a, b map[string]*string) bool {
	for _, k := range weekdayKeys {
		av, bv := a[k], b[k]
		if (av == nil) != (bv == nil) {
			return false
		}
		if av != nil && *av != *bv {
			return false
		}
	}
	return true
}

// TimeRef is a convenience for building DailyTimes literals.
func TimeRef(hhmm string) *string { return &hhmm }
