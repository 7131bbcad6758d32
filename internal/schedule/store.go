package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/pkg/logx"
)

// overrideRetentionDays bounds override storage: entries older than this (by
// the schedule's own timezone) are dropped on every read, consumed or not.
const overrideRetentionDays = 3

var ErrBadWeekday = errors.New("invalid weekday key, expected 1..7")

// Store owns the persisted schedule document and its overrides.
//
// All operations are read-modify-write under one mutex; writes go through a
// temp file + rename so a crash never leaves a half-written document behind.
// An unreadable or corrupt document is recovered by re-seeding from the
// factory template (logged, never fatal).
type Store struct {
	mu      sync.Mutex
	log     logx.Logger
	path    string
	factory FactoryDefaults
}

func NewStore(path string, factory FactoryDefaults, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if factory.DailyTimes == nil {
		factory.DailyTimes = map[string]*string{}
	}
	return &Store{log: log, path: path, factory: factory}
}

// Read loads, sanitizes, auto-upgrades and prunes the schedule document.
// The returned schedule is a private copy.
func (st *Store) Read() (Schedule, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.readLocked()
}

// Write sanitizes, stamps and atomically persists the schedule, returning the
// canonical copy.
func (st *Store) Write(s Schedule) (Schedule, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.writeLocked(s)
}

// Patch is a partial schedule update. Nil fields are left untouched; a
// DailyTimes entry with a nil value clears that weekday.
type Patch struct {
	Timezone   *string
	Paused     *bool
	DailyTimes map[string]*string
}

// Set applies a validated partial update and persists it. Validation errors
// are returned before anything is written.
func (st *Store) Set(p Patch, updatedBy string) (Schedule, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, err := st.readLocked()
	if err != nil {
		return Schedule{}, err
	}

	if p.Timezone != nil {
		tz := strings.TrimSpace(*p.Timezone)
		if _, err := time.LoadLocation(tz); err != nil || tz == "" {
			return Schedule{}, fmt.Errorf("%w: %q", ErrBadTimezone, *p.Timezone)
		}
		s.Timezone = tz
	}
	if p.Paused != nil {
		s.Paused = *p.Paused
	}
	for k, v := range p.DailyTimes {
		if !isWeekdayKey(k) {
			return Schedule{}, fmt.Errorf("%w: %q", ErrBadWeekday, k)
		}
		if v == nil || strings.TrimSpace(*v) == "" {
			s.DailyTimes[k] = nil
			continue
		}
		if _, _, err := ParseClock(*v); err != nil {
			return Schedule{}, err
		}
		t := strings.TrimSpace(*v)
		s.DailyTimes[k] = &t
	}
	if updatedBy != "" {
		s.UpdatedBy = updatedBy
	}

	return st.writeLocked(s)
}

// AddOverride upserts the override for a date: when an active override
// already exists, its time and note are updated in place.
func (st *Store) AddOverride(date, hhmm, note, createdBy string) (Schedule, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	dateKey, err := NormalizeDate(date)
	if err != nil {
		return Schedule{}, err
	}
	if _, _, err := ParseClock(hhmm); err != nil {
		return Schedule{}, err
	}

	s, err := st.readLocked()
	if err != nil {
		return Schedule{}, err
	}
	if _, err := DateAtClock(dateKey, hhmm, mustLocation(s.Timezone)); err != nil {
		return Schedule{}, err
	}
	if createdBy == "" {
		createdBy = "admin"
	}

	if existing := s.ActiveOverride(dateKey); existing != nil {
		existing.Time = hhmm
		if note != "" {
			existing.Note = note
		}
		existing.CreatedBy = createdBy
	} else {
		s.ManualOverrides = append(s.ManualOverrides, Override{
			ID:        uuid.NewString(),
			Date:      dateKey,
			Time:      hhmm,
			Note:      note,
			CreatedAt: time.Now().UTC(),
			CreatedBy: createdBy,
		})
	}
	sortOverrides(s.ManualOverrides)
	s.UpdatedBy = createdBy

	return st.writeLocked(s)
}

// RemoveOverride drops every override (active or consumed) for the date.
func (st *Store) RemoveOverride(date string) (Schedule, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	dateKey, err := NormalizeDate(date)
	if err != nil {
		return Schedule{}, err
	}
	s, err := st.readLocked()
	if err != nil {
		return Schedule{}, err
	}

	kept := s.ManualOverrides[:0]
	for _, o := range s.ManualOverrides {
		if o.Date != dateKey {
			kept = append(kept, o)
		}
	}
	s.ManualOverrides = kept

	return st.writeLocked(s)
}

// ConsumeOverride marks the active override for a date as consumed. It is a
// no-op when no active override exists (e.g. pruned while the send ran).
func (st *Store) ConsumeOverride(date string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	dateKey, err := NormalizeDate(date)
	if err != nil {
		return err
	}
	s, err := st.readLocked()
	if err != nil {
		return err
	}
	o := s.ActiveOverride(dateKey)
	if o == nil {
		return nil
	}
	now := time.Now().UTC()
	o.ConsumedAt = &now
	_, err = st.writeLocked(s)
	return err
}

// ---- internals ----

func (st *Store) readLocked() (Schedule, error) {
	raw, err := os.ReadFile(st.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			st.log.Warn("schedule document unreadable, reseeding from factory template", logx.Err(err), logx.String("path", st.path))
		}
		return st.reseedLocked()
	}

	var doc Schedule
	if err := json.Unmarshal(raw, &doc); err != nil {
		st.log.Warn("schedule document corrupt, reseeding from factory template", logx.Err(err), logx.String("path", st.path))
		return st.reseedLocked()
	}

	s, upgradeReason := st.sanitize(doc)
	if upgradeReason != "" {
		st.log.Info("default schedule auto-upgraded",
			logx.String("version", s.DefaultVersion),
			logx.String("reason", upgradeReason))
		if s, err = st.writeLocked(s); err != nil {
			return Schedule{}, err
		}
	}

	st.pruneOverrides(&s)
	return s, nil
}

func (st *Store) reseedLocked() (Schedule, error) {
	return st.writeLocked(st.factory.Template())
}

func (st *Store) writeLocked(s Schedule) (Schedule, error) {
	canon, _ := st.sanitize(s)
	canon.LastUpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(canon, "", "  ")
	if err != nil {
		return Schedule{}, err
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return Schedule{}, err
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return Schedule{}, err
	}
	if err := os.Rename(tmp, st.path); err != nil {
		return Schedule{}, err
	}
	return canon, nil
}

// sanitize fills gaps in a raw document and applies the one-way auto-upgrade.
// It returns the cleaned schedule and a non-empty reason when the upgrade was
// applied.
func (st *Store) sanitize(raw Schedule) (Schedule, string) {
	s := raw.Clone()

	if strings.TrimSpace(s.Timezone) == "" {
		s.Timezone = st.factory.Timezone
	} else if _, err := time.LoadLocation(s.Timezone); err != nil {
		st.log.Warn("schedule has invalid timezone, falling back to factory", logx.String("tz", s.Timezone))
		s.Timezone = st.factory.Timezone
	}

	// Missing weekday keys fall back to the factory value; invalid times are
	// cleared.
	daily := cloneDailyTimes(st.factory.DailyTimes)
	for k, v := range s.DailyTimes {
		if !isWeekdayKey(k) {
			continue
		}
		if v == nil {
			daily[k] = nil
			continue
		}
		if _, _, err := ParseClock(*v); err != nil {
			daily[k] = nil
			continue
		}
		t := strings.TrimSpace(*v)
		daily[k] = &t
	}
	for _, k := range weekdayKeys {
		if _, ok := daily[k]; !ok {
			daily[k] = nil
		}
	}
	s.DailyTimes = daily

	if s.UpdatedBy == "" {
		s.UpdatedBy = systemActor
	}
	if s.DefaultVersion == "" {
		s.DefaultVersion = legacyVersion
	}

	kept := make([]Override, 0, len(s.ManualOverrides))
	for _, o := range s.ManualOverrides {
		norm, err := NormalizeDate(o.Date)
		if err != nil {
			continue
		}
		if _, _, err := ParseClock(o.Time); err != nil {
			continue
		}
		o.Date = norm
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = time.Now().UTC()
		}
		if o.CreatedBy == "" {
			o.CreatedBy = "unknown"
		}
		kept = append(kept, o)
	}
	sortOverrides(kept)
	s.ManualOverrides = kept

	reason := st.autoUpgradeReason(s)
	if reason != "" {
		s.Timezone = st.factory.Timezone
		s.DailyTimes = cloneDailyTimes(st.factory.DailyTimes)
		s.DefaultVersion = st.factory.Version
		s.UpdatedBy = systemActor
	}
	return s, reason
}

// autoUpgradeReason decides whether the stale-defaults migration applies.
// It never applies once an admin has taken ownership or overrides exist.
func (st *Store) autoUpgradeReason(s Schedule) string {
	if s.UpdatedBy != systemActor {
		return ""
	}
	if len(s.ManualOverrides) > 0 {
		return ""
	}
	if s.DefaultVersion != st.factory.Version {
		return "version-mismatch"
	}
	if !dailyTimesEqual(s.DailyTimes, st.factory.DailyTimes) {
		return "legacy-times"
	}
	return ""
}

func (st *Store) pruneOverrides(s *Schedule) {
	if len(s.ManualOverrides) == 0 {
		return
	}
	loc := mustLocation(s.Timezone)
	now := time.Now().In(loc)
	threshold := time.Date(now.Year(), now.Month(), now.Day()-overrideRetentionDays, 0, 0, 0, 0, loc)

	kept := s.ManualOverrides[:0]
	for _, o := range s.ManualOverrides {
		day, err := ParseDate(o.Date, loc)
		if err != nil || day.Before(threshold) {
			continue
		}
		kept = append(kept, o)
	}
	s.ManualOverrides = kept
}

func sortOverrides(list []Override) {
	sort.SliceStable(list, func(i, j int) bool {
		return CompareDates(list[i].Date, list[j].Date) < 0
	})
}

func isWeekdayKey(k string) bool {
	return len(k) == 1 && k[0] >= '1' && k[0] <= '7'
}

// mustLocation is used on already-sanitized schedules only.
func mustLocation(tz string) *time.Location {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
