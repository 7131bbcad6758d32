package calendar

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/schedule"
	"remindbot/pkg/logx"
)

// Document is the persisted local calendar: national holidays plus collective
// leave days, both as DD-MM-YYYY date keys.
type Document struct {
	Holidays        []string `json:"holidays"`
	CollectiveLeave []string `json:"collectiveLeave"`
}

// Service answers "is this date a workday" with a per-date memo cache.
//
// Weekends are decided without touching the cache or the holiday sets. The
// cache holds holiday-set answers only and is cleared in full whenever the
// calendar document changes; there is no TTL.
type Service struct {
	mu   sync.Mutex
	log  logx.Logger
	bus  eventbus.Bus
	path string

	holidays map[string]struct{}
	leave    map[string]struct{}
	cache    map[string]bool
}

func New(path string, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		bus:      bus,
		path:     path,
		holidays: map[string]struct{}{},
		leave:    map[string]struct{}{},
		cache:    map[string]bool{},
	}
	s.loadFromDisk()
	return s
}

// Snapshot returns the current document with both lists sorted.
func (s *Service) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Document{
		Holidays:        sortedKeys(s.holidays),
		CollectiveLeave: sortedKeys(s.leave),
	}
}

// Set normalizes, persists and applies a new calendar document. The memo
// cache is cleared exactly once per applied change.
func (s *Service) Set(doc Document) (Document, error) {
	holidays := normalizeDates(doc.Holidays)
	leave := normalizeDates(doc.CollectiveLeave)

	s.mu.Lock()
	defer s.mu.Unlock()

	canon := Document{
		Holidays:        sortedKeys(holidays),
		CollectiveLeave: sortedKeys(leave),
	}
	if err := s.persistLocked(canon); err != nil {
		return Document{}, err
	}

	s.holidays = holidays
	s.leave = leave
	s.cache = map[string]bool{}
	s.log.Info("calendar updated, workday cache reset",
		logx.Int("holidays", len(holidays)),
		logx.Int("collective_leave", len(leave)))

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeCalendarUpdated, Data: canon})
	}
	return canon, nil
}

// IsWorkday reports whether t's calendar date (in t's location) is a workday.
// Saturday and Sunday are never workdays and never consult the holiday sets.
func (s *Service) IsWorkday(t time.Time) bool {
	if wd := schedule.ISOWeekday(t); wd == 6 || wd == 7 {
		return false
	}
	key := schedule.DateKey(t)

	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache[key]; ok {
		return v
	}
	_, holiday := s.holidays[key]
	_, leave := s.leave[key]
	work := !holiday && !leave
	s.cache[key] = work
	return work
}

// NextWorkday returns the first workday strictly after from.
func (s *Service) NextWorkday(from time.Time) time.Time {
	day := from
	for {
		day = day.AddDate(0, 0, 1)
		if s.IsWorkday(day) {
			return day
		}
	}
}

func (s *Service) loadFromDisk() {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("calendar document unreadable, starting empty", logx.Err(err), logx.String("path", s.path))
		}
		if err := s.persistLocked(Document{Holidays: []string{}, CollectiveLeave: []string{}}); err != nil {
			s.log.Warn("seeding empty calendar document failed", logx.Err(err))
		}
		return
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.Warn("calendar document corrupt, starting empty", logx.Err(err), logx.String("path", s.path))
		return
	}
	s.holidays = normalizeDates(doc.Holidays)
	s.leave = normalizeDates(doc.CollectiveLeave)
}

func (s *Service) persistLocked(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// normalizeDates canonicalizes entries and silently drops malformed ones.
func normalizeDates(list []string) map[string]struct{} {
	out := make(map[string]struct{}, len(list))
	for _, raw := range list {
		key, err := schedule.NormalizeDate(raw)
		if err != nil {
			continue
		}
		out[key] = struct{}{}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return schedule.CompareDates(out[i], out[j]) < 0
	})
	return out
}
