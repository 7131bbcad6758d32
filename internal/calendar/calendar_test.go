package calendar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/pkg/logx"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendar.json")
	return New(path, logx.Nop(), nil), path
}

func TestWeekendsNeverWorkdays(t *testing.T) {
	s, _ := newTestService(t)

	// 12-09-2026 is a Saturday, 13-09-2026 a Sunday.
	sat := time.Date(2026, 9, 12, 12, 0, 0, 0, time.UTC)
	sun := sat.AddDate(0, 0, 1)
	if s.IsWorkday(sat) || s.IsWorkday(sun) {
		t.Fatal("weekend reported as workday")
	}
	// Weekend answers bypass the memo cache entirely.
	if len(s.cache) != 0 {
		t.Fatalf("weekend lookups populated the cache: %v", s.cache)
	}
}

func TestHolidayAndLeaveLookup(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.Set(Document{
		Holidays:        []string{"17-08-2026"}, // a Monday
		CollectiveLeave: []string{"18-08-2026"},
	}); err != nil {
		t.Fatal(err)
	}

	holiday := time.Date(2026, 8, 17, 9, 0, 0, 0, time.UTC)
	leave := holiday.AddDate(0, 0, 1)
	work := holiday.AddDate(0, 0, 2)

	if s.IsWorkday(holiday) {
		t.Fatal("holiday reported as workday")
	}
	if s.IsWorkday(leave) {
		t.Fatal("collective leave day reported as workday")
	}
	if !s.IsWorkday(work) {
		t.Fatal("plain Wednesday reported as non-workday")
	}
}

func TestSetClearsCacheOnce(t *testing.T) {
	s, _ := newTestService(t)

	day := time.Date(2026, 8, 17, 9, 0, 0, 0, time.UTC) // Monday
	if !s.IsWorkday(day) {
		t.Fatal("expected workday before update")
	}
	if len(s.cache) != 1 {
		t.Fatalf("cache size = %d, want 1", len(s.cache))
	}

	if _, err := s.Set(Document{Holidays: []string{"17-08-2026"}}); err != nil {
		t.Fatal(err)
	}
	if len(s.cache) != 0 {
		t.Fatal("cache not cleared on calendar change")
	}
	if s.IsWorkday(day) {
		t.Fatal("stale cache answer survived the update")
	}
}

func TestSetNormalizesAndPersists(t *testing.T) {
	s, path := newTestService(t)

	doc, err := s.Set(Document{
		Holidays: []string{"2026-08-17", "17/08/2026", "bogus", "01-01-2026"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"01-01-2026", "17-08-2026"}
	if len(doc.Holidays) != len(want) {
		t.Fatalf("holidays = %v, want %v", doc.Holidays, want)
	}
	for i := range want {
		if doc.Holidays[i] != want[i] {
			t.Fatalf("holidays = %v, want %v", doc.Holidays, want)
		}
	}

	// A fresh service picks the persisted document back up.
	reloaded := New(path, logx.Nop(), nil)
	if got := reloaded.Snapshot(); len(got.Holidays) != 2 {
		t.Fatalf("reloaded holidays = %v", got.Holidays)
	}
}

func TestSetPublishesEvent(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	path := filepath.Join(t.TempDir(), "calendar.json")
	s := New(path, logx.Nop(), bus)
	if _, err := s.Set(Document{Holidays: []string{"01-01-2027"}}); err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-ch:
		if e.Type != eventbus.TypeCalendarUpdated {
			t.Fatalf("event type = %q", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no calendar.updated event published")
	}
}

func TestCorruptDocumentStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.json")
	if err := os.WriteFile(path, []byte("{oops"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := New(path, logx.Nop(), nil)

	mon := time.Date(2026, 8, 17, 9, 0, 0, 0, time.UTC)
	if !s.IsWorkday(mon) {
		t.Fatal("empty calendar should treat weekdays as workdays")
	}
}

func TestNextWorkdaySkipsWeekendAndHolidays(t *testing.T) {
	s, _ := newTestService(t)
	if _, err := s.Set(Document{Holidays: []string{"14-09-2026"}}); err != nil { // the Monday
		t.Fatal(err)
	}

	fri := time.Date(2026, 9, 11, 16, 0, 0, 0, time.UTC)
	next := s.NextWorkday(fri)
	if got := next.Format("02-01-2006"); got != "15-09-2026" {
		t.Fatalf("next workday = %s, want 15-09-2026", got)
	}
}
