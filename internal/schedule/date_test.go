package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestNormalizeDate(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "25-12-2026", want: "25-12-2026"},
		{in: "2026-12-25", want: "25-12-2026"},
		{in: "25/12/2026", want: "25-12-2026"},
		{in: "25.12.2026", want: "25-12-2026"},
		{in: "  05-01-2026 ", want: "05-01-2026"},
		{in: "", wantErr: true},
		{in: "31-02-2026", wantErr: true},
		{in: "someday", wantErr: true},
		{in: "12-25-2026", wantErr: true},
	}
	for _, tc := range cases {
		got, err := NormalizeDate(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizeDate(%q): expected error, got %q", tc.in, got)
			} else if !errors.Is(err, ErrBadDate) {
				t.Errorf("NormalizeDate(%q): error %v is not ErrBadDate", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeDate(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeDate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{in: "16:00", h: 16},
		{in: "00:00"},
		{in: "23:59", h: 23, m: 59},
		{in: "9:05", h: 9, m: 5},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "12:5", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		h, m, err := ParseClock(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q): %v", tc.in, err)
			continue
		}
		if h != tc.h || m != tc.m {
			t.Errorf("ParseClock(%q) = %d:%d, want %d:%d", tc.in, h, m, tc.h, tc.m)
		}
	}
}

func TestDateAtClock(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Makassar")
	if err != nil {
		t.Fatal(err)
	}
	got, err := DateAtClock("07-09-2026", "16:30", loc)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, time.September, 7, 16, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("DateAtClock = %v, want %v", got, want)
	}
}

func TestISOWeekday(t *testing.T) {
	// 07-09-2026 is a Monday.
	mon := time.Date(2026, time.September, 7, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		day := mon.AddDate(0, 0, i)
		if got := ISOWeekday(day); got != i+1 {
			t.Errorf("ISOWeekday(%s) = %d, want %d", day.Weekday(), got, i+1)
		}
	}
}

func TestCompareDates(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"01-01-2026", "02-01-2026", -1},
		{"02-01-2026", "01-01-2026", 1},
		{"15-06-2026", "15-06-2026", 0},
		{"31-12-2025", "01-01-2026", -1},
		{"bogus", "01-01-2026", 1},
		{"01-01-2026", "bogus", -1},
	}
	for _, tc := range cases {
		if got := CompareDates(tc.a, tc.b); got != tc.want {
			t.Errorf("CompareDates(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
