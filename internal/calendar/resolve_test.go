package calendar

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"paybot/internal/domain"
)

const testZone = "America/New_York"

func mustLocal(t *testing.T, tz string, y int, m time.Month, d, hh, mm int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation(tz)
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func TestResolveConcreteCases(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		token string
		now   time.Time
		want  time.Time
	}{
		{
			name:  "day of month rolls over when february is too short",
			token: "30",
			now:   mustLocal(t, testZone, 2020, time.February, 29, 11, 30),
			want:  mustLocal(t, testZone, 2020, time.March, 30, 12, 0),
		},
		{
			name:  "day of month clamps inside february",
			token: "30",
			now:   mustLocal(t, testZone, 2020, time.February, 15, 11, 30),
			want:  mustLocal(t, testZone, 2020, time.February, 29, 12, 0),
		},
		{
			name:  "31st clamps to april 30",
			token: "31",
			now:   mustLocal(t, testZone, 2020, time.March, 31, 11, 30),
			want:  mustLocal(t, testZone, 2020, time.April, 30, 12, 0),
		},
		{
			name:  "non leap february clamps to 28",
			token: "29",
			now:   mustLocal(t, testZone, 2021, time.February, 10, 9, 0),
			want:  mustLocal(t, testZone, 2021, time.February, 28, 12, 0),
		},
		{
			name:  "ordinal suffix",
			token: "the 15th",
			now:   mustLocal(t, testZone, 2021, time.June, 20, 9, 0),
			want:  mustLocal(t, testZone, 2021, time.July, 15, 12, 0),
		},
		{
			name:  "tomorrow",
			token: "Tomorrow",
			now:   mustLocal(t, testZone, 2021, time.December, 31, 23, 59),
			want:  mustLocal(t, testZone, 2022, time.January, 1, 12, 0),
		},
		{
			name:  "day",
			token: "day",
			now:   mustLocal(t, testZone, 2021, time.March, 5, 1, 0),
			want:  mustLocal(t, testZone, 2021, time.March, 6, 12, 0),
		},
		{
			name:  "same weekday advances a full week",
			token: "friday",
			now:   mustLocal(t, testZone, 2021, time.March, 5, 8, 0),
			want:  mustLocal(t, testZone, 2021, time.March, 12, 12, 0),
		},
		{
			name:  "beginning of the month",
			token: "beginning of the month",
			now:   mustLocal(t, testZone, 2021, time.December, 1, 8, 0),
			want:  mustLocal(t, testZone, 2022, time.January, 1, 12, 0),
		},
		{
			name:  "end of the month still ahead",
			token: "end  of the Month",
			now:   mustLocal(t, testZone, 2021, time.February, 3, 8, 0),
			want:  mustLocal(t, testZone, 2021, time.February, 28, 12, 0),
		},
		{
			name:  "end of the month on the last day",
			token: "end of the month",
			now:   mustLocal(t, testZone, 2021, time.January, 31, 8, 0),
			want:  mustLocal(t, testZone, 2021, time.February, 28, 12, 0),
		},
		{
			name:  "iso date defaults to noon",
			token: "2022-07-04",
			now:   mustLocal(t, testZone, 2022, time.July, 1, 8, 0),
			want:  mustLocal(t, testZone, 2022, time.July, 4, 12, 0),
		},
		{
			name:  "iso date time is literal",
			token: "2022-07-04T09:15",
			now:   mustLocal(t, testZone, 2022, time.July, 1, 8, 0),
			want:  mustLocal(t, testZone, 2022, time.July, 4, 9, 15),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Resolve(tt.token, testZone, tt.now)
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.token, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Resolve(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}

func TestResolveWeekdaysAreStrictlyAhead(t *testing.T) {
	t.Parallel()
	names := []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}
	start := mustLocal(t, testZone, 2024, time.January, 1, 11, 30)
	for i := 0; i < 21; i++ {
		now := start.AddDate(0, 0, i)
		for idx, name := range names {
			got, err := Resolve(name, testZone, now)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", name, err)
			}
			if got.Weekday() != time.Weekday(idx) {
				t.Fatalf("Resolve(%q, %v) weekday = %v", name, now, got.Weekday())
			}
			if !got.After(now) || sameDate(got, now) {
				t.Fatalf("Resolve(%q, %v) = %v, want a later date", name, now, got)
			}
			if got.Sub(now) > 7*24*time.Hour+2*time.Hour {
				t.Fatalf("Resolve(%q, %v) = %v, more than a week ahead", name, now, got)
			}
		}
	}
}

func TestResolveDayOfMonthNeverToday(t *testing.T) {
	t.Parallel()
	start := mustLocal(t, testZone, 2023, time.December, 25, 11, 30)
	for i := 0; i < 800; i += 3 {
		now := start.AddDate(0, 0, i)
		for d := 1; d <= 31; d++ {
			got, err := Resolve(strconv.Itoa(d), testZone, now)
			if err != nil {
				t.Fatalf("Resolve(%d): %v", d, err)
			}
			if sameDate(got, now) || !got.After(now) {
				t.Fatalf("Resolve(%d, %v) = %v, want a later date", d, now, got)
			}
			last := DaysIn(got.Year(), got.Month())
			if d <= last && got.Day() != d {
				t.Fatalf("Resolve(%d, %v) = %v, want day %d", d, now, got, d)
			}
			if d > last && got.Day() != last {
				t.Fatalf("Resolve(%d, %v) = %v, want clamp to %d", d, now, got, last)
			}
			if got.Hour() != NoonHour || got.Minute() != 0 {
				t.Fatalf("Resolve(%d) = %v, want noon", d, got)
			}
		}
	}
}

func TestEndOfMonthMatchesBeginningMinusOneDay(t *testing.T) {
	t.Parallel()
	start := mustLocal(t, testZone, 2023, time.January, 10, 11, 30)
	for i := 0; i < 24; i++ {
		now := start.AddDate(0, i, 0)
		end, err := Resolve(PhraseEndOfMonth, testZone, now)
		if err != nil {
			t.Fatalf("end of month: %v", err)
		}
		begin, err := Resolve(PhraseBeginningOfMonth, testZone, end)
		if err != nil {
			t.Fatalf("beginning of month: %v", err)
		}
		if back := begin.AddDate(0, 0, -1); !back.Equal(end) {
			t.Fatalf("now=%v end=%v beginning-1=%v", now, end, back)
		}
	}
}

func TestResolveAcrossDaylightSaving(t *testing.T) {
	t.Parallel()
	// US spring forward happened on 2021-03-14.
	now := mustLocal(t, testZone, 2021, time.March, 13, 11, 30)
	got, err := Resolve("sunday", testZone, now)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Hour() != NoonHour || got.Day() != 14 {
		t.Fatalf("got %v, want 2021-03-14 12:00 local", got)
	}
	if off := got.UTC().Hour(); off != 16 {
		t.Fatalf("UTC hour = %d, want 16 (EDT)", off)
	}
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()
	now := mustLocal(t, testZone, 2021, time.March, 13, 11, 30)
	for _, tok := range []string{"", "someday", "0", "32", "2021-13-01"} {
		if _, err := Resolve(tok, testZone, now); !errors.Is(err, domain.ErrParse) {
			t.Fatalf("Resolve(%q) err = %v, want ErrParse", tok, err)
		}
	}
	if _, err := Resolve("friday", "", now); !errors.Is(err, domain.ErrIdentity) {
		t.Fatalf("empty zone err = %v, want ErrIdentity", err)
	}
	if _, err := Resolve("friday", "Mars/Olympus", now); !errors.Is(err, domain.ErrIdentity) {
		t.Fatalf("bad zone err = %v, want ErrIdentity", err)
	}
}
