// Package calendar turns recurrence phrases ("friday", "15", "end of the month")
// into concrete future instants in a user's timezone.
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"paybot/internal/domain"
)

// NoonHour is the local hour used for every result that carries no explicit time.
const NoonHour = 12

const (
	PhraseBeginningOfMonth = "beginning of the month"
	PhraseEndOfMonth       = "end of the month"
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var isoLayouts = []struct {
	layout  string
	hasTime bool
}{
	{"2006-01-02T15:04:05", true},
	{"2006-01-02T15:04", true},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02 15:04", true},
	{"2006-01-02", false},
}

// Phrases lists the multi-word tokens Resolve understands. Command splitting
// uses it to find where a recurrence token ends.
func Phrases() []string {
	return []string{PhraseBeginningOfMonth, PhraseEndOfMonth}
}

// Resolve returns the next instant described by token, in timeZone, strictly
// after now's calendar date (ISO dates excepted, which are taken literally).
//
// The result carries the zone's location; store it with .UTC().
func Resolve(token, timeZone string, now time.Time) (time.Time, error) {
	loc, err := LoadZone(timeZone)
	if err != nil {
		return time.Time{}, err
	}
	tok := normalize(token)
	if tok == "" {
		return time.Time{}, fmt.Errorf("%w: empty recurrence", domain.ErrParse)
	}
	local := now.In(loc)
	y, m, d := local.Date()

	switch tok {
	case "day", "tomorrow":
		return noon(y, m, d+1, loc), nil
	case PhraseBeginningOfMonth:
		return noon(y, m+1, 1, loc), nil
	case PhraseEndOfMonth:
		last := DaysIn(y, m)
		if last > d {
			return noon(y, m, last, loc), nil
		}
		ny, nm := addMonths(y, m, 1)
		return noon(ny, nm, DaysIn(ny, nm), loc), nil
	}

	if wd, ok := weekdays[tok]; ok {
		ahead := (int(wd) - int(local.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		return noon(y, m, d+ahead, loc), nil
	}

	if day, ok := dayOfMonth(tok); ok {
		return nextDayOfMonth(y, m, d, day, loc), nil
	}

	if t, ok := parseISO(strings.TrimSpace(token), loc); ok {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("%w: unrecognized recurrence %q", domain.ErrParse, token)
}

// LoadZone resolves an IANA zone. An empty or unknown zone is an identity error:
// the owner's profile can no longer be resolved.
func LoadZone(timeZone string) (*time.Location, error) {
	tz := strings.TrimSpace(timeZone)
	if tz == "" {
		return nil, fmt.Errorf("%w: timezone missing", domain.ErrIdentity)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", domain.ErrIdentity, tz, err)
	}
	return loc, nil
}

// DaysIn returns the number of days in month m of year y.
func DaysIn(y int, m time.Month) int {
	// Day 0 of the following month normalizes to the last day of m.
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// nextDayOfMonth clamps day to the month length and rolls forward until the
// candidate is after today.
func nextDayOfMonth(y int, m time.Month, today, day int, loc *time.Location) time.Time {
	cy, cm := y, m
	for i := 0; i < 13; i++ {
		cd := min(day, DaysIn(cy, cm))
		if cy != y || cm != m || cd > today {
			return noon(cy, cm, cd, loc)
		}
		cy, cm = addMonths(cy, cm, 1)
	}
	// Unreachable: the first month after the current one always qualifies.
	return noon(cy, cm, min(day, DaysIn(cy, cm)), loc)
}

func addMonths(y int, m time.Month, n int) (int, time.Month) {
	t := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return t.Year(), t.Month()
}

func noon(y int, m time.Month, d int, loc *time.Location) time.Time {
	return time.Date(y, m, d, NoonHour, 0, 0, 0, loc)
}

func dayOfMonth(tok string) (int, bool) {
	s := strings.TrimPrefix(tok, "the ")
	for _, suf := range []string{"st", "nd", "rd", "th"} {
		if strings.HasSuffix(s, suf) {
			s = strings.TrimSuffix(s, suf)
			break
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 31 {
		return 0, false
	}
	return n, true
}

func parseISO(s string, loc *time.Location) (time.Time, bool) {
	s = strings.ToUpper(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), true
	}
	for _, l := range isoLayouts {
		t, err := time.ParseInLocation(l.layout, s, loc)
		if err != nil {
			continue
		}
		if !l.hasTime {
			y, m, d := t.Date()
			t = noon(y, m, d, loc)
		}
		return t, true
	}
	return time.Time{}, false
}

func normalize(token string) string {
	return strings.Join(strings.Fields(strings.ToLower(token)), " ")
}
