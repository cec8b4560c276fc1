package cronspec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dayRule filters candidate firings by calendar day for the Quartz
// special characters the underlying parser has no notion of:
// L and W in day-of-month, L and # in day-of-week.
type dayRule func(t time.Time) bool

var weekdayNames = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

func checkDayFields(dom, dow string) error {
	switch domQ, dowQ := dom == "?", dow == "?"; {
	case domQ && dowQ:
		return fmt.Errorf("'?' may be used in only one of day-of-month and day-of-week")
	case !domQ && !dowQ:
		return fmt.Errorf("day-of-month %q and day-of-week %q are both set; one of them must be '?'", dom, dow)
	}
	return nil
}

func lastDay(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// nearestWeekday is the weekday closest to day n of t's month without
// leaving the month, or 0 when the month has no day n.
func nearestWeekday(t time.Time, n int) int {
	last := lastDay(t)
	if n > last {
		return 0
	}
	switch time.Date(t.Year(), t.Month(), n, 0, 0, 0, 0, t.Location()).Weekday() {
	case time.Saturday:
		if n == 1 {
			return 3
		}
		return n - 1
	case time.Sunday:
		if n == last {
			return n - 2
		}
		return n + 1
	}
	return n
}

// domRule returns nil for fields without L or W.
func domRule(field string) (dayRule, error) {
	f := strings.ToUpper(field)
	if !strings.ContainsAny(f, "LW") {
		return nil, nil
	}
	switch {
	case f == "L":
		return func(t time.Time) bool { return t.Day() == lastDay(t) }, nil
	case f == "LW":
		return func(t time.Time) bool {
			last := lastDay(t)
			return t.Day() == nearestWeekday(t, last)
		}, nil
	case strings.HasPrefix(f, "L-"):
		n, err := strconv.Atoi(f[2:])
		if err != nil || n < 0 || n > 30 {
			return nil, fmt.Errorf("day-of-month: bad offset in %q", field)
		}
		return func(t time.Time) bool { return t.Day() == lastDay(t)-n }, nil
	case strings.HasSuffix(f, "W"):
		n, err := strconv.Atoi(f[:len(f)-1])
		if err != nil || n < 1 || n > 31 {
			return nil, fmt.Errorf("day-of-month: bad day in %q", field)
		}
		return func(t time.Time) bool { return t.Day() == nearestWeekday(t, n) }, nil
	}
	return nil, fmt.Errorf("day-of-month: unsupported use of L or W in %q", field)
}

func parseWeekday(s string) (time.Weekday, error) {
	if wd, ok := weekdayNames[s]; ok {
		return wd, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 7 {
		return 0, fmt.Errorf("day-of-week: %q is not a day 1-7 or SUN-SAT", s)
	}
	return time.Weekday(n - 1), nil
}

// dowRule returns nil for fields without L or #.
func dowRule(field string) (dayRule, error) {
	f := strings.ToUpper(field)
	if !strings.ContainsAny(f, "L#") {
		return nil, nil
	}
	if f == "L" {
		return func(t time.Time) bool { return t.Weekday() == time.Saturday }, nil
	}
	if day, nth, ok := strings.Cut(f, "#"); ok {
		wd, err := parseWeekday(day)
		if err != nil {
			return nil, err
		}
		k, err := strconv.Atoi(nth)
		if err != nil || k < 1 || k > 5 {
			return nil, fmt.Errorf("day-of-week: occurrence in %q must be 1-5", field)
		}
		return func(t time.Time) bool { return t.Weekday() == wd && (t.Day()-1)/7+1 == k }, nil
	}
	if strings.HasSuffix(f, "L") {
		wd, err := parseWeekday(f[:len(f)-1])
		if err != nil {
			return nil, err
		}
		return func(t time.Time) bool { return t.Weekday() == wd && t.Day()+7 > lastDay(t) }, nil
	}
	return nil, fmt.Errorf("day-of-week: unsupported use of L in %q", field)
}
