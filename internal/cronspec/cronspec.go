// Package cronspec evaluates Quartz style cron expressions: six or seven
// fields (seconds through day-of-week, with an optional trailing year).
//
// Day-of-week numbers run 1=SUN through 7=SAT. Exactly one of
// day-of-month and day-of-week must be '?'. L, W, LW and L-n are accepted
// in day-of-month, and L, nL and n#k in day-of-week.
// All functions work on a caller supplied instant and never read the
// system clock.
package cronspec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidSchedule    = errors.New("invalid cron expression")
	ErrNoFutureOccurrence = errors.New("no future occurrence")
)

const (
	minYear = 1970
	maxYear = 2099
)

var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is a parsed expression that can be evaluated repeatedly.
type Schedule struct {
	expr  string
	spec  cron.Schedule
	years *yearSet // nil means every year
	day   dayRule  // nil means the parser's own day matching is enough
}

// Parse parses expr. Errors wrap ErrInvalidSchedule.
func Parse(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}
	if strings.HasPrefix(expr, "@") {
		spec, err := parser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		return &Schedule{expr: expr, spec: spec}, nil
	}

	fields := strings.Fields(expr)
	if len(fields) != 6 && len(fields) != 7 {
		return nil, fmt.Errorf("%w: expected 6 or 7 fields, found %d in %q", ErrInvalidSchedule, len(fields), expr)
	}

	if err := checkDayFields(fields[3], fields[5]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	domDay, err := domRule(fields[3])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	dowDay, err := dowRule(fields[5])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	var day dayRule
	switch {
	case domDay != nil:
		day, fields[3] = domDay, "*"
	case dowDay != nil:
		day, fields[5] = dowDay, "*"
	}
	if fields[5], err = translateDow(fields[5]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	var years *yearSet
	if len(fields) == 7 {
		years, err = parseYears(fields[6])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
	}

	spec, err := parser.Parse(strings.Join(fields[:6], " "))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return &Schedule{expr: expr, spec: spec, years: years, day: day}, nil
}

// Validate reports whether expr parses.
func Validate(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

// NextAfter returns the earliest firing of expr strictly after from.
func NextAfter(expr string, from time.Time) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(from)
}

// Next returns the earliest firing strictly after from, or an error
// wrapping ErrNoFutureOccurrence.
func (s *Schedule) Next(from time.Time) (time.Time, error) {
	t := from
	for {
		next := s.spec.Next(t)
		if next.IsZero() || next.Year() > maxYear {
			return time.Time{}, fmt.Errorf("%w: %q after %s", ErrNoFutureOccurrence, s.expr, from.Format(time.RFC3339))
		}
		if s.years != nil && !s.years.contains(next.Year()) {
			y, ok := s.years.after(next.Year())
			if !ok {
				return time.Time{}, fmt.Errorf("%w: %q after %s", ErrNoFutureOccurrence, s.expr, from.Format(time.RFC3339))
			}
			// Resume just before midnight on Jan 1 of the next allowed year.
			t = time.Date(y, time.January, 1, 0, 0, 0, 0, next.Location()).Add(-time.Second)
			continue
		}
		if s.day != nil && !s.day(next) {
			// Skip to the last second of the rejected day.
			t = time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, next.Location()).Add(-time.Second)
			continue
		}
		return next, nil
	}
}

var descriptions = map[string]string{
	"0 0 * * * ?":    "Every hour",
	"0 0 0 * * ?":    "Daily at midnight",
	"0 0 9 * * ?":    "Daily at 9 AM",
	"0 0 12 * * ?":   "Daily at noon",
	"0 0 0 ? * 2":    "Every Monday at midnight",
	"0 0 0 ? * 1":    "Every Sunday at midnight",
	"0 0 0 1 * ?":    "First day of every month",
	"0 */15 * * * ?": "Every 15 minutes",
	"0 */30 * * * ?": "Every 30 minutes",
}

// Describe gives a short human readable label for common expressions.
func Describe(expr string) string {
	if !Validate(expr) {
		return "Invalid cron expression"
	}
	if d, ok := descriptions[strings.Join(strings.Fields(expr), " ")]; ok {
		return d
	}
	return "Custom schedule: " + expr
}

// translateDow maps numeric 1-7 (SUN=1) to the 0-6 (SUN=0) codes the
// underlying parser expects. Names, '*' and '?' pass through untouched.
func translateDow(field string) (string, error) {
	items := strings.Split(field, ",")
	for i, item := range items {
		rng, step, hasStep := strings.Cut(item, "/")
		bounds := strings.Split(rng, "-")
		if len(bounds) > 2 {
			return "", fmt.Errorf("day-of-week: malformed range %q", rng)
		}
		for j, b := range bounds {
			n, err := strconv.Atoi(b)
			if err != nil {
				continue
			}
			if n < 1 || n > 7 {
				return "", fmt.Errorf("day-of-week: %d out of range 1-7", n)
			}
			bounds[j] = strconv.Itoa(n - 1)
		}
		items[i] = strings.Join(bounds, "-")
		if hasStep {
			items[i] += "/" + step
		}
	}
	return strings.Join(items, ","), nil
}

type yearSet struct {
	allowed [maxYear - minYear + 1]bool
}

func (ys *yearSet) contains(y int) bool {
	if y < minYear || y > maxYear {
		return false
	}
	return ys.allowed[y-minYear]
}

// after returns the smallest allowed year greater than y.
func (ys *yearSet) after(y int) (int, bool) {
	start := y + 1
	if start < minYear {
		start = minYear
	}
	for c := start; c <= maxYear; c++ {
		if ys.allowed[c-minYear] {
			return c, true
		}
	}
	return 0, false
}

func parseYears(field string) (*yearSet, error) {
	if field == "*" || field == "?" {
		return nil, nil
	}
	ys := &yearSet{}
	for _, item := range strings.Split(field, ",") {
		rng, stepStr, hasStep := strings.Cut(item, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("year: bad step %q", stepStr)
			}
			step = n
		}

		lo, hi := minYear, maxYear
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = parseYear(a); err != nil {
				return nil, err
			}
			if hi, err = parseYear(b); err != nil {
				return nil, err
			}
			if lo > hi {
				return nil, fmt.Errorf("year: range %q is reversed", rng)
			}
		default:
			y, err := parseYear(rng)
			if err != nil {
				return nil, err
			}
			lo = y
			if !hasStep {
				hi = y
			}
		}

		for y := lo; y <= hi; y += step {
			ys.allowed[y-minYear] = true
		}
	}
	return ys, nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("year: %q is not a number", s)
	}
	if y < minYear || y > maxYear {
		return 0, fmt.Errorf("year: %d out of range %d-%d", y, minYear, maxYear)
	}
	return y, nil
}
