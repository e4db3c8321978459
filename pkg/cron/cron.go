// Package cron parses and evaluates five-field cron expressions
// (minute hour day-of-month month day-of-week).
//
// Each field is "*", a literal, a low-high range, a "*/step" or a comma
// separated list of those. A step field matches values divisible by the
// step, and a list matches the union of its items. An expression matches an
// instant when all five fields match its UTC components.
package cron

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/ajitpratap0/relay/pkg/errors"
)

// field bounds, in expression order
type bounds struct {
	name     string
	min, max int
}

var fields = [5]bounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// standard builds the literal, list and range sets and enforces field bounds
var standard = robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow)

// starBit is set by the standard parser on fields written as "*"
const starBit = 1 << 63

// maxSearch bounds how far ahead Next looks for a matching minute
const maxSearch = 5 * 366 * 24 * time.Hour

// Expression is a parsed cron expression. The zero value matches nothing.
type Expression struct {
	source string
	sets   [5]uint64
}

// Parse validates expr and builds its matcher. Errors are CronValidation errors.
func Parse(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(fields) {
		return nil, errors.CronValidation(expr, fmt.Sprintf("expected 5 fields, got %d", len(parts)))
	}

	var steps [5]uint64
	rest := make([]string, len(parts))
	for i, part := range parts {
		set, items, err := splitField(part, fields[i])
		if err != nil {
			return nil, errors.CronValidation(expr, err.Error())
		}
		steps[i] = set
		rest[i] = items
	}

	standardExpr := make([]string, len(rest))
	for i, items := range rest {
		standardExpr[i] = items
		if items == "" {
			standardExpr[i] = "*"
		}
	}
	sched, err := standard.Parse(strings.Join(standardExpr, " "))
	if err != nil {
		return nil, errors.CronValidation(expr, err.Error())
	}
	spec, ok := sched.(*robfig.SpecSchedule)
	if !ok {
		return nil, errors.CronValidation(expr, fmt.Sprintf("unexpected schedule %T", sched))
	}

	e := &Expression{source: strings.Join(parts, " ")}
	for i, set := range [5]uint64{spec.Minute, spec.Hour, spec.Dom, spec.Month, spec.Dow} {
		if rest[i] != "" {
			e.sets[i] = set &^ starBit
		}
		e.sets[i] |= steps[i]
	}
	return e, nil
}

// MustParse is Parse for expressions known to be valid
func MustParse(expr string) *Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// Validate reports whether expr is a valid five-field expression
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// String returns the normalized expression
func (e *Expression) String() string {
	return e.source
}

// Matches reports whether t, in UTC, satisfies every field
func (e *Expression) Matches(t time.Time) bool {
	t = t.UTC()
	return has(e.sets[0], t.Minute()) &&
		has(e.sets[1], t.Hour()) &&
		has(e.sets[2], t.Day()) &&
		has(e.sets[3], int(t.Month())) &&
		has(e.sets[4], int(t.Weekday()))
}

// Next returns the first matching minute strictly after t, or the zero time
// when none exists within five years.
func (e *Expression) Next(t time.Time) time.Time {
	start := t.UTC().Truncate(time.Minute).Add(time.Minute)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	limit := start.Add(maxSearch)

	for ; !day.After(limit); day = day.AddDate(0, 0, 1) {
		if !has(e.sets[2], day.Day()) || !has(e.sets[3], int(day.Month())) || !has(e.sets[4], int(day.Weekday())) {
			continue
		}
		for h := 0; h < 24; h++ {
			if !has(e.sets[1], h) {
				continue
			}
			for m := 0; m < 60; m++ {
				if !has(e.sets[0], m) {
					continue
				}
				candidate := day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
				if !candidate.Before(start) {
					return candidate
				}
			}
		}
	}
	return time.Time{}
}

// Values returns the matching values of field i (0 = minute .. 4 = weekday)
func (e *Expression) Values(i int) []int {
	var out []int
	for set := e.sets[i]; set != 0; set &= set - 1 {
		out = append(out, bits.TrailingZeros64(set))
	}
	return out
}

func has(set uint64, v int) bool {
	return set&(1<<uint(v)) != 0
}

// splitField checks the shape of every item, evaluates the "*/step" items
// and returns the others joined for the standard parser, which owns bounds
// and range order.
func splitField(field string, b bounds) (uint64, string, error) {
	var steps uint64
	var rest []string
	for _, item := range strings.Split(field, ",") {
		switch {
		case item == "*":
			rest = append(rest, item)
		case strings.HasPrefix(item, "*/"):
			set, err := stepSet(item, b)
			if err != nil {
				return 0, "", err
			}
			steps |= set
		default:
			low, high, isRange := strings.Cut(item, "-")
			if !digits(low) || (isRange && !digits(high)) {
				return 0, "", fmt.Errorf("%s: invalid item %q", b.name, item)
			}
			rest = append(rest, item)
		}
	}
	return steps, strings.Join(rest, ","), nil
}

// stepSet matches the values divisible by step, which differs from the
// standard parser's offset-from-minimum reading
func stepSet(item string, b bounds) (uint64, error) {
	step, err := strconv.Atoi(item[2:])
	if err != nil || step <= 0 {
		return 0, fmt.Errorf("%s: invalid step %q", b.name, item)
	}
	set := uint64(0)
	for v := b.min; v <= b.max; v++ {
		if v%step == 0 {
			set |= 1 << uint(v)
		}
	}
	if set == 0 {
		return 0, fmt.Errorf("%s: step %d matches no value", b.name, step)
	}
	return set, nil
}

func digits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
