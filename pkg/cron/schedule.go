package cron

import "strings"

// DefaultExpression is used for schedule strings that are not recognized
const DefaultExpression = "0 0 * * *"

// CustomPrefix introduces a raw cron expression in a schedule string
const CustomPrefix = "Custom:"

var phrases = map[string]string{
	"Daily @ 2am":       "0 2 * * *",
	"Hourly":            "0 * * * *",
	"Every 15 minutes":  "*/15 * * * *",
	"Weekly on Fridays": "0 0 * * 5",
	"Monthly (1st day)": "0 0 1 * *",
}

// FromSchedule converts a human schedule string to a cron expression.
// Recognized phrases are matched exactly; "Custom: <expr>" yields expr when
// it is valid. Everything else yields DefaultExpression.
func FromSchedule(schedule string) string {
	if expr, ok := phrases[schedule]; ok {
		return expr
	}
	if strings.HasPrefix(schedule, CustomPrefix) {
		expr := strings.TrimSpace(strings.TrimPrefix(schedule, CustomPrefix))
		if e, err := Parse(expr); err == nil {
			return e.String()
		}
	}
	return DefaultExpression
}

// Phrases returns the recognized schedule phrases and their expressions
func Phrases() map[string]string {
	out := make(map[string]string, len(phrases))
	for k, v := range phrases {
		out[k] = v
	}
	return out
}
