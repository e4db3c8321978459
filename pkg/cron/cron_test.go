package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/relay/pkg/errors"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestMatchesLiteral(t *testing.T) {
	e := MustParse("30 12 * * *")

	assert.True(t, e.Matches(at("2023-01-01T12:30:00Z")))
	assert.False(t, e.Matches(at("2023-01-01T12:31:00Z")))
	assert.True(t, e.Matches(at("2023-01-01T12:30:59Z")))
}

func TestMatchesUsesUTC(t *testing.T) {
	e := MustParse("30 12 * * *")
	tz := time.FixedZone("UTC+2", 2*60*60)

	assert.True(t, e.Matches(time.Date(2023, 1, 1, 14, 30, 0, 0, tz)))
	assert.False(t, e.Matches(time.Date(2023, 1, 1, 12, 30, 0, 0, tz)))
}

func TestStepMatchesDivisibleValues(t *testing.T) {
	e := MustParse("*/15 * * * *")

	var matched []int
	for m := 0; m < 60; m++ {
		if e.Matches(time.Date(2023, 5, 5, 10, m, 0, 0, time.UTC)) {
			matched = append(matched, m)
		}
	}
	assert.Equal(t, []int{0, 15, 30, 45}, matched)

	// day-of-month steps also use divisibility, not an offset from 1
	assert.Equal(t, []int{10, 20, 30}, MustParse("0 0 */10 * *").Values(2))
}

func TestListAndRangeUnion(t *testing.T) {
	e := MustParse("12,13-15,14 * * * *")
	assert.Equal(t, []int{12, 13, 14, 15}, e.Values(0))

	e = MustParse("0 9-17 * * 1-5")
	assert.True(t, e.Matches(at("2024-06-03T09:00:00Z")))  // Monday
	assert.False(t, e.Matches(at("2024-06-02T09:00:00Z"))) // Sunday
	assert.False(t, e.Matches(at("2024-06-03T18:00:00Z")))
}

func TestAllFieldsMustMatch(t *testing.T) {
	// 2024-03-01 is a Friday; the 15th is not
	e := MustParse("0 0 1 3 5")
	assert.True(t, e.Matches(at("2024-03-01T00:00:00Z")))
	assert.False(t, e.Matches(at("2024-03-15T00:00:00Z")))
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * 32 * *",
		"* * * 13 *",
		"* * * * 7",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"1,,2 * * * *",
		"*/x * * * *",
		"1-2-3 * * * *",
		"MON * * * *",
	} {
		_, err := Parse(expr)
		require.Error(t, err, expr)
		assert.True(t, errors.IsType(err, errors.ErrorTypeCronValidation), expr)
	}
}

func TestBoundsAndRangeOrderFromStandardParser(t *testing.T) {
	tests := map[string]string{
		"60 * * * *":     "end of range (60) above maximum (59)",
		"* * 0 * *":      "beginning of range (0) below minimum (1)",
		"* * * * 7":      "end of range (7) above maximum (6)",
		"5-1 * * * *":    "beginning of range (5) beyond end of range (1)",
		"0 0 * 2-13 *":   "end of range (13) above maximum (12)",
		"*/5,70 * * * *": "end of range (70) above maximum (59)",
	}
	for expr, reason := range tests {
		_, err := Parse(expr)
		require.Error(t, err, expr)
		assert.Contains(t, err.Error(), reason, expr)
	}
}

func TestStepsCombineWithStandardItems(t *testing.T) {
	assert.Equal(t, []int{0, 20, 25, 40}, MustParse("*/20,25 * * * *").Values(0))
	assert.Equal(t, []int{15}, MustParse("0 0 15 */2 *").Values(2))
	assert.Equal(t, []int{2, 4, 6, 8, 10, 12}, MustParse("0 0 15 */2 *").Values(3))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, MustParse("0 0 * * *").Values(4))
}

func TestParseNormalizesWhitespace(t *testing.T) {
	e, err := Parse("  0   2 *  * * ")
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", e.String())
}

func TestNext(t *testing.T) {
	e := MustParse("0 2 * * *")
	assert.Equal(t, at("2024-01-02T02:00:00Z"), e.Next(at("2024-01-01T02:00:00Z")))
	assert.Equal(t, at("2024-01-01T02:00:00Z"), e.Next(at("2024-01-01T01:59:30Z")))

	e = MustParse("*/15 * * * *")
	assert.Equal(t, at("2024-01-01T10:15:00Z"), e.Next(at("2024-01-01T10:07:00Z")))

	e = MustParse("0 0 29 2 *")
	assert.Equal(t, at("2028-02-29T00:00:00Z"), e.Next(at("2024-03-01T00:00:00Z")))

	e = MustParse("0 0 31 2 *")
	assert.True(t, e.Next(at("2024-01-01T00:00:00Z")).IsZero())
}

func TestFromSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		want     string
	}{
		{"Daily @ 2am", "0 2 * * *"},
		{"Hourly", "0 * * * *"},
		{"Every 15 minutes", "*/15 * * * *"},
		{"Weekly on Fridays", "0 0 * * 5"},
		{"Monthly (1st day)", "0 0 1 * *"},
		{"Custom: 5 4 * * 1", "5 4 * * 1"},
		{"Custom:   */5 * * * *", "*/5 * * * *"},
		{"Custom: 99 * * * *", DefaultExpression},
		{"Custom: nonsense", DefaultExpression},
		{"hourly", DefaultExpression},
		{"", DefaultExpression},
		{"Every now and then", DefaultExpression},
	}

	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			assert.Equal(t, tt.want, FromSchedule(tt.schedule))
		})
	}
}

func TestPhrasesAreValid(t *testing.T) {
	for phrase, expr := range Phrases() {
		require.NoError(t, Validate(expr), phrase)
	}
}
