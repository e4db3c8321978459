package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/dlclark/regexp2"
	json "github.com/goccy/go-json"
	"github.com/ncruces/go-strftime"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

// DefaultDateFormat is the strftime layout format_date renders by default
const DefaultDateFormat = "%Y-%m-%d"

// regexTimeout bounds a single extract_regex match
const regexTimeout = time.Second

var (
	textTypes    = []DataType{TypeString}
	allTypes     = []DataType{TypeString, TypeNumber, TypeBoolean, TypeDate, TypeDatetime, TypeObject, TypeArray}
	numericTypes = []DataType{TypeNumber}
)

func registerBuiltins(r *Registry) {
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}

	must(r.Register(DirectName, "Copy the value unchanged", allTypes, nil, direct))
	must(r.Register("uppercase", "Convert text to upper case", textTypes, nil, eachString(strings.ToUpper)))
	must(r.Register("lowercase", "Convert text to lower case", textTypes, nil, eachString(strings.ToLower)))
	must(r.Register("trim", "Strip leading and trailing whitespace", textTypes, nil, eachString(strings.TrimSpace)))
	must(r.Register("format_date", "Parse a date or timestamp and render it with a strftime format",
		[]DataType{TypeString, TypeDate, TypeDatetime},
		[]ParamSpec{{Name: "format", Type: "string", Default: DefaultDateFormat}},
		formatDate))
	must(r.Register("replace", "Replace every occurrence of a substring",
		textTypes,
		[]ParamSpec{{Name: "find", Type: "string"}, {Name: "replace", Type: "string", Default: ""}},
		replace))
	must(r.Register("split", "Split text and select one token",
		textTypes,
		[]ParamSpec{{Name: "delimiter", Type: "string", Default: ","}, {Name: "index", Type: "number", Default: 0}},
		split))
	must(r.Register("number_format", "Round a number and add a prefix or suffix",
		numericTypes,
		[]ParamSpec{
			{Name: "decimals", Type: "number", Default: 2},
			{Name: "prefix", Type: "string", Default: ""},
			{Name: "suffix", Type: "string", Default: ""},
		},
		numberFormat))
	must(r.Register("conditional", "Choose a value by comparing the source against a condition",
		[]DataType{TypeString, TypeNumber, TypeBoolean},
		[]ParamSpec{
			{Name: "condition", Type: "string"},
			{Name: "true_value", Type: "any"},
			{Name: "false_value", Type: "any"},
		},
		conditional))
	must(r.Register("mask", "Mask the interior characters of a value",
		[]DataType{TypeString, TypeNumber},
		[]ParamSpec{
			{Name: "mask_char", Type: "string", Default: "*"},
			{Name: "show_first", Type: "number", Default: 0},
			{Name: "show_last", Type: "number", Default: 4},
		},
		mask))
	must(r.Register("extract_regex", "Extract a regular expression capture group",
		textTypes,
		[]ParamSpec{{Name: "pattern", Type: "string"}, {Name: "group", Type: "number", Default: 0}},
		extractRegex))
	must(r.Register("math_operation", "Add, subtract, multiply or divide by a constant",
		numericTypes,
		[]ParamSpec{{Name: "operation", Type: "string", Default: "add"}, {Name: "value", Type: "number", Default: 0}},
		mathOperation))
	must(r.Register("lookup", "Substitute values through a mapping table",
		[]DataType{TypeString, TypeNumber, TypeBoolean},
		[]ParamSpec{{Name: "mapping", Type: "object"}, {Name: "default_value", Type: "any"}},
		lookup))
	must(r.Register("parse_json", "Parse JSON text and select a dot-separated path",
		[]DataType{TypeString, TypeObject, TypeArray},
		[]ParamSpec{{Name: "path", Type: "string", Default: ""}, {Name: "default_value", Type: "any"}},
		parseJSON))
}

// each applies fn to every value
func each(values []interface{}, fn func(v interface{}) (interface{}, error)) ([]interface{}, error) {
	out := make([]interface{}, len(values))
	for i, v := range values {
		res, err := fn(v)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = res
	}
	return out, nil
}

// eachString applies fn to string values and leaves everything else alone
func eachString(fn func(string) string) Func {
	return func(values []interface{}, _ Params) ([]interface{}, error) {
		return each(values, func(v interface{}) (interface{}, error) {
			if s, ok := v.(string); ok {
				return fn(s), nil
			}
			return v, nil
		})
	}
}

func direct(values []interface{}, _ Params) ([]interface{}, error) {
	return append([]interface{}(nil), values...), nil
}

func formatDate(values []interface{}, params Params) ([]interface{}, error) {
	layout := params.String("format")
	if layout == "" {
		layout = DefaultDateFormat
	}
	return each(values, func(v interface{}) (interface{}, error) {
		switch d := v.(type) {
		case time.Time:
			return strftime.Format(layout, d), nil
		case string:
			t, err := dateparse.ParseIn(strings.TrimSpace(d), time.UTC)
			if err != nil {
				return v, nil
			}
			return strftime.Format(layout, t), nil
		default:
			return v, nil
		}
	})
}

func replace(values []interface{}, params Params) ([]interface{}, error) {
	find, with := params.String("find"), params.String("replace")
	if find == "" {
		return direct(values, params)
	}
	return eachString(func(s string) string { return strings.ReplaceAll(s, find, with) })(values, params)
}

func split(values []interface{}, params Params) ([]interface{}, error) {
	delimiter := params.String("delimiter")
	if delimiter == "" {
		delimiter = ","
	}
	index, err := params.Int("index")
	if err != nil {
		return nil, err
	}
	return each(values, func(v interface{}) (interface{}, error) {
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		parts := strings.Split(s, delimiter)
		if index < 0 || index >= len(parts) {
			return "", nil
		}
		return parts[index], nil
	})
}

func numberFormat(values []interface{}, params Params) ([]interface{}, error) {
	decimals, err := params.Int("decimals")
	if err != nil {
		return nil, err
	}
	if decimals < 0 {
		decimals = 0
	}
	prefix, suffix := params.String("prefix"), params.String("suffix")
	return each(values, func(v interface{}) (interface{}, error) {
		if v == nil {
			return nil, nil
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return v, nil
		}
		return prefix + strconv.FormatFloat(f, 'f', decimals, 64) + suffix, nil
	})
}

// comparisonOps is ordered so two-character operators match first
var comparisonOps = []string{">=", "<=", "==", "!=", ">", "<"}

func conditional(values []interface{}, params Params) ([]interface{}, error) {
	op, operand, ok := parseCondition(params.String("condition"))
	whenTrue, whenFalse := params["true_value"], params["false_value"]
	return each(values, func(v interface{}) (interface{}, error) {
		if ok && compare(v, op, operand) {
			return whenTrue, nil
		}
		return whenFalse, nil
	})
}

func parseCondition(cond string) (op, operand string, ok bool) {
	cond = strings.TrimSpace(cond)
	for _, candidate := range comparisonOps {
		if strings.HasPrefix(cond, candidate) {
			operand = strings.TrimSpace(strings.TrimPrefix(cond, candidate))
			operand = strings.Trim(operand, `"'`)
			return candidate, operand, true
		}
	}
	return "", "", false
}

func compare(v interface{}, op, operand string) bool {
	if v == nil {
		return false
	}
	left, lerr := cast.ToFloat64E(v)
	right, rerr := strconv.ParseFloat(operand, 64)
	if _, isBool := v.(bool); lerr == nil && rerr == nil && !isBool {
		switch op {
		case ">":
			return left > right
		case "<":
			return left < right
		case ">=":
			return left >= right
		case "<=":
			return left <= right
		case "==":
			return left == right
		case "!=":
			return left != right
		}
		return false
	}

	s := cast.ToString(v)
	switch op {
	case "==":
		return s == operand
	case "!=":
		return s != operand
	}
	return false
}

func mask(values []interface{}, params Params) ([]interface{}, error) {
	maskChar := params.String("mask_char")
	if maskChar == "" {
		maskChar = "*"
	}
	first, err := params.Int("show_first")
	if err != nil {
		return nil, err
	}
	last, err := params.Int("show_last")
	if err != nil {
		return nil, err
	}
	first, last = max(first, 0), max(last, 0)

	return each(values, func(v interface{}) (interface{}, error) {
		if v == nil {
			return nil, nil
		}
		runes := []rune(cast.ToString(v))
		if len(runes) <= first+last {
			return string(runes), nil
		}
		hidden := len(runes) - first - last
		return string(runes[:first]) + strings.Repeat(maskChar, hidden) + string(runes[len(runes)-last:]), nil
	})
}

func extractRegex(values []interface{}, params Params) ([]interface{}, error) {
	re, err := regexp2.Compile(params.String("pattern"), regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	re.MatchTimeout = regexTimeout

	group, err := params.Int("group")
	if err != nil {
		return nil, err
	}

	return each(values, func(v interface{}) (interface{}, error) {
		if v == nil {
			return "", nil
		}
		m, err := re.FindStringMatch(cast.ToString(v))
		if err != nil {
			return nil, err
		}
		if m == nil {
			return "", nil
		}
		g := m.GroupByNumber(group)
		if g == nil {
			return "", nil
		}
		return g.String(), nil
	})
}

func mathOperation(values []interface{}, params Params) ([]interface{}, error) {
	operation := params.String("operation")
	operand, err := params.Float("value")
	if err != nil {
		return nil, err
	}

	var fn func(float64) float64
	switch operation {
	case "add":
		fn = func(x float64) float64 { return x + operand }
	case "subtract":
		fn = func(x float64) float64 { return x - operand }
	case "multiply":
		fn = func(x float64) float64 { return x * operand }
	case "divide":
		if operand == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		fn = func(x float64) float64 { return x / operand }
	default:
		return nil, fmt.Errorf("unsupported operation %q", operation)
	}

	return each(values, func(v interface{}) (interface{}, error) {
		if _, isBool := v.(bool); v == nil || isBool {
			return nil, nil
		}
		x, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(x) {
			return nil, nil
		}
		return fn(x), nil
	})
}

func lookup(values []interface{}, params Params) ([]interface{}, error) {
	mapping, err := params.Map("mapping")
	if err != nil {
		return nil, err
	}
	hasDefault := params.Has("default_value")
	fallback := params["default_value"]

	return each(values, func(v interface{}) (interface{}, error) {
		if mapped, ok := mapping[cast.ToString(v)]; ok {
			return mapped, nil
		}
		if hasDefault {
			return fallback, nil
		}
		return v, nil
	})
}

func parseJSON(values []interface{}, params Params) ([]interface{}, error) {
	path := params.String("path")
	fallback := params["default_value"]

	return each(values, func(v interface{}) (interface{}, error) {
		var doc string
		switch d := v.(type) {
		case nil:
			return fallback, nil
		case string:
			doc = d
		case []byte:
			doc = string(d)
		default:
			b, err := json.Marshal(d)
			if err != nil {
				return fallback, nil
			}
			doc = string(b)
		}

		if !gjson.Valid(doc) {
			return fallback, nil
		}
		if path == "" {
			return gjson.Parse(doc).Value(), nil
		}
		res := gjson.Get(doc, path)
		if !res.Exists() {
			return fallback, nil
		}
		return res.Value(), nil
	})
}
