package transform

import (
	"fmt"

	"github.com/spf13/cast"
)

// Params are the per-mapping transform parameters
type Params map[string]interface{}

// Has reports whether key is set to a non-nil value
func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns key as a string; missing keys yield ""
func (p Params) String(key string) string {
	return cast.ToString(p[key])
}

// Int returns key as an int, failing when it is not numeric
func (p Params) Int(key string) (int, error) {
	n, err := cast.ToIntE(p[key])
	if err != nil {
		return 0, fmt.Errorf("param %q: %w", key, err)
	}
	return n, nil
}

// Float returns key as a float64, failing when it is not numeric
func (p Params) Float(key string) (float64, error) {
	f, err := cast.ToFloat64E(p[key])
	if err != nil {
		return 0, fmt.Errorf("param %q: %w", key, err)
	}
	return f, nil
}

// Map returns key as a string-keyed map
func (p Params) Map(key string) (map[string]interface{}, error) {
	if !p.Has(key) {
		return map[string]interface{}{}, nil
	}
	m, err := cast.ToStringMapE(p[key])
	if err != nil {
		return nil, fmt.Errorf("param %q: %w", key, err)
	}
	return m, nil
}
