package operations

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Params is the read-only parameter bag of an action. Values are whatever a
// JSON decoder produced, so the getters accept numbers and strings alike.
type Params map[string]interface{}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns key as text; numbers and booleans are formatted, anything
// absent is "".
func (p Params) String(key string) string {
	return stringify(p[key])
}

// Int returns key as an integer, or def when absent. Fractions are truncated.
func (p Params) Int(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("%s: %v is not a number", key, n)
		}
		return int64(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return int64(f), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return def, nil
		}
		i, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s: unexpected %T", key, v)
	}
}

// Bool returns key as a boolean, or def when absent or not a boolean.
func (p Params) Bool(key string, def bool) bool {
	if b, ok := p[key].(bool); ok {
		return b
	}
	return def
}

// Strings returns key as a list of strings.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, stringify(item))
		}
		return out
	}
	return nil
}

// StringMap returns key as an object with text values.
func (p Params) StringMap(key string) map[string]string {
	switch v := p[key].(type) {
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out
	case map[string]interface{}:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = stringify(val)
		}
		return out
	}
	return nil
}

// List returns key as a list of nested parameter bags.
func (p Params) List(key string) []Params {
	items, ok := p[key].([]interface{})
	if !ok {
		if typed, ok := p[key].([]Params); ok {
			return typed
		}
		return nil
	}
	out := make([]Params, 0, len(items))
	for _, item := range items {
		switch m := item.(type) {
		case map[string]interface{}:
			out = append(out, Params(m))
		case Params:
			out = append(out, m)
		default:
			out = append(out, Params{})
		}
	}
	return out
}

// With returns a copy of p with key set to value.
func (p Params) With(key string, value interface{}) Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[key] = value
	return out
}

func stringify(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(v)
	}
}
