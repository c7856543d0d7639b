package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// String renders a scalar JSON value as text. It reports false for nil,
// objects and arrays.
func String(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// Scalar converts a decoded JSON value into a snapshot value: bool,
// string, int64, or float64 for non-integral numbers. Nil and composite
// values report false.
func Scalar(v any) (any, bool) {
	switch t := v.(type) {
	case bool, string:
		return t, true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		f, err := t.Float64()
		if err != nil {
			return t.String(), true
		}
		return fromFloat(f), true
	case float64:
		return fromFloat(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	}
	return nil, false
}

func fromFloat(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// Truthy interprets a snapshot value as on/off. Strings count as true when
// they read 1, true, yes or on. The second result is false when v is nil
// or not a scalar.
func Truthy(v any) (bool, bool) {
	switch t := v.(type) {
	case nil:
		return false, false
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true, true
		}
		return false, true
	}
	s, ok := Scalar(v)
	if !ok {
		return false, false
	}
	switch n := s.(type) {
	case int64:
		return n != 0, true
	case float64:
		return n != 0, true
	}
	return false, false
}
