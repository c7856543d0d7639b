// Package normalize flattens the Aqara cloud's inconsistent JSON responses
// into plain maps. Every function here is pure and never panics on
// unexpected input; unknown layouts produce empty results.
package normalize

// Shape identifies one known layout of a resource query response.
type Shape int

const (
	ShapeUnknown Shape = iota
	// ShapeAttrList: result is a list of {attr, value} pairs.
	ShapeAttrList
	// ShapeDeviceRow: result.resultList[0] is a row of key -> {value} or
	// key -> scalar.
	ShapeDeviceRow
	// ShapeResultListAttrs: result.resultList is a list of {attr, value}.
	ShapeResultListAttrs
	// ShapeObject: result maps key -> {value} or key -> scalar directly.
	ShapeObject
	// ShapeTopLevelList: the document has a top-level resultList of
	// {attr, value} pairs.
	ShapeTopLevelList
)

func (s Shape) String() string {
	switch s {
	case ShapeAttrList:
		return "attr_list"
	case ShapeDeviceRow:
		return "device_row"
	case ShapeResultListAttrs:
		return "result_list_attrs"
	case ShapeObject:
		return "object"
	case ShapeTopLevelList:
		return "top_level_list"
	}
	return "unknown"
}

type shapeMatcher struct {
	shape   Shape
	match   func(doc map[string]any) bool
	extract func(doc map[string]any) map[string]any
}

// matchers are tried in order; the first match wins.
var matchers = []shapeMatcher{
	{
		shape: ShapeAttrList,
		match: func(doc map[string]any) bool {
			_, ok := doc["result"].([]any)
			return ok
		},
		extract: func(doc map[string]any) map[string]any {
			return flattenPairs(doc["result"].([]any))
		},
	},
	{
		shape: ShapeDeviceRow,
		match: func(doc map[string]any) bool {
			first, ok := firstElem(resultList(doc))
			if !ok {
				return false
			}
			row, ok := first.(map[string]any)
			if !ok {
				return false
			}
			_, isPair := row["attr"]
			return !isPair
		},
		extract: func(doc map[string]any) map[string]any {
			first, _ := firstElem(resultList(doc))
			return flattenRow(first.(map[string]any))
		},
	},
	{
		shape: ShapeResultListAttrs,
		match: func(doc map[string]any) bool {
			first, ok := firstElem(resultList(doc))
			if !ok {
				return false
			}
			return isPair(first)
		},
		extract: func(doc map[string]any) map[string]any {
			return flattenPairs(resultList(doc))
		},
	},
	{
		shape: ShapeObject,
		match: func(doc map[string]any) bool {
			result, ok := doc["result"].(map[string]any)
			if !ok {
				return false
			}
			_, has := result["resultList"]
			return !has
		},
		extract: func(doc map[string]any) map[string]any {
			return flattenRow(doc["result"].(map[string]any))
		},
	},
	{
		shape: ShapeTopLevelList,
		match: func(doc map[string]any) bool {
			first, ok := firstElem(doc["resultList"])
			return ok && isPair(first)
		},
		extract: func(doc map[string]any) map[string]any {
			return flattenPairs(doc["resultList"].([]any))
		},
	},
}

// DetectShape reports which known layout doc has.
func DetectShape(doc any) Shape {
	m, ok := doc.(map[string]any)
	if !ok {
		return ShapeUnknown
	}
	for _, sm := range matchers {
		if sm.match(m) {
			return sm.shape
		}
	}
	return ShapeUnknown
}

// Flatten turns a resource query response into attribute -> value. The
// result is never nil.
func Flatten(doc any) map[string]any {
	m, ok := doc.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	for _, sm := range matchers {
		if sm.match(m) {
			return sm.extract(m)
		}
	}
	return map[string]any{}
}

func resultList(doc map[string]any) []any {
	result, ok := doc["result"].(map[string]any)
	if !ok {
		return nil
	}
	list, _ := result["resultList"].([]any)
	return list
}

func firstElem(v any) (any, bool) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

func isPair(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m["attr"]
	return ok
}

// flattenPairs reads {attr, value} entries; entries without an attr name
// or with a null value are skipped.
func flattenPairs(list []any) map[string]any {
	out := make(map[string]any, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, ok := String(m["attr"])
		if !ok || name == "" {
			continue
		}
		if v, ok := unwrap(m["value"]); ok {
			out[name] = v
		}
	}
	return out
}

// flattenRow reads key -> {value: x} or key -> scalar.
func flattenRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, raw := range row {
		if v, ok := unwrap(raw); ok {
			out[k] = v
		}
	}
	return out
}

func unwrap(raw any) (any, bool) {
	if m, ok := raw.(map[string]any); ok {
		inner, has := m["value"]
		if !has {
			return nil, false
		}
		return Scalar(inner)
	}
	return Scalar(raw)
}
