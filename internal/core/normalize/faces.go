package normalize

var (
	faceListKeys = []string{"faceList", "list"}
	historyKeys  = []string{"data", "history", "list", "resultList"}
	topHistory   = []string{"history", "list"}
	faceIDFields = []string{"faceId", "faceIdStr", "value", "data", "attrValue"}
)

// FaceMap extracts face-id -> face-name from a face-info response. Each
// named entry is keyed by its faceId (or id) and, when present, its
// faceIdStr. Entries without a name are ignored.
func FaceMap(doc any) map[string]string {
	out := map[string]string{}
	for _, item := range findFaceList(doc) {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := firstNonEmpty(entry, "name", "faceName")
		if name == "" {
			continue
		}
		if id := firstNonEmpty(entry, "faceId", "id"); id != "" {
			out[id] = name
		}
		if id := firstNonEmpty(entry, "faceIdStr"); id != "" {
			out[id] = name
		}
	}
	return out
}

func findFaceList(doc any) []any {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	if result, ok := m["result"].(map[string]any); ok {
		if list := firstList(result, faceListKeys); list != nil {
			return list
		}
	}
	return firstList(m, faceListKeys)
}

// LastFaceID returns the face identifier of the most recent history log
// entry, if any.
func LastFaceID(doc any) (string, bool) {
	m, ok := doc.(map[string]any)
	if !ok {
		return "", false
	}
	var history []any
	if result, ok := m["result"].(map[string]any); ok {
		history = firstList(result, historyKeys)
	}
	if history == nil {
		history = firstList(m, topHistory)
	}
	if len(history) == 0 {
		return "", false
	}
	entry, ok := history[0].(map[string]any)
	if !ok {
		return "", false
	}
	id := firstNonEmpty(entry, faceIDFields...)
	return id, id != ""
}

// firstList returns the first non-empty list found under keys.
func firstList(m map[string]any, keys []string) []any {
	for _, key := range keys {
		if list, ok := m[key].([]any); ok && len(list) > 0 {
			return list
		}
	}
	return nil
}

func firstNonEmpty(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if _, isBool := m[key].(bool); isBool {
			continue
		}
		if s, ok := String(m[key]); ok && s != "" {
			return s
		}
	}
	return ""
}
