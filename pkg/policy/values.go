package policy

// Typed readers for policy maps. Policy values travel as decoded JSON,
// so numbers may be float64, int, or int64 depending on the backend.

// Int64 reads an integer-valued key, falling back to def.
func Int64(m map[string]any, key string, def int64) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return def
}

// Float64 reads a float-valued key, falling back to def.
func Float64(m map[string]any, key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// String reads a string-valued key, falling back to def.
func String(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

// Strings reads a string-list key; missing or malformed yields nil.
func Strings(m map[string]any, key string) []string {
	items, ok := m[key].([]any)
	if !ok {
		if direct, ok := m[key].([]string); ok {
			return direct
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Sub reads a nested policy object; missing yields an empty map.
func Sub(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}
