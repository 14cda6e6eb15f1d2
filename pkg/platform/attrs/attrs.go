// Package attrs reads values back out of slog-style key/value attribute lists.
package attrs

// ExtractString returns the string value stored under key in a
// [key1, value1, key2, value2, ...] slice, or "" when absent or not a string.
func ExtractString(attrs []any, key string) string {
	if v, ok := lookup(attrs, key).(string); ok {
		return v
	}
	return ""
}

// ExtractInt returns the int value stored under key, or 0.
func ExtractInt(attrs []any, key string) int {
	if v, ok := lookup(attrs, key).(int); ok {
		return v
	}
	return 0
}

// ExtractStrings returns the []string value stored under key, or nil.
func ExtractStrings(attrs []any, key string) []string {
	if v, ok := lookup(attrs, key).([]string); ok {
		return v
	}
	return nil
}

func lookup(attrs []any, key string) any {
	for i := 0; i < len(attrs)-1; i += 2 {
		if k, ok := attrs[i].(string); ok && k == key {
			return attrs[i+1]
		}
	}
	return nil
}
