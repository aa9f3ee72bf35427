package cronengine

import "strconv"

func msToString(ms int64) string {
	return strconv.FormatInt(ms, 10)
}

// stringField returns the first of keys present in raw as a string.
func stringField(raw map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// boolField returns the first of keys present in raw as a bool.
func boolField(raw map[string]any, keys ...string) (bool, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if b, ok := v.(bool); ok {
				return b, true
			}
		}
	}
	return false, false
}

// int64Field returns the first of keys present in raw as an int64. JSON
// numbers decode to float64 via encoding/json's default map[string]any
// unmarshaling, so this converts rather than type-asserting int64 directly.
func int64Field(raw map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if f, ok := v.(float64); ok {
				return int64(f), true
			}
		}
	}
	return 0, false
}

// stringSliceField returns the first of keys present in raw as a []string,
// skipping any non-string elements.
func stringSliceField(raw map[string]any, keys ...string) ([]string, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		arr, ok := v.([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out, true
		}
	}
	return nil, false
}
