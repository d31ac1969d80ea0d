package logger

import (
	"encoding/json"
	"strings"
)

const maxLoggedChars = 2000

var redactedKeys = map[string]struct{}{
	"api_key":       {},
	"api-key":       {},
	"apikey":        {},
	"authorization": {},
	"x-api-key":     {},
}

// Redact removes credential-bearing keys from a decoded JSON value,
// recursively. The input is not modified.
func Redact(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, drop := redactedKeys[strings.ToLower(k)]; drop {
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}

// Truncate caps s for log output.
func Truncate(s string) string {
	if len(s) <= maxLoggedChars {
		return s
	}
	return s[:maxLoggedChars] + "...(truncated)"
}

// SanitizeJSON redacts and truncates a raw JSON payload for logging. Bodies
// that do not parse are truncated as-is.
func SanitizeJSON(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Truncate(string(raw))
	}
	clean, err := json.Marshal(Redact(v))
	if err != nil {
		return Truncate(string(raw))
	}
	return Truncate(string(clean))
}
