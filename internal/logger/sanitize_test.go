package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactRemovesCredentialKeys(t *testing.T) {
	in := map[string]any{
		"model":         "m",
		"api_key":       "secret",
		"Authorization": "Bearer x",
		"nested": map[string]any{
			"apiKey": "secret",
			"keep":   "ok",
		},
	}

	out := Redact(in).(map[string]any)

	assert.Equal(t, "m", out["model"])
	assert.NotContains(t, out, "api_key")
	assert.NotContains(t, out, "Authorization")
	nested := out["nested"].(map[string]any)
	assert.NotContains(t, nested, "apiKey")
	assert.Equal(t, "ok", nested["keep"])
}

func TestTruncateCapsLongPayloads(t *testing.T) {
	long := strings.Repeat("a", 5000)
	got := Truncate(long)
	assert.Len(t, got, maxLoggedChars+len("...(truncated)"))
	assert.True(t, strings.HasSuffix(got, "...(truncated)"))

	assert.Equal(t, "short", Truncate("short"))
}

func TestSanitizeJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want func(t *testing.T, got string)
	}{
		{
			name: "valid json redacted",
			raw:  `{"api_key":"s","input":"hello"}`,
			want: func(t *testing.T, got string) {
				assert.NotContains(t, got, "api_key")
				assert.Contains(t, got, "hello")
			},
		},
		{
			name: "invalid json passes through",
			raw:  `not json`,
			want: func(t *testing.T, got string) {
				assert.Equal(t, "not json", got)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.want(t, SanitizeJSON([]byte(tt.raw)))
		})
	}
}
