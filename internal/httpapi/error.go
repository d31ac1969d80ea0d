package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/harunnryd/sekisho/internal/errors"
)

// errMessage strips the sentinel suffix Wrap appends so clients see the bare
// human message.
func errMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{
		errors.ErrInvalidRequest,
		errors.ErrUnknownProvider,
		errors.ErrUnknownModel,
		errors.ErrUpstream,
		errors.ErrTimeout,
		errors.ErrStoreUnavailable,
		errors.ErrInternal,
	} {
		if trimmed := strings.TrimSuffix(msg, ": "+sentinel.Error()); trimmed != msg {
			return trimmed
		}
	}
	return msg
}

func writeOpenAIError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	slog.Warn("request failed", "status", status, "category", errors.Category(err), "error", err)
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": errMessage(err),
			"type":    errors.TypeString(err),
			"param":   nil,
			"code":    nil,
		},
	})
}

func writeAnthropicError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	slog.Warn("request failed", "status", status, "category", errors.Category(err), "error", err)
	writeJSON(w, status, map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    errors.AnthropicType(err),
			"message": errMessage(err),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
