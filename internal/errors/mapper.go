package errors

import (
	"context"
	"errors"
	"net/http"
)

// Error type strings used by the OpenAI-style envelope.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeAPIError       = "api_error"
	TypeServerError    = "server_error"
)

// HTTPStatus maps an error to the status code of its taxonomy class.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrUnknownProvider),
		errors.Is(err, ErrUnknownModel):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstream),
		errors.Is(err, ErrStoreUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// TypeString maps an error to the OpenAI-style "type" field.
func TypeString(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrUnknownProvider),
		errors.Is(err, ErrUnknownModel):
		return TypeInvalidRequest
	case errors.Is(err, ErrUpstream),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrTimeout):
		return TypeAPIError
	default:
		return TypeServerError
	}
}

// AnthropicType maps an error to the Anthropic-style error "type" field.
func AnthropicType(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrUnknownProvider),
		errors.Is(err, ErrUnknownModel):
		return "invalid_request_error"
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrStoreUnavailable):
		return "api_error"
	default:
		return "internal_server_error"
	}
}

// Category returns the sentinel name for logging.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return "ErrInvalidRequest"
	case errors.Is(err, ErrUnknownProvider):
		return "ErrUnknownProvider"
	case errors.Is(err, ErrUnknownModel):
		return "ErrUnknownModel"
	case errors.Is(err, ErrUpstream):
		return "ErrUpstream"
	case errors.Is(err, ErrToolNotFound):
		return "ErrToolNotFound"
	case errors.Is(err, ErrToolNotAllowed):
		return "ErrToolNotAllowed"
	case errors.Is(err, ErrInvalidArguments):
		return "ErrInvalidArguments"
	case errors.Is(err, ErrBudgetExceeded):
		return "ErrBudgetExceeded"
	case errors.Is(err, ErrTimeout):
		return "ErrTimeout"
	case errors.Is(err, ErrOutsideWorkspace):
		return "ErrOutsideWorkspace"
	case errors.Is(err, ErrStoreUnavailable):
		return "ErrStoreUnavailable"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}
