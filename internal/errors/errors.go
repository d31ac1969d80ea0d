package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for different categories
var (
	// ErrInvalidRequest - malformed or ill-typed client input (400)
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownProvider - model string names a provider that is not registered (400)
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrUnknownModel - provider does not know the requested model (400)
	ErrUnknownModel = errors.New("unknown model")

	// ErrUpstream - connection failure, non-2xx, or malformed JSON from a backend (502)
	ErrUpstream = errors.New("upstream error")

	// ErrToolNotFound - tool name is not in the registry (loop-level, never HTTP)
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolNotAllowed - tool name is outside the request's allow-set
	ErrToolNotAllowed = errors.New("tool not allowed")

	// ErrInvalidArguments - tool arguments failed schema validation
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrBudgetExceeded - loop step or tool-call budget exhausted
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrTimeout - model or tool wait deadline expired
	ErrTimeout = errors.New("timeout")

	// ErrOutsideWorkspace - filesystem path escapes the workspace root
	ErrOutsideWorkspace = errors.New("path is outside workspace root")

	// ErrStoreUnavailable - session store could not be reached
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrInternal - uncategorized server fault (500)
	ErrInternal = errors.New("internal error")
)

// Wrap annotates err with a message, preserving the sentinel chain.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf annotates err with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// InvalidRequest wraps a message as an invalid-request error.
func InvalidRequest(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidRequest)
}

// Upstream wraps a message as an upstream error.
func Upstream(message string) error {
	return fmt.Errorf("%s: %w", message, ErrUpstream)
}

// Internal wraps a message as an internal error.
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// IsCategory checks if err belongs to a specific sentinel category.
func IsCategory(err, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}
