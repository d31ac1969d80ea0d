// Package session persists per-conversation history and turn records behind
// an abstract store, fronted by a write-through in-memory cache.
package session

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/sekisho/internal/provider"
)

// TurnRecord captures one request/response exchange. OutputText stays nil
// until the assistant reply lands, so an aborted turn is visible as such.
type TurnRecord struct {
	TurnID        string             `json:"turn_id"`
	InputMessages []provider.Message `json:"input_messages"`
	OutputText    *string            `json:"output_text"`
}

type Session struct {
	SessionID string             `json:"session_id"`
	History   []provider.Message `json:"history"`
	Turns     []TurnRecord       `json:"turns"`
}

// NewID mints "<prefix>-<ms-hex>-<rand64-hex>": sortable by mint time, with
// ULID entropy backing the random half so collisions across restarts are not
// a concern.
func NewID(prefix string) string {
	entropy := ulid.Make().Entropy()
	return fmt.Sprintf("%s-%x-%016x", prefix, time.Now().UnixMilli(), binary.BigEndian.Uint64(entropy[:8]))
}

func NewSessionID() string { return NewID("sess") }

// EnsureSessionID keeps a caller-supplied id and mints one otherwise.
func EnsureSessionID(preferred string) string {
	if preferred != "" {
		return preferred
	}
	return NewSessionID()
}
