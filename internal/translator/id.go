package translator

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewMessageID generates a fresh message identifier: "msg_" followed by the
// first 24 hex characters of a random UUID. IDs are never reused across
// requests.
func NewMessageID() string {
	id := uuid.New()
	return "msg_" + hex.EncodeToString(id[:])[:24]
}
