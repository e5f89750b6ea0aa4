package types

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
)

const (
	sessionIDSalt = "session_id"
	userIDSalt    = "user_id"
)

// Identity is the backend-side identity of one chat. Both ids are stable
// hashes of the chat id, so a chat keeps its backend state across restarts.
type Identity struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// NewIdentity derives the backend identity for a chat.
func NewIdentity(chatID string) Identity {
	return Identity{
		SessionID: digest(chatID + sessionIDSalt),
		UserID:    digest(chatID + userIDSalt),
	}
}

func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Variables are state variables forwarded to the backend with a request.
type Variables map[string]any

// Merge returns a copy of v overlaid with other.
func (v Variables) Merge(other Variables) Variables {
	merged := make(Variables, len(v)+len(other))
	maps.Copy(merged, v)
	maps.Copy(merged, other)
	return merged
}
