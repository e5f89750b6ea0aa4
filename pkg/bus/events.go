package bus

import "time"

type EventType string

const (
	EventTurnReceived  EventType = "turn_received"
	EventTurnCompleted EventType = "turn_completed"
	EventTurnDropped   EventType = "turn_dropped"
	EventTurnFailed    EventType = "turn_failed"
)

// Event describes one step of a turn. Dropped turns carry the protocol
// category that rejected them; failed turns carry the error.
type Event struct {
	Type        EventType `json:"type"`
	At          time.Time `json:"at"`
	TurnID      string    `json:"turn_id"`
	Client      string    `json:"client,omitempty"`
	ChatID      string    `json:"chat_id,omitempty"`
	UpdateID    string    `json:"update_id,omitempty"`
	Interaction string    `json:"interaction,omitempty"`
	Category    string    `json:"category,omitempty"`
	Blocks      int       `json:"blocks,omitempty"`
	Ended       bool      `json:"ended,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	Error       string    `json:"error,omitempty"`
}

