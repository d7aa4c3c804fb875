package render

import (
	"encoding/json"
	"errors"
)

// ErrNothingToSay is returned for events that are tracked but not announced.
// It counts as a successful handoff.
var ErrNothingToSay = errors.New("nothing to say")

// Payload is a rendered event, ready for any publisher.
type Payload struct {
	// Key is the emission idempotency key.
	Key    string `json:"key"`
	GameID string `json:"game_id"`
	Event  string `json:"event"`

	Text string `json:"text"`
	HTML string `json:"html,omitempty"`

	// Data is the emission as JSON, for machine consumers.
	Data json.RawMessage `json:"data,omitempty"`
}
