// Package dedup turns accepted deltas into the events worth announcing and
// keeps each occurrence from being announced more than once.
package dedup

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
	"github.com/pfrederiksen/hockeygamebot/internal/state"
)

// EventType is the kind of an emittable event.
type EventType string

const (
	EventNewOccurrence       EventType = "new_occurrence"
	EventOccurrenceCorrected EventType = "occurrence_corrected"
	EventOccurrenceRetracted EventType = "occurrence_retracted"
	EventStatusChanged       EventType = "status_changed"
	EventPeriodChanged       EventType = "period_changed"
	EventRosterChanged       EventType = "roster_changed"
	EventMinuteRemaining     EventType = "minute_remaining"
)

// keyNamespace scopes emission idempotency keys.
var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/pfrederiksen/hockeygamebot/emission"))

// AttributeChange is one attribute whose value changed. An empty Old or New
// means the attribute was added or dropped.
type AttributeChange struct {
	Old string `json:"old,omitempty"`
	New string `json:"new,omitempty"`
}

// Correction describes what changed between two versions of an occurrence.
type Correction struct {
	ParticipantsAdded   []string                   `json:"participants_added,omitempty"`
	ParticipantsRemoved []string                   `json:"participants_removed,omitempty"`
	Reordered           bool                       `json:"reordered,omitempty"`
	Attributes          map[string]AttributeChange `json:"attributes,omitempty"`
}

// Emission is one event planned for dispatch.
type Emission struct {
	Type   EventType `json:"type"`
	GameID string    `json:"game_id"`

	// Key is stable for the same event, so downstream consumers can drop
	// repeats.
	Key string `json:"key"`

	Fingerprint game.Fingerprint `json:"fingerprint,omitempty"`
	Hash        string           `json:"hash,omitempty"`

	Occurrence *game.Occurrence `json:"occurrence,omitempty"`
	Previous   *game.Occurrence `json:"previous,omitempty"`
	Correction *Correction      `json:"correction,omitempty"`

	// Reinstated is set on a correction for an occurrence that had been
	// retracted and is back in the feed.
	Reinstated bool `json:"reinstated,omitempty"`

	Status *state.StatusChange `json:"status,omitempty"`
	Period *game.PeriodDelta   `json:"period,omitempty"`
	Roster *game.RosterDelta   `json:"roster,omitempty"`

	// Snapshot is the accepted snapshot the event came from, for context
	// such as the score and display names.
	Snapshot *game.Snapshot `json:"-"`
}

// String returns a short description for logs.
func (e Emission) String() string {
	switch e.Type {
	case EventStatusChanged:
		return fmt.Sprintf("%s %s->%s", e.Type, e.Status.From, e.Status.To)
	case EventPeriodChanged:
		return fmt.Sprintf("%s %d->%d", e.Type, e.Period.From.Number, e.Period.To.Number)
	case EventMinuteRemaining:
		return fmt.Sprintf("%s %s", e.Type, e.Period.To.Label())
	case EventRosterChanged:
		return fmt.Sprintf("%s %s", e.Type, e.Roster.Team)
	default:
		return fmt.Sprintf("%s %s", e.Type, e.Fingerprint)
	}
}

func emissionKey(gameID string, t EventType, subject, hash string) string {
	return uuid.NewSHA1(keyNamespace, []byte(gameID+"|"+string(t)+"|"+subject+"|"+hash)).String()
}

// diffOccurrence compares two versions of the same occurrence.
func diffOccurrence(old, cur game.Occurrence) *Correction {
	c := &Correction{}

	inOld := make(map[string]bool, len(old.Participants))
	for _, id := range old.Participants {
		inOld[id] = true
	}
	inCur := make(map[string]bool, len(cur.Participants))
	for _, id := range cur.Participants {
		inCur[id] = true
		if !inOld[id] {
			c.ParticipantsAdded = append(c.ParticipantsAdded, id)
		}
	}
	for _, id := range old.Participants {
		if !inCur[id] {
			c.ParticipantsRemoved = append(c.ParticipantsRemoved, id)
		}
	}
	if len(c.ParticipantsAdded) == 0 && len(c.ParticipantsRemoved) == 0 {
		for i := range cur.Participants {
			if i < len(old.Participants) && cur.Participants[i] != old.Participants[i] {
				c.Reordered = true
				break
			}
		}
	}

	for k, v := range cur.Attributes {
		if ov, ok := old.Attributes[k]; !ok || ov != v {
			if c.Attributes == nil {
				c.Attributes = make(map[string]AttributeChange)
			}
			c.Attributes[k] = AttributeChange{Old: old.Attributes[k], New: v}
		}
	}
	for k, v := range old.Attributes {
		if _, ok := cur.Attributes[k]; !ok {
			if c.Attributes == nil {
				c.Attributes = make(map[string]AttributeChange)
			}
			c.Attributes[k] = AttributeChange{Old: v}
		}
	}
	return c
}
