// Package state owns the tracking record of one game and the state machine
// that decides which snapshots are accepted and how often to poll.
package state

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
)

var (
	// ErrFeedAnomaly marks a snapshot that would move the game backwards.
	ErrFeedAnomaly = errors.New("feed anomaly")

	// ErrInvariantViolation marks accepted data that breaks a consistency rule.
	ErrInvariantViolation = errors.New("invariant violation")
)

// RetractedHash is stored for fingerprints whose occurrence was retracted.
const RetractedHash = "retracted"

// GameState is the authoritative tracking record of one game. It is owned by
// a single tracker and never shared between goroutines.
type GameState struct {
	GameID       string
	Status       game.Status
	LastAccepted *game.Snapshot

	// Emitted maps every dispatched fingerprint to the content hash of the
	// last dispatched version.
	Emitted map[game.Fingerprint]string

	// Announced holds a copy of the last dispatched version of each
	// occurrence, so corrections and retractions can describe what was said.
	Announced map[game.Fingerprint]game.Occurrence

	// MinuteWarnings holds the labels of the periods whose one minute
	// warning was dispatched.
	MinuteWarnings map[string]bool

	// PendingRetractions counts consecutive accepted cycles an emitted
	// occurrence has been missing from the feed.
	PendingRetractions map[game.Fingerprint]int

	PollInterval time.Duration
	FinalAt      time.Time
	UpdatedAt    time.Time
}

// New creates the record for a game that is about to be tracked.
func New(gameID string) *GameState {
	return &GameState{
		GameID:             gameID,
		Status:             game.StatusPreview,
		Emitted:            make(map[game.Fingerprint]string),
		Announced:          make(map[game.Fingerprint]game.Occurrence),
		MinuteWarnings:     make(map[string]bool),
		PendingRetractions: make(map[game.Fingerprint]int),
	}
}

// HasEmitted reports whether the fingerprint was dispatched before.
func (gs *GameState) HasEmitted(fp game.Fingerprint) bool {
	_, ok := gs.Emitted[fp]
	return ok
}

// EmittedHash returns the hash of the last dispatched version.
func (gs *GameState) EmittedHash(fp game.Fingerprint) string {
	return gs.Emitted[fp]
}

// RecordEmission stores that a version of the fingerprint was dispatched.
func (gs *GameState) RecordEmission(fp game.Fingerprint, hash string) {
	if gs.Emitted == nil {
		gs.Emitted = make(map[game.Fingerprint]string)
	}
	gs.Emitted[fp] = hash
	delete(gs.PendingRetractions, fp)
}

// RecordOccurrence stores that occ was dispatched as the version hash of fp.
func (gs *GameState) RecordOccurrence(fp game.Fingerprint, hash string, occ game.Occurrence) {
	gs.RecordEmission(fp, hash)
	if gs.Announced == nil {
		gs.Announced = make(map[game.Fingerprint]game.Occurrence)
	}
	gs.Announced[fp] = occ.Clone()
}

// AnnouncedOccurrence returns the last dispatched version of fp.
func (gs *GameState) AnnouncedOccurrence(fp game.Fingerprint) (game.Occurrence, bool) {
	occ, ok := gs.Announced[fp]
	return occ, ok
}

// MinuteWarningSent reports whether the one minute warning of period p was
// dispatched.
func (gs *GameState) MinuteWarningSent(p game.Period) bool {
	return gs.MinuteWarnings[p.Label()]
}

// RecordMinuteWarning stores that the one minute warning of period p was
// dispatched.
func (gs *GameState) RecordMinuteWarning(p game.Period) {
	if gs.MinuteWarnings == nil {
		gs.MinuteWarnings = make(map[string]bool)
	}
	gs.MinuteWarnings[p.Label()] = true
}

// Fingerprints returns the emitted fingerprints, sorted.
func (gs *GameState) Fingerprints() []game.Fingerprint {
	fps := make([]game.Fingerprint, 0, len(gs.Emitted))
	for fp := range gs.Emitted {
		fps = append(fps, fp)
	}
	sort.Slice(fps, func(i, j int) bool { return fps[i] < fps[j] })
	return fps
}

// Done reports whether the game is final and its correction window is over.
func (gs *GameState) Done(now time.Time, grace time.Duration) bool {
	return gs.Status == game.StatusFinal && !gs.FinalAt.IsZero() && now.Sub(gs.FinalAt) >= grace
}

// Clone returns a deep copy, used to publish read-only views of the record.
func (gs *GameState) Clone() *GameState {
	c := *gs
	c.LastAccepted = gs.LastAccepted.Clone()
	c.Emitted = make(map[game.Fingerprint]string, len(gs.Emitted))
	for k, v := range gs.Emitted {
		c.Emitted[k] = v
	}
	c.Announced = make(map[game.Fingerprint]game.Occurrence, len(gs.Announced))
	for k, v := range gs.Announced {
		c.Announced[k] = v.Clone()
	}
	c.MinuteWarnings = make(map[string]bool, len(gs.MinuteWarnings))
	for k, v := range gs.MinuteWarnings {
		c.MinuteWarnings[k] = v
	}
	c.PendingRetractions = make(map[game.Fingerprint]int, len(gs.PendingRetractions))
	for k, v := range gs.PendingRetractions {
		c.PendingRetractions[k] = v
	}
	return &c
}

// persisted is the on-disk layout of a GameState.
type persisted struct {
	GameID              string                               `json:"game_id"`
	Status              game.Status                          `json:"status"`
	LastAccepted        *game.Snapshot                       `json:"last_accepted_snapshot"`
	EmittedFingerprints []game.Fingerprint                   `json:"emitted_fingerprints"`
	EmittedContentHash  map[game.Fingerprint]string          `json:"emitted_content_hash"`
	EmittedOccurrences  map[game.Fingerprint]game.Occurrence `json:"emitted_occurrences,omitempty"`
	MinuteWarningsSent  []string                             `json:"minute_warnings_sent,omitempty"`
	PendingRetractions  map[game.Fingerprint]int             `json:"pending_retractions,omitempty"`
	PollInterval        time.Duration                        `json:"poll_interval"`
	FinalAt             time.Time                            `json:"final_at,omitempty"`
	UpdatedAt           time.Time                            `json:"updated_at"`
}

// MarshalJSON implements json.Marshaler.
func (gs *GameState) MarshalJSON() ([]byte, error) {
	return json.Marshal(persisted{
		GameID:              gs.GameID,
		Status:              gs.Status,
		LastAccepted:        gs.LastAccepted,
		EmittedFingerprints: gs.Fingerprints(),
		EmittedContentHash:  gs.Emitted,
		EmittedOccurrences:  gs.Announced,
		MinuteWarningsSent:  gs.minuteWarningLabels(),
		PendingRetractions:  gs.PendingRetractions,
		PollInterval:        gs.PollInterval,
		FinalAt:             gs.FinalAt,
		UpdatedAt:           gs.UpdatedAt,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (gs *GameState) UnmarshalJSON(data []byte) error {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	*gs = GameState{
		GameID:             p.GameID,
		Status:             p.Status,
		LastAccepted:       p.LastAccepted,
		Emitted:            make(map[game.Fingerprint]string, len(p.EmittedFingerprints)),
		Announced:          make(map[game.Fingerprint]game.Occurrence, len(p.EmittedOccurrences)),
		MinuteWarnings:     make(map[string]bool, len(p.MinuteWarningsSent)),
		PendingRetractions: p.PendingRetractions,
		PollInterval:       p.PollInterval,
		FinalAt:            p.FinalAt,
		UpdatedAt:          p.UpdatedAt,
	}
	for _, fp := range p.EmittedFingerprints {
		gs.Emitted[fp] = p.EmittedContentHash[fp]
		if occ, ok := p.EmittedOccurrences[fp]; ok {
			gs.Announced[fp] = occ
		}
	}
	for _, label := range p.MinuteWarningsSent {
		gs.MinuteWarnings[label] = true
	}
	if gs.PendingRetractions == nil {
		gs.PendingRetractions = make(map[game.Fingerprint]int)
	}
	if gs.Status == "" {
		gs.Status = game.StatusPreview
	}
	return nil
}

func (gs *GameState) minuteWarningLabels() []string {
	labels := make([]string, 0, len(gs.MinuteWarnings))
	for label, sent := range gs.MinuteWarnings {
		if sent {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels
}
