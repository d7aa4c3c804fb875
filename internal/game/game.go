package game

import (
	"sort"
	"strconv"
	"time"
)

// Status is the coarse state of a game as reported by the feed.
type Status string

const (
	// StatusNotStarted is implicit: no snapshot has been accepted yet.
	StatusNotStarted   Status = "not_started"
	StatusPreview      Status = "preview"
	StatusLive         Status = "live"
	StatusIntermission Status = "intermission"
	StatusEnd          Status = "end"
	StatusFinal        Status = "final"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusPreview, StatusLive, StatusIntermission, StatusEnd, StatusFinal:
		return true
	}
	return false
}

// Playing reports whether the puck can be in play (live or between periods).
func (s Status) Playing() bool {
	return s == StatusLive || s == StatusIntermission
}

// PeriodType distinguishes regulation from overtime and shootout.
type PeriodType string

const (
	PeriodRegulation PeriodType = "REG"
	PeriodOvertime   PeriodType = "OT"
	PeriodShootout   PeriodType = "SO"
)

// Period identifies a period of play. Number is 0 before the game starts.
type Period struct {
	Number int        `json:"number"`
	Type   PeriodType `json:"type,omitempty"`
}

// Less orders periods by number.
func (p Period) Less(o Period) bool {
	return p.Number < o.Number
}

// Label names the period compactly, e.g. "REG2" or "OT4".
func (p Period) Label() string {
	return string(p.Type) + strconv.Itoa(p.Number)
}

// Started reports whether the period refers to actual play.
func (p Period) Started() bool {
	return p.Number > 0
}

// Clock is the game clock at the time of the snapshot.
type Clock struct {
	Remaining             time.Duration `json:"remaining"`
	Running               bool          `json:"running"`
	IntermissionRemaining time.Duration `json:"intermission_remaining,omitempty"`
}

// Team describes one side of the game.
type Team struct {
	ID     string `json:"id"`
	Abbrev string `json:"abbrev"`
	Name   string `json:"name,omitempty"`
}

// Teams holds both sides of the game.
type Teams struct {
	Home Team `json:"home"`
	Away Team `json:"away"`
}

// Snapshot is one read of a game from the feed. Treat it as immutable once
// built; use Clone before changing anything.
type Snapshot struct {
	GameID       string              `json:"game_id"`
	Status       Status              `json:"status"`
	Period       Period              `json:"period"`
	Clock        Clock               `json:"clock"`
	Teams        Teams               `json:"teams"`
	Score        map[string]int      `json:"score"`
	Occurrences  []Occurrence        `json:"occurrences"`
	Participants map[string][]string `json:"participants,omitempty"` // team -> on-ice entity ids
	Names        map[string]string   `json:"names,omitempty"`        // entity id -> display name
	StartTime    time.Time           `json:"start_time"`
	FetchedAt    time.Time           `json:"fetched_at"`

	// CorrectionWindow is set by the feed when it is publishing corrections
	// to a game it already reported, e.g. after the final horn.
	CorrectionWindow bool `json:"correction_window,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	c.Score = cloneIntMap(s.Score)
	c.Names = cloneStringMap(s.Names)
	if s.Occurrences != nil {
		c.Occurrences = make([]Occurrence, len(s.Occurrences))
		for i := range s.Occurrences {
			c.Occurrences[i] = s.Occurrences[i].Clone()
		}
	}
	if s.Participants != nil {
		c.Participants = make(map[string][]string, len(s.Participants))
		for team, ids := range s.Participants {
			c.Participants[team] = append([]string(nil), ids...)
		}
	}
	return &c
}

// Name resolves an entity id to a display name, falling back to the id.
func (s *Snapshot) Name(id string) string {
	if s != nil {
		if name, ok := s.Names[id]; ok && name != "" {
			return name
		}
	}
	return id
}

// Index maps every occurrence fingerprint to its occurrence.
func (s *Snapshot) Index() map[Fingerprint]*Occurrence {
	if s == nil {
		return map[Fingerprint]*Occurrence{}
	}
	fps := Fingerprints(s.Occurrences)
	idx := make(map[Fingerprint]*Occurrence, len(fps))
	for i, fp := range fps {
		idx[fp] = &s.Occurrences[i]
	}
	return idx
}

// Goals counts goal occurrences per team, excluding the shootout.
func (s *Snapshot) Goals() map[string]int {
	goals := make(map[string]int)
	if s == nil {
		return goals
	}
	for _, occ := range s.Occurrences {
		if occ.Kind == KindGoal && occ.Period.Type != PeriodShootout {
			goals[occ.Team]++
		}
	}
	return goals
}

// TeamAbbrevs returns the teams present in score or participants, sorted.
func (s *Snapshot) TeamAbbrevs() []string {
	seen := make(map[string]bool)
	if s != nil {
		for team := range s.Score {
			seen[team] = true
		}
		for team := range s.Participants {
			seen[team] = true
		}
	}
	teams := make([]string, 0, len(seen))
	for team := range seen {
		teams = append(teams, team)
	}
	sort.Strings(teams)
	return teams
}

func cloneIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	c := make(map[string]int, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
