package game

import (
	"sort"
)

// DeltaType classifies an occurrence delta.
type DeltaType string

const (
	DeltaRemoved DeltaType = "removed"
	DeltaChanged DeltaType = "changed"
	DeltaAdded   DeltaType = "added"
)

// rank orders delta types so corrections go out before new occurrences.
func (t DeltaType) rank() int {
	switch t {
	case DeltaRemoved:
		return 0
	case DeltaChanged:
		return 1
	default:
		return 2
	}
}

// OccurrenceDelta describes one occurrence that appeared, changed or vanished.
type OccurrenceDelta struct {
	Type        DeltaType
	Fingerprint Fingerprint
	Old         *Occurrence // nil for added
	New         *Occurrence // nil for removed
}

// Occurrence returns the most recent version of the occurrence.
func (d OccurrenceDelta) Occurrence() *Occurrence {
	if d.New != nil {
		return d.New
	}
	return d.Old
}

// StatusDelta is a change of game status.
type StatusDelta struct {
	From Status
	To   Status
}

// PeriodDelta is a change of the current period.
type PeriodDelta struct {
	From Period
	To   Period
}

// ScoreDelta is a change of the score mapping. It is informational only.
type ScoreDelta struct {
	From map[string]int
	To   map[string]int
}

// Decreased lists teams whose score went down.
func (d *ScoreDelta) Decreased() []string {
	if d == nil {
		return nil
	}
	var teams []string
	for team, was := range d.From {
		if d.To[team] < was {
			teams = append(teams, team)
		}
	}
	sort.Strings(teams)
	return teams
}

// RosterDelta is a change of one team's on-ice participants.
type RosterDelta struct {
	Team    string
	Added   []string
	Removed []string
}

// DeltaSet is the semantic difference between two snapshots.
type DeltaSet struct {
	Status      *StatusDelta
	Period      *PeriodDelta
	Score       *ScoreDelta
	Occurrences []OccurrenceDelta
	Roster      []RosterDelta
}

// Empty reports whether nothing changed.
func (d *DeltaSet) Empty() bool {
	return d == nil || (d.Status == nil && d.Period == nil && d.Score == nil &&
		len(d.Occurrences) == 0 && len(d.Roster) == 0)
}

// Removed returns the removed occurrence deltas.
func (d *DeltaSet) Removed() []OccurrenceDelta {
	var out []OccurrenceDelta
	for _, od := range d.Occurrences {
		if od.Type == DeltaRemoved {
			out = append(out, od)
		}
	}
	return out
}

// Diff compares the previous accepted snapshot with the current one.
// A nil previous means nothing has been accepted yet: every occurrence is
// added and the status moves out of StatusNotStarted.
func Diff(previous, current *Snapshot) *DeltaSet {
	result := &DeltaSet{}
	if current == nil {
		return result
	}

	prevStatus := StatusNotStarted
	var prevPeriod Period
	var prevScore map[string]int
	var prevRoster map[string][]string
	if previous != nil {
		prevStatus = previous.Status
		prevPeriod = previous.Period
		prevScore = previous.Score
		prevRoster = previous.Participants
	}

	if current.Status != prevStatus {
		result.Status = &StatusDelta{From: prevStatus, To: current.Status}
	}
	if current.Period != prevPeriod {
		result.Period = &PeriodDelta{From: prevPeriod, To: current.Period}
	}
	if !scoresEqual(prevScore, current.Score) {
		result.Score = &ScoreDelta{From: cloneIntMap(prevScore), To: cloneIntMap(current.Score)}
	}

	result.Occurrences = diffOccurrences(previous.Index(), current.Index())
	result.Roster = diffRoster(prevRoster, current.Participants)

	return result
}

func diffOccurrences(prev, curr map[Fingerprint]*Occurrence) []OccurrenceDelta {
	deltas := make([]OccurrenceDelta, 0)

	for fp, occ := range curr {
		old, exists := prev[fp]
		switch {
		case !exists:
			deltas = append(deltas, OccurrenceDelta{Type: DeltaAdded, Fingerprint: fp, New: occ})
		case !old.SameContent(*occ):
			deltas = append(deltas, OccurrenceDelta{Type: DeltaChanged, Fingerprint: fp, Old: old, New: occ})
		}
	}
	for fp, occ := range prev {
		if _, exists := curr[fp]; !exists {
			deltas = append(deltas, OccurrenceDelta{Type: DeltaRemoved, Fingerprint: fp, Old: occ})
		}
	}

	sort.Slice(deltas, func(i, j int) bool {
		a, b := deltas[i], deltas[j]
		if a.Type != b.Type {
			return a.Type.rank() < b.Type.rank()
		}
		oa, ob := a.Occurrence(), b.Occurrence()
		if oa.Before(*ob) != ob.Before(*oa) {
			return oa.Before(*ob)
		}
		return a.Fingerprint < b.Fingerprint
	})

	return deltas
}

func diffRoster(prev, curr map[string][]string) []RosterDelta {
	teams := make(map[string]bool)
	for team := range prev {
		teams[team] = true
	}
	for team := range curr {
		teams[team] = true
	}
	names := make([]string, 0, len(teams))
	for team := range teams {
		names = append(names, team)
	}
	sort.Strings(names)

	var deltas []RosterDelta
	for _, team := range names {
		added := setDifference(curr[team], prev[team])
		removed := setDifference(prev[team], curr[team])
		if len(added) > 0 || len(removed) > 0 {
			deltas = append(deltas, RosterDelta{Team: team, Added: added, Removed: removed})
		}
	}
	return deltas
}

// setDifference returns the sorted ids in a that are not in b.
func setDifference(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, id := range b {
		in[id] = true
	}
	var out []string
	seen := make(map[string]bool, len(a))
	for _, id := range a {
		if !in[id] && !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	sort.Strings(out)
	return out
}

func scoresEqual(a, b map[string]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
