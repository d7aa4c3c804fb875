package cli

import (
	"fmt"
	"sort"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByTime SortOrder = "time"
	SortByKind SortOrder = "kind"
	SortByTeam SortOrder = "team"
)

// ParseSortOrder validates a sort order name.
func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(s); o {
	case SortByTime, SortByKind, SortByTeam:
		return o, nil
	case "":
		return SortByTime, nil
	}
	return "", fmt.Errorf("invalid sort order: %s (must be 'time', 'kind' or 'team')", s)
}

// sortEmitted sorts emitted occurrences based on the specified sort order
func sortEmitted(items []EmittedOccurrence, sortOrder SortOrder) {
	switch sortOrder {
	case SortByTime:
		sort.SliceStable(items, func(i, j int) bool {
			return compareByTime(items[i], items[j])
		})
	case SortByKind:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Kind != items[j].Kind {
				return items[i].Kind < items[j].Kind
			}
			// If kinds are equal, sort by game time
			return compareByTime(items[i], items[j])
		})
	case SortByTeam:
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Team != items[j].Team {
				return items[i].Team < items[j].Team
			}
			return compareByTime(items[i], items[j])
		})
	}
}

// compareByTime compares two occurrences by game time
// Returns true if i should come before j
func compareByTime(i, j EmittedOccurrence) bool {
	// Fingerprints that could not be parsed go last
	if i.parsed != j.parsed {
		return i.parsed
	}
	if !i.parsed {
		return i.Fingerprint < j.Fingerprint
	}

	a := game.Occurrence{Period: i.Period, TimeInPeriod: i.at}
	b := game.Occurrence{Period: j.Period, TimeInPeriod: j.at}
	if a.Before(b) != b.Before(a) {
		return a.Before(b)
	}
	return i.Fingerprint < j.Fingerprint
}
