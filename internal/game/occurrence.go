package game

import (
	"crypto/sha1"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind is the type of a discrete in-game occurrence.
type Kind string

const (
	KindGoal            Kind = "goal"
	KindPenalty         Kind = "penalty"
	KindShot            Kind = "shot"
	KindShotMilestone   Kind = "shot_milestone"
	KindHit             Kind = "hit"
	KindFaceoff         Kind = "faceoff"
	KindTakeaway        Kind = "takeaway"
	KindGiveaway        Kind = "giveaway"
	KindStoppage        Kind = "stoppage"
	KindChallenge       Kind = "challenge"
	KindPeriodStart     Kind = "period_start"
	KindPeriodEnd       Kind = "period_end"
	KindGameEnd         Kind = "game_end"
	KindShootoutAttempt Kind = "shootout_attempt"
	KindOther           Kind = "other"
)

// Occurrence is one discrete happening inside a game.
type Occurrence struct {
	Kind         Kind              `json:"kind"`
	UpstreamID   string            `json:"upstream_id,omitempty"` // not stable across reads
	Period       Period            `json:"period"`
	TimeInPeriod time.Duration     `json:"time_in_period"`
	Team         string            `json:"team,omitempty"`
	Participants []string          `json:"participants,omitempty"` // order matters: scorer, then assists
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Fingerprint is the stable identity of an occurrence across snapshots.
type Fingerprint string

// Clone returns a deep copy of the occurrence.
func (o Occurrence) Clone() Occurrence {
	c := o
	if o.Participants != nil {
		c.Participants = append([]string(nil), o.Participants...)
	}
	c.Attributes = cloneStringMap(o.Attributes)
	return c
}

// Key is the semantic identity of the occurrence: kind, team, period and time.
func (o Occurrence) Key() string {
	return fmt.Sprintf("%s|%s|%d|%s|%d",
		o.Kind, o.Team, o.Period.Number, o.Period.Type, int64(o.TimeInPeriod/time.Second))
}

// Before orders occurrences by game time.
func (o Occurrence) Before(other Occurrence) bool {
	if o.Period.Number != other.Period.Number {
		return o.Period.Number < other.Period.Number
	}
	return o.TimeInPeriod < other.TimeInPeriod
}

// ContentHash hashes the mutable content of an occurrence: its ordered
// participants and its attributes. Attribute order does not matter.
func (o Occurrence) ContentHash() string {
	h := sha1.New()
	h.Write([]byte(strings.Join(o.Participants, ",")))
	h.Write([]byte{0})

	keys := make([]string, 0, len(o.Attributes))
	for k := range o.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k + "=" + o.Attributes[k]))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// SameContent reports whether two occurrences carry the same participants
// (in the same order) and attributes.
func (o Occurrence) SameContent(other Occurrence) bool {
	if len(o.Participants) != len(other.Participants) || len(o.Attributes) != len(other.Attributes) {
		return false
	}
	for i := range o.Participants {
		if o.Participants[i] != other.Participants[i] {
			return false
		}
	}
	for k, v := range o.Attributes {
		if ov, ok := other.Attributes[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Fingerprints computes a fingerprint for each occurrence, in order.
// Occurrences sharing a key (two penalties to the same team at the same
// second) are numbered by their content, so the feed listing them in a
// different order does not swap their identities.
func Fingerprints(occs []Occurrence) []Fingerprint {
	fps := make([]Fingerprint, len(occs))
	groups := make(map[string][]int, len(occs))
	for i, occ := range occs {
		key := occ.Key()
		groups[key] = append(groups[key], i)
		fps[i] = Fingerprint(key)
	}

	for key, idx := range groups {
		if len(idx) < 2 {
			continue
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return coincidentLess(occs[idx[a]], occs[idx[b]])
		})
		for n, i := range idx[1:] {
			fps[i] = Fingerprint(fmt.Sprintf("%s#%d", key, n+2))
		}
	}
	return fps
}

// coincidentLess orders occurrences sharing a key: by participants first,
// which survive most corrections, then by the full content.
func coincidentLess(a, b Occurrence) bool {
	pa, pb := strings.Join(a.Participants, ","), strings.Join(b.Participants, ",")
	if pa != pb {
		return pa < pb
	}
	return a.ContentHash() < b.ContentHash()
}

// ParseFingerprint rebuilds the identifying fields of an occurrence from its
// fingerprint. Participants and attributes are not part of a fingerprint.
func ParseFingerprint(fp Fingerprint) (Occurrence, bool) {
	key, _, _ := strings.Cut(string(fp), "#")
	parts := strings.Split(key, "|")
	if len(parts) != 5 {
		return Occurrence{}, false
	}
	number, err := strconv.Atoi(parts[2])
	if err != nil {
		return Occurrence{}, false
	}
	seconds, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return Occurrence{}, false
	}
	return Occurrence{
		Kind:         Kind(parts[0]),
		Team:         parts[1],
		Period:       Period{Number: number, Type: PeriodType(parts[3])},
		TimeInPeriod: time.Duration(seconds) * time.Second,
	}, true
}
