package feed

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
)

// localized is the {"default": "..."} wrapper the API uses for names.
type localized struct {
	Default string `json:"default"`
}

type periodDescriptor struct {
	Number     int    `json:"number"`
	PeriodType string `json:"periodType"`
}

type pbpTeam struct {
	ID         int       `json:"id"`
	Abbrev     string    `json:"abbrev"`
	Score      int       `json:"score"`
	CommonName localized `json:"commonName"`
	PlaceName  localized `json:"placeName"`
}

type pbpClock struct {
	TimeRemaining    string `json:"timeRemaining"`
	SecondsRemaining int    `json:"secondsRemaining"`
	Running          bool   `json:"running"`
	InIntermission   bool   `json:"inIntermission"`
}

type pbpDetails struct {
	EventOwnerTeamID    int    `json:"eventOwnerTeamId"`
	ScoringPlayerID     int    `json:"scoringPlayerId"`
	Assist1PlayerID     int    `json:"assist1PlayerId"`
	Assist2PlayerID     int    `json:"assist2PlayerId"`
	GoalieInNetID       int    `json:"goalieInNetId"`
	ShootingPlayerID    int    `json:"shootingPlayerId"`
	ShotType            string `json:"shotType"`
	CommittedByPlayerID int    `json:"committedByPlayerId"`
	DrawnByPlayerID     int    `json:"drawnByPlayerId"`
	ServedByPlayerID    int    `json:"servedByPlayerId"`
	TypeCode            string `json:"typeCode"`
	DescKey             string `json:"descKey"`
	Duration            int    `json:"duration"`
	HittingPlayerID     int    `json:"hittingPlayerId"`
	HitteePlayerID      int    `json:"hitteePlayerId"`
	WinningPlayerID     int    `json:"winningPlayerId"`
	LosingPlayerID      int    `json:"losingPlayerId"`
	PlayerID            int    `json:"playerId"`
	Reason              string `json:"reason"`
	SecondaryReason     string `json:"secondaryReason"`
}

type pbpPlay struct {
	EventID          int              `json:"eventId"`
	PeriodDescriptor periodDescriptor `json:"periodDescriptor"`
	TimeInPeriod     string           `json:"timeInPeriod"`
	SituationCode    string           `json:"situationCode"`
	TypeDescKey      string           `json:"typeDescKey"`
	SortOrder        int              `json:"sortOrder"`
	Details          pbpDetails       `json:"details"`
}

type pbpRosterSpot struct {
	TeamID    int       `json:"teamId"`
	PlayerID  int       `json:"playerId"`
	FirstName localized `json:"firstName"`
	LastName  localized `json:"lastName"`
}

// playByPlay is the subset of /v1/gamecenter/{id}/play-by-play we use.
type playByPlay struct {
	ID               int64            `json:"id"`
	GameState        string           `json:"gameState"`
	StartTimeUTC     time.Time        `json:"startTimeUTC"`
	PeriodDescriptor periodDescriptor `json:"periodDescriptor"`
	Clock            pbpClock         `json:"clock"`
	AwayTeam         pbpTeam          `json:"awayTeam"`
	HomeTeam         pbpTeam          `json:"homeTeam"`
	Plays            []pbpPlay        `json:"plays"`
	RosterSpots      []pbpRosterSpot  `json:"rosterSpots"`
}

// mapGameState converts the API game state into a Status.
func mapGameState(state string, clock pbpClock) (game.Status, error) {
	switch state {
	case "FUT", "PRE":
		return game.StatusPreview, nil
	case "LIVE", "CRIT":
		if clock.InIntermission {
			return game.StatusIntermission, nil
		}
		return game.StatusLive, nil
	case "FINAL":
		return game.StatusEnd, nil
	case "OFF":
		return game.StatusFinal, nil
	}
	return "", fmt.Errorf("unknown game state %q", state)
}

// playKinds maps typeDescKey to an occurrence kind.
var playKinds = map[string]game.Kind{
	"goal":              game.KindGoal,
	"penalty":           game.KindPenalty,
	"shot-on-goal":      game.KindShot,
	"missed-shot":       game.KindShot,
	"blocked-shot":      game.KindShot,
	"hit":               game.KindHit,
	"faceoff":           game.KindFaceoff,
	"takeaway":          game.KindTakeaway,
	"giveaway":          game.KindGiveaway,
	"stoppage":          game.KindStoppage,
	"period-start":      game.KindPeriodStart,
	"period-end":        game.KindPeriodEnd,
	"game-end":          game.KindGameEnd,
	"shootout-complete": game.KindOther,
}

// ParsePlayByPlay decodes a play-by-play document into a snapshot.
func ParsePlayByPlay(data []byte, fetchedAt time.Time) (*game.Snapshot, error) {
	var doc playByPlay
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding play-by-play: %w", err)
	}
	return doc.snapshot(fetchedAt)
}

func (doc *playByPlay) snapshot(fetchedAt time.Time) (*game.Snapshot, error) {
	status, err := mapGameState(doc.GameState, doc.Clock)
	if err != nil {
		return nil, err
	}

	teams := map[int]string{
		doc.AwayTeam.ID: doc.AwayTeam.Abbrev,
		doc.HomeTeam.ID: doc.HomeTeam.Abbrev,
	}

	snap := &game.Snapshot{
		GameID: strconv.FormatInt(doc.ID, 10),
		Status: status,
		Period: period(doc.PeriodDescriptor),
		Clock: game.Clock{
			Remaining: time.Duration(doc.Clock.SecondsRemaining) * time.Second,
			Running:   doc.Clock.Running,
		},
		Teams: game.Teams{
			Away: teamOf(doc.AwayTeam),
			Home: teamOf(doc.HomeTeam),
		},
		Score: map[string]int{
			doc.AwayTeam.Abbrev: doc.AwayTeam.Score,
			doc.HomeTeam.Abbrev: doc.HomeTeam.Score,
		},
		Participants: make(map[string][]string),
		Names:        make(map[string]string),
		StartTime:    doc.StartTimeUTC,
		FetchedAt:    fetchedAt,
		// Official scoring changes keep arriving after the final horn, and
		// the state sometimes flips between FINAL and OFF while they do.
		CorrectionWindow: doc.GameState == "FINAL" || doc.GameState == "OFF",
	}
	if doc.Clock.InIntermission {
		snap.Clock.IntermissionRemaining = snap.Clock.Remaining
	}

	for _, spot := range doc.RosterSpots {
		id := playerID(spot.PlayerID)
		snap.Names[id] = strings.TrimSpace(spot.FirstName.Default + " " + spot.LastName.Default)
		if team, ok := teams[spot.TeamID]; ok {
			snap.Participants[team] = append(snap.Participants[team], id)
		}
	}
	for team := range snap.Participants {
		sort.Strings(snap.Participants[team])
	}

	plays := append([]pbpPlay(nil), doc.Plays...)
	sort.SliceStable(plays, func(i, j int) bool { return plays[i].SortOrder < plays[j].SortOrder })
	for _, p := range plays {
		snap.Occurrences = append(snap.Occurrences, occurrence(p, teams, doc.HomeTeam.ID))
	}

	return snap, nil
}

func teamOf(t pbpTeam) game.Team {
	name := strings.TrimSpace(t.PlaceName.Default + " " + t.CommonName.Default)
	return game.Team{ID: strconv.Itoa(t.ID), Abbrev: t.Abbrev, Name: name}
}

func period(pd periodDescriptor) game.Period {
	pt := game.PeriodType(pd.PeriodType)
	if pt == "" && pd.Number > 0 {
		pt = game.PeriodRegulation
	}
	return game.Period{Number: pd.Number, Type: pt}
}

func playerID(id int) string {
	return strconv.Itoa(id)
}

// players returns the non-zero ids in order.
func players(ids ...int) []string {
	var out []string
	for _, id := range ids {
		if id != 0 {
			out = append(out, playerID(id))
		}
	}
	return out
}

func occurrence(p pbpPlay, teams map[int]string, homeID int) game.Occurrence {
	d := p.Details
	occ := game.Occurrence{
		Kind:         playKinds[p.TypeDescKey],
		UpstreamID:   strconv.Itoa(p.EventID),
		Period:       period(p.PeriodDescriptor),
		TimeInPeriod: parseMMSS(p.TimeInPeriod),
		Team:         teams[d.EventOwnerTeamID],
		Attributes:   make(map[string]string),
	}
	if occ.Kind == "" {
		occ.Kind = game.KindOther
		occ.Attributes["type"] = p.TypeDescKey
	}

	switch p.TypeDescKey {
	case "goal":
		occ.Participants = players(d.ScoringPlayerID, d.Assist1PlayerID, d.Assist2PlayerID)
		occ.Attributes["strength"] = strength(p.SituationCode, d.EventOwnerTeamID == homeID)
		if emptyNet(p.SituationCode, d.EventOwnerTeamID == homeID) {
			occ.Attributes["empty_net"] = "true"
		}
		setAttr(occ.Attributes, "shot_type", d.ShotType)
	case "penalty":
		occ.Participants = players(d.CommittedByPlayerID)
		if len(occ.Participants) == 0 {
			occ.Participants = players(d.ServedByPlayerID)
		}
		setAttr(occ.Attributes, "description", strings.ReplaceAll(d.DescKey, "-", " "))
		setAttr(occ.Attributes, "severity", d.TypeCode)
		if d.Duration > 0 {
			occ.Attributes["duration"] = strconv.Itoa(d.Duration)
		}
		if d.DrawnByPlayerID != 0 {
			occ.Attributes["drawn_by"] = playerID(d.DrawnByPlayerID)
		}
	case "shot-on-goal", "missed-shot", "blocked-shot":
		occ.Participants = players(d.ShootingPlayerID, d.GoalieInNetID)
		occ.Attributes["result"] = p.TypeDescKey
		setAttr(occ.Attributes, "shot_type", d.ShotType)
	case "hit":
		occ.Participants = players(d.HittingPlayerID, d.HitteePlayerID)
	case "faceoff":
		occ.Participants = players(d.WinningPlayerID, d.LosingPlayerID)
	case "takeaway", "giveaway":
		occ.Participants = players(d.PlayerID)
	case "stoppage":
		setAttr(occ.Attributes, "reason", d.Reason)
		setAttr(occ.Attributes, "secondary_reason", d.SecondaryReason)
		if strings.HasPrefix(d.Reason, "chlg") || strings.HasPrefix(d.SecondaryReason, "chlg") {
			occ.Kind = game.KindChallenge
		}
	}

	if occ.Period.Type == game.PeriodShootout {
		switch occ.Kind {
		case game.KindGoal, game.KindShot:
			occ.Attributes["result"] = p.TypeDescKey
			occ.Kind = game.KindShootoutAttempt
		}
	}

	if len(occ.Attributes) == 0 {
		occ.Attributes = nil
	}
	return occ
}

func setAttr(attrs map[string]string, key, value string) {
	if value != "" {
		attrs[key] = value
	}
}

// situation splits a situation code "1551" into away goalie, away skaters,
// home skaters and home goalie.
func situation(code string) (awayGoalie, awaySkaters, homeSkaters, homeGoalie int, ok bool) {
	if len(code) != 4 {
		return 0, 0, 0, 0, false
	}
	var digits [4]int
	for i, r := range code {
		if r < '0' || r > '9' {
			return 0, 0, 0, 0, false
		}
		digits[i] = int(r - '0')
	}
	return digits[0], digits[1], digits[2], digits[3], true
}

// strength returns "pp", "sh" or "ev" from the scoring team's view.
func strength(code string, home bool) string {
	_, awaySk, homeSk, _, ok := situation(code)
	if !ok {
		return "ev"
	}
	own, opp := awaySk, homeSk
	if home {
		own, opp = homeSk, awaySk
	}
	switch {
	case own > opp:
		return "pp"
	case own < opp:
		return "sh"
	}
	return "ev"
}

// emptyNet reports whether the opposing goalie was off the ice.
func emptyNet(code string, home bool) bool {
	awayG, _, _, homeG, ok := situation(code)
	if !ok {
		return false
	}
	if home {
		return awayG == 0
	}
	return homeG == 0
}

// parseMMSS parses "12:34" into a duration.
func parseMMSS(s string) time.Duration {
	mm, ss, ok := strings.Cut(s, ":")
	if !ok {
		return 0
	}
	m, err1 := strconv.Atoi(mm)
	sec, err2 := strconv.Atoi(ss)
	if err1 != nil || err2 != nil {
		return 0
	}
	return time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}
