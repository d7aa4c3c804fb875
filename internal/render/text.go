package render

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"

	"github.com/pfrederiksen/hockeygamebot/internal/dedup"
	"github.com/pfrederiksen/hockeygamebot/internal/game"
)

// Text renders emissions as short social-media style messages.
type Text struct {
	// Hashtags are appended to every message, e.g. "#NJDevils".
	Hashtags []string
}

// NewText creates a renderer that appends the given hashtags.
func NewText(hashtags ...string) *Text {
	return &Text{Hashtags: hashtags}
}

// Render implements the dispatcher's renderer contract.
func (r *Text) Render(e dedup.Emission) (Payload, error) {
	body, err := r.body(e)
	if err != nil {
		return Payload{}, err
	}

	var msg strings.Builder
	msg.WriteString(body)
	if len(r.Hashtags) > 0 {
		msg.WriteString("\n\n")
		msg.WriteString(html.EscapeString(strings.Join(r.Hashtags, " ")))
	}

	htmlText := msg.String()
	plain, err := PlainText(htmlText)
	if err != nil {
		return Payload{}, err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return Payload{}, fmt.Errorf("encoding emission: %w", err)
	}

	return Payload{
		Key:    e.Key,
		GameID: e.GameID,
		Event:  string(e.Type),
		Text:   plain,
		HTML:   htmlText,
		Data:   data,
	}, nil
}

// PlainText strips markup from a rendered HTML message.
func PlainText(htmlText string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return "", fmt.Errorf("parsing HTML: %w", err)
	}
	return strings.TrimSpace(doc.Text()), nil
}

func (r *Text) body(e dedup.Emission) (string, error) {
	switch e.Type {
	case dedup.EventNewOccurrence:
		return newOccurrence(e)
	case dedup.EventOccurrenceCorrected:
		return corrected(e)
	case dedup.EventOccurrenceRetracted:
		return retracted(e)
	case dedup.EventStatusChanged:
		return statusChanged(e)
	case dedup.EventPeriodChanged:
		return periodChanged(e)
	case dedup.EventMinuteRemaining:
		return fmt.Sprintf("⏱️ One minute remaining in the %s.", periodName(e.Period.To)), nil
	default:
		return "", ErrNothingToSay
	}
}

func newOccurrence(e dedup.Emission) (string, error) {
	occ := e.Occurrence
	snap := e.Snapshot
	var msg strings.Builder

	switch occ.Kind {
	case game.KindGoal:
		if occ.Period.Type == game.PeriodShootout {
			return "", ErrNothingToSay
		}
		msg.WriteString(fmt.Sprintf("🚨 <b>%s GOAL!</b>\n\n", esc(occ.Team)))
		if len(occ.Participants) > 0 {
			msg.WriteString(fmt.Sprintf("<b>%s</b> scores", esc(snap.Name(occ.Participants[0]))))
		} else {
			msg.WriteString("Goal")
		}
		if strength := occ.Attributes["strength"]; strength == "pp" || strength == "sh" {
			msg.WriteString(fmt.Sprintf(" (%s)", strings.ToUpper(strength)))
		}
		msg.WriteString(fmt.Sprintf(" at %s.\n", when(*occ)))
		if assists := names(snap, occ.Participants[min(1, len(occ.Participants)):]); len(assists) > 0 {
			msg.WriteString(fmt.Sprintf("🍎 %s\n", esc(strings.Join(assists, ", "))))
		}
		if line := scoreLine(snap); line != "" {
			msg.WriteString("\n" + line)
		}

	case game.KindPenalty:
		msg.WriteString(fmt.Sprintf("⚠️ <b>%s penalty</b>\n\n", esc(occ.Team)))
		if len(occ.Participants) > 0 {
			msg.WriteString(esc(snap.Name(occ.Participants[0])))
		} else {
			msg.WriteString("Bench")
		}
		if desc := occ.Attributes["description"]; desc != "" {
			msg.WriteString(" - " + esc(desc))
		}
		if mins := occ.Attributes["duration"]; mins != "" {
			msg.WriteString(fmt.Sprintf(" (%s min)", esc(mins)))
		}
		msg.WriteString(fmt.Sprintf(" at %s.", when(*occ)))

	case game.KindChallenge:
		msg.WriteString(fmt.Sprintf("🎥 <b>%s coach's challenge</b> at %s.", esc(occ.Team), when(*occ)))
		if reason := occ.Attributes["reason"]; reason != "" {
			msg.WriteString(" " + esc(reason))
		}

	default:
		return "", ErrNothingToSay
	}

	return msg.String(), nil
}

func corrected(e dedup.Emission) (string, error) {
	occ := e.Occurrence
	snap := e.Snapshot
	if occ.Kind != game.KindGoal && occ.Kind != game.KindPenalty {
		return "", ErrNothingToSay
	}

	if e.Reinstated {
		return fmt.Sprintf("✅ The %s %s at %s stands.", esc(occ.Team), occ.Kind, when(*occ)), nil
	}

	var msg strings.Builder
	if occ.Kind == game.KindGoal {
		msg.WriteString(fmt.Sprintf("📝 <b>Scoring change</b> on the %s goal at %s.\n\n", esc(occ.Team), when(*occ)))
		if len(occ.Participants) > 0 {
			msg.WriteString(fmt.Sprintf("Goal: <b>%s</b>\n", esc(snap.Name(occ.Participants[0]))))
		}
		assists := names(snap, occ.Participants[min(1, len(occ.Participants)):])
		if len(assists) > 0 {
			msg.WriteString(fmt.Sprintf("Assists: %s", esc(strings.Join(assists, ", "))))
		} else {
			msg.WriteString("Unassisted")
		}
		return strings.TrimRight(msg.String(), "\n"), nil
	}

	msg.WriteString(fmt.Sprintf("📝 <b>Update</b> to the %s penalty at %s", esc(occ.Team), when(*occ)))
	if desc := occ.Attributes["description"]; desc != "" {
		msg.WriteString(": " + esc(desc))
	}
	msg.WriteString(".")
	return msg.String(), nil
}

func retracted(e dedup.Emission) (string, error) {
	occ := e.Occurrence
	switch occ.Kind {
	case game.KindGoal:
		msg := fmt.Sprintf("❌ The %s goal at %s has been taken off the board.", esc(occ.Team), when(*occ))
		if line := scoreLine(e.Snapshot); line != "" {
			msg += "\n\n" + line
		}
		return msg, nil
	case game.KindPenalty:
		return fmt.Sprintf("❌ The %s penalty at %s has been rescinded.", esc(occ.Team), when(*occ)), nil
	}
	return "", ErrNothingToSay
}

func statusChanged(e dedup.Emission) (string, error) {
	snap := e.Snapshot
	if snap == nil {
		snap = &game.Snapshot{}
	}
	switch e.Status.To {
	case game.StatusLive:
		if e.Status.From != game.StatusPreview && e.Status.From != game.StatusNotStarted {
			return "", ErrNothingToSay
		}
		return fmt.Sprintf("🏒 <b>Puck drop!</b> %s is underway.", esc(matchup(snap))), nil

	case game.StatusIntermission:
		msg := fmt.Sprintf("⏸️ <b>End of the %s.</b>", periodName(snap.Period))
		if line := scoreLine(snap); line != "" {
			msg += "\n\n" + line
		}
		return msg, nil

	case game.StatusEnd, game.StatusFinal:
		if e.Status.To == game.StatusFinal && e.Status.From == game.StatusEnd {
			return "", ErrNothingToSay
		}
		msg := "🏁 <b>That's the game!</b>"
		if line := scoreLine(snap); line != "" {
			msg += "\n\n" + line
		}
		return msg, nil
	}
	return "", ErrNothingToSay
}

func periodChanged(e dedup.Emission) (string, error) {
	to := e.Period.To
	switch {
	case to.Type == game.PeriodShootout:
		return "🎯 <b>Shootout!</b>", nil
	case to.Number <= 1:
		return "", ErrNothingToSay
	default:
		return fmt.Sprintf("▶️ The <b>%s</b> is underway.", periodName(to)), nil
	}
}

func esc(s string) string {
	return html.EscapeString(s)
}

func names(snap *game.Snapshot, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, snap.Name(id))
	}
	return out
}

// periodName spells a period the way a broadcaster would.
func periodName(p game.Period) string {
	switch p.Type {
	case game.PeriodOvertime:
		if p.Number > 4 {
			return humanize.Ordinal(p.Number-3) + " overtime"
		}
		return "overtime"
	case game.PeriodShootout:
		return "shootout"
	default:
		return humanize.Ordinal(p.Number) + " period"
	}
}

// when formats the game time of an occurrence, e.g. "12:34 of the 1st period".
func when(occ game.Occurrence) string {
	total := int(occ.TimeInPeriod / time.Second)
	return fmt.Sprintf("%d:%02d of the %s", total/60, total%60, periodName(occ.Period))
}

func matchup(snap *game.Snapshot) string {
	if snap == nil {
		return "The game"
	}
	away, home := teamLabel(snap.Teams.Away), teamLabel(snap.Teams.Home)
	if away == "" || home == "" {
		return "The game"
	}
	return away + " at " + home
}

func teamLabel(t game.Team) string {
	if t.Name != "" {
		return t.Name
	}
	return t.Abbrev
}

// scoreLine renders "NYR 1 - 2 NJD" with the away team first. Without team
// metadata it falls back to the teams in the score map.
func scoreLine(snap *game.Snapshot) string {
	if snap == nil || len(snap.Score) == 0 {
		return ""
	}
	away, home := snap.Teams.Away.Abbrev, snap.Teams.Home.Abbrev
	if away == "" || home == "" {
		teams := snap.TeamAbbrevs()
		if len(teams) != 2 {
			return ""
		}
		away, home = teams[0], teams[1]
	}
	return fmt.Sprintf("%s %d - %d %s", esc(away), snap.Score[away], snap.Score[home], esc(home))
}
