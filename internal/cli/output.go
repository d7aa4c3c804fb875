package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
	"github.com/pfrederiksen/hockeygamebot/internal/state"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// ParseFormat validates an output format name.
func ParseFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(s))
	if format != FormatText && format != FormatJSON {
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", s)
	}
	return format, nil
}

// EmittedOccurrence is one dispatched occurrence of a game.
type EmittedOccurrence struct {
	Fingerprint game.Fingerprint `json:"fingerprint"`
	Hash        string           `json:"hash"`
	Retracted   bool             `json:"retracted,omitempty"`
	Kind        game.Kind        `json:"kind,omitempty"`
	Team        string           `json:"team,omitempty"`
	Period      game.Period      `json:"period"`
	Time        string           `json:"time,omitempty"`

	parsed bool
	at     time.Duration
}

// OutputResult contains data to be output
type OutputResult struct {
	GameID             string                   `json:"game_id"`
	Status             game.Status              `json:"status"`
	Period             game.Period              `json:"period"`
	Score              map[string]int           `json:"score,omitempty"`
	PollInterval       string                   `json:"poll_interval,omitempty"`
	UpdatedAt          time.Time                `json:"updated_at"`
	FinalAt            *time.Time               `json:"final_at,omitempty"`
	Emitted            []EmittedOccurrence      `json:"emitted"`
	EmittedCount       int                      `json:"emitted_count"`
	PendingRetractions map[game.Fingerprint]int `json:"pending_retractions,omitempty"`

	// Replay only.
	Documents  int `json:"documents,omitempty"`
	Dispatched int `json:"dispatched,omitempty"`
}

// NewOutputResult summarises a game record.
func NewOutputResult(gs *state.GameState, order SortOrder) *OutputResult {
	result := &OutputResult{
		GameID:             gs.GameID,
		Status:             gs.Status,
		UpdatedAt:          gs.UpdatedAt,
		Emitted:            make([]EmittedOccurrence, 0, len(gs.Emitted)),
		PendingRetractions: gs.PendingRetractions,
	}
	if gs.PollInterval > 0 {
		result.PollInterval = gs.PollInterval.String()
	}
	if !gs.FinalAt.IsZero() {
		finalAt := gs.FinalAt
		result.FinalAt = &finalAt
	}
	if snap := gs.LastAccepted; snap != nil {
		result.Period = snap.Period
		result.Score = snap.Score
	}

	for _, fp := range gs.Fingerprints() {
		item := EmittedOccurrence{
			Fingerprint: fp,
			Hash:        gs.EmittedHash(fp),
		}
		item.Retracted = item.Hash == state.RetractedHash
		if occ, ok := game.ParseFingerprint(fp); ok {
			item.parsed = true
			item.at = occ.TimeInPeriod
			item.Kind = occ.Kind
			item.Team = occ.Team
			item.Period = occ.Period
			item.Time = clock(occ.TimeInPeriod)
		}
		result.Emitted = append(result.Emitted, item)
	}
	sortEmitted(result.Emitted, order)
	result.EmittedCount = len(result.Emitted)

	return result
}

func clock(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// WriteOutput writes the result in the specified format
func WriteOutput(w io.Writer, result *OutputResult, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, result)
	case FormatText:
		return writeText(w, result, verbose)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// writeJSON outputs results as JSON
func writeJSON(w io.Writer, result *OutputResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// writeText outputs results as human-readable text
func writeText(w io.Writer, result *OutputResult, verbose bool) error {
	fmt.Fprintf(w, "Game %s: %s", result.GameID, result.Status)
	if result.Period.Started() {
		fmt.Fprintf(w, " (period %d", result.Period.Number)
		if result.Period.Type != "" && result.Period.Type != game.PeriodRegulation {
			fmt.Fprintf(w, ", %s", result.Period.Type)
		}
		fmt.Fprint(w, ")")
	}
	fmt.Fprintln(w)

	if len(result.Score) > 0 {
		teams := make([]string, 0, len(result.Score))
		for team := range result.Score {
			teams = append(teams, team)
		}
		sort.Strings(teams)

		parts := make([]string, 0, len(teams))
		for _, team := range teams {
			parts = append(parts, fmt.Sprintf("%s %d", team, result.Score[team]))
		}
		fmt.Fprintf(w, "Score: %s\n", strings.Join(parts, ", "))
	}

	if result.Documents > 0 {
		fmt.Fprintf(w, "Replayed %d documents, %d events dispatched\n", result.Documents, result.Dispatched)
	}

	if result.EmittedCount == 0 {
		fmt.Fprintln(w, "No occurrences emitted.")
		return nil
	}

	fmt.Fprintf(w, "\nEmitted (%d):\n", result.EmittedCount)
	for _, item := range result.Emitted {
		mark := ""
		if item.Retracted {
			mark = " [retracted]"
		}
		if item.parsed {
			fmt.Fprintf(w, "  P%d %s  %-16s %s%s\n", item.Period.Number, item.Time, item.Kind, item.Team, mark)
		} else {
			fmt.Fprintf(w, "  %s%s\n", item.Fingerprint, mark)
		}
		if verbose {
			fmt.Fprintf(w, "       Fingerprint: %s\n", item.Fingerprint)
			fmt.Fprintf(w, "       Hash: %s\n", item.Hash)
		}
	}

	if verbose {
		if len(result.PendingRetractions) > 0 {
			fps := make([]string, 0, len(result.PendingRetractions))
			for fp := range result.PendingRetractions {
				fps = append(fps, string(fp))
			}
			sort.Strings(fps)
			fmt.Fprintln(w, "\nPending retractions:")
			for _, fp := range fps {
				fmt.Fprintf(w, "  %s (missing %d)\n", fp, result.PendingRetractions[game.Fingerprint(fp)])
			}
		}
		if result.PollInterval != "" {
			fmt.Fprintf(w, "\nPoll interval: %s\n", result.PollInterval)
		}
		fmt.Fprintf(w, "Updated: %s\n", result.UpdatedAt.Format(time.RFC3339))
	}

	fmt.Fprintf(w, "\nTotal: %d emitted\n", result.EmittedCount)
	return nil
}
