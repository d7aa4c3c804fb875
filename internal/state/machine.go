package state

import (
	"fmt"
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
	"github.com/pfrederiksen/hockeygamebot/internal/logger"
)

// transitions lists, for each status, the statuses it may move to.
// Preview may jump ahead because tracking can start after puck drop.
var transitions = map[game.Status][]game.Status{
	game.StatusNotStarted:   {game.StatusPreview, game.StatusLive, game.StatusIntermission, game.StatusEnd, game.StatusFinal},
	game.StatusPreview:      {game.StatusLive, game.StatusIntermission, game.StatusEnd, game.StatusFinal},
	game.StatusLive:         {game.StatusIntermission, game.StatusEnd, game.StatusFinal},
	game.StatusIntermission: {game.StatusLive, game.StatusEnd, game.StatusFinal},
	game.StatusEnd:          {game.StatusFinal},
	game.StatusFinal:        {},
}

// Transition looks up from -> to in the transition table. Staying in the
// same status is always allowed.
func Transition(from, to game.Status) (game.Status, bool) {
	if from == to {
		return from, true
	}
	for _, next := range transitions[from] {
		if next == to {
			return to, true
		}
	}
	return from, false
}

// StatusChange is an applied status transition.
type StatusChange struct {
	From game.Status
	To   game.Status
}

// Outcome is the result of offering a snapshot to the machine.
type Outcome struct {
	// Accepted is false when the snapshot was rejected as an anomaly.
	Accepted bool

	// Change is set when the game status actually moved.
	Change *StatusChange

	// Deltas are the deltas to act on. They differ from the offered deltas
	// when a correction-window snapshot had its status or period pinned.
	Deltas *game.DeltaSet

	// Anomaly describes why the status or period was not applied.
	Anomaly error

	// Violations are consistency problems found in accepted data.
	Violations []error
}

// Machine applies snapshots to a GameState.
type Machine struct {
	log *logger.Logger
}

// NewMachine creates a machine that reports anomalies to log.
func NewMachine(log *logger.Logger) *Machine {
	if log == nil {
		log = logger.Default()
	}
	return &Machine{log: log}
}

// Apply offers a freshly fetched snapshot and the deltas against the last
// accepted snapshot. A snapshot that would regress the status or period is
// rejected and gs is left untouched, unless the feed flagged a correction
// window: then the occurrence data is accepted while status and period stay
// where they were.
func (m *Machine) Apply(gs *GameState, snap *game.Snapshot, deltas *game.DeltaSet, now time.Time) Outcome {
	out := Outcome{Deltas: deltas}
	fields := logger.Fields{"game_id": gs.GameID, "status": string(gs.Status)}

	target, ok := Transition(gs.Status, snap.Status)
	pinStatus := !ok
	if !ok {
		out.Anomaly = fmt.Errorf("%w: status %s -> %s", ErrFeedAnomaly, gs.Status, snap.Status)
	}

	pinPeriod := false
	if prev := gs.LastAccepted; prev != nil && snap.Period.Started() && snap.Period.Less(prev.Period) {
		pinPeriod = true
		if out.Anomaly == nil {
			out.Anomaly = fmt.Errorf("%w: period %d -> %d", ErrFeedAnomaly, prev.Period.Number, snap.Period.Number)
		}
	}

	if out.Anomaly != nil && !snap.CorrectionWindow {
		fields["feed_status"] = string(snap.Status)
		m.log.Warn("Feed anomaly - snapshot ignored", fields)
		return out
	}

	accepted := snap
	if pinStatus || pinPeriod {
		accepted = snap.Clone()
		if pinStatus {
			accepted.Status = gs.Status
		}
		if pinPeriod {
			accepted.Period = gs.LastAccepted.Period
		}
		m.log.Info("Correction window - applying occurrence data only", logger.Fields{
			"game_id": gs.GameID, "anomaly": out.Anomaly.Error(),
		})
		out.Deltas = game.Diff(gs.LastAccepted, accepted)
	}

	out.Violations = checkInvariants(out.Deltas)
	for _, v := range out.Violations {
		m.log.Warn("Invariant violation - accepting snapshot anyway", logger.Fields{
			"game_id": gs.GameID, "violation": v.Error(),
		})
	}

	if target != gs.Status && !pinStatus {
		out.Change = &StatusChange{From: gs.Status, To: target}
		gs.Status = target
		if target == game.StatusFinal {
			gs.FinalAt = now
		}
	}

	gs.LastAccepted = accepted
	gs.UpdatedAt = now
	out.Accepted = true
	return out
}

// checkInvariants flags a score that went down without a goal being removed
// for that team in the same snapshot.
func checkInvariants(deltas *game.DeltaSet) []error {
	if deltas == nil || deltas.Score == nil {
		return nil
	}

	removedGoals := make(map[string]int)
	for _, d := range deltas.Removed() {
		if occ := d.Occurrence(); occ.Kind == game.KindGoal {
			removedGoals[occ.Team]++
		}
	}

	var violations []error
	for _, team := range deltas.Score.Decreased() {
		drop := deltas.Score.From[team] - deltas.Score.To[team]
		if removedGoals[team] < drop {
			violations = append(violations, fmt.Errorf("%w: %s score %d -> %d without a retracted goal",
				ErrInvariantViolation, team, deltas.Score.From[team], deltas.Score.To[team]))
		}
	}
	return violations
}
