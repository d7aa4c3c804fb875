package state

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
	"github.com/pfrederiksen/hockeygamebot/internal/logger"
)

var now = time.Date(2025, 10, 9, 23, 30, 0, 0, time.UTC)

func newTestMachine() (*Machine, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewMachine(logger.New(logger.LevelDebug, &buf)), &buf
}

func goal(team string, period int, at time.Duration, participants ...string) game.Occurrence {
	return game.Occurrence{
		Kind:         game.KindGoal,
		Period:       game.Period{Number: period, Type: game.PeriodRegulation},
		TimeInPeriod: at,
		Team:         team,
		Participants: participants,
	}
}

func snapshot(status game.Status, period int, score map[string]int, occs ...game.Occurrence) *game.Snapshot {
	return &game.Snapshot{
		GameID:      "2025020001",
		Status:      status,
		Period:      game.Period{Number: period, Type: game.PeriodRegulation},
		Score:       score,
		Occurrences: occs,
	}
}

func apply(m *Machine, gs *GameState, snap *game.Snapshot) Outcome {
	return m.Apply(gs, snap, game.Diff(gs.LastAccepted, snap), now)
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from, to game.Status
		ok       bool
	}{
		{game.StatusNotStarted, game.StatusPreview, true},
		{game.StatusPreview, game.StatusLive, true},
		{game.StatusPreview, game.StatusFinal, true},
		{game.StatusLive, game.StatusIntermission, true},
		{game.StatusIntermission, game.StatusLive, true},
		{game.StatusLive, game.StatusEnd, true},
		{game.StatusEnd, game.StatusFinal, true},
		{game.StatusLive, game.StatusLive, true},
		{game.StatusFinal, game.StatusLive, false},
		{game.StatusEnd, game.StatusLive, false},
		{game.StatusLive, game.StatusPreview, false},
		{game.StatusIntermission, game.StatusPreview, false},
		{game.StatusFinal, game.StatusEnd, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, ok := Transition(tt.from, tt.to)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.to, got)
			} else {
				assert.Equal(t, tt.from, got, "rejected transition must keep the current status")
			}
		})
	}
}

func TestMachine_Apply_EntersLive(t *testing.T) {
	m, _ := newTestMachine()
	gs := New("2025020001")

	snap := snapshot(game.StatusLive, 1, map[string]int{"NJD": 1, "NYR": 0},
		goal("NJD", 1, 12*time.Minute+34*time.Second, "8478401"))
	out := apply(m, gs, snap)

	require.True(t, out.Accepted)
	require.NotNil(t, out.Change)
	assert.Equal(t, StatusChange{From: game.StatusPreview, To: game.StatusLive}, *out.Change)
	assert.Equal(t, game.StatusLive, gs.Status)
	assert.Same(t, snap, gs.LastAccepted)
	assert.Len(t, out.Deltas.Occurrences, 1)
	assert.NoError(t, out.Anomaly)
}

// Live -> Final -> Live: the second flip is rejected and the game stays final.
func TestMachine_Apply_RejectsRegression(t *testing.T) {
	m, logs := newTestMachine()
	gs := New("2025020001")
	score := map[string]int{"NJD": 3, "NYR": 2}

	apply(m, gs, snapshot(game.StatusLive, 3, score))
	out := apply(m, gs, snapshot(game.StatusFinal, 3, score))
	require.NotNil(t, out.Change)
	assert.Equal(t, game.StatusFinal, gs.Status)
	assert.Equal(t, now, gs.FinalAt)

	accepted := gs.LastAccepted
	out = apply(m, gs, snapshot(game.StatusLive, 3, score))

	assert.False(t, out.Accepted)
	assert.Nil(t, out.Change)
	assert.True(t, errors.Is(out.Anomaly, ErrFeedAnomaly))
	assert.Equal(t, game.StatusFinal, gs.Status)
	assert.Same(t, accepted, gs.LastAccepted)
	assert.Contains(t, logs.String(), "Feed anomaly")
}

func TestMachine_Apply_RejectsPeriodRegression(t *testing.T) {
	m, _ := newTestMachine()
	gs := New("2025020001")
	score := map[string]int{"NJD": 0, "NYR": 0}

	apply(m, gs, snapshot(game.StatusLive, 2, score))
	out := apply(m, gs, snapshot(game.StatusLive, 1, score))

	assert.False(t, out.Accepted)
	assert.ErrorIs(t, out.Anomaly, ErrFeedAnomaly)
	assert.Equal(t, 2, gs.LastAccepted.Period.Number)
}

func TestMachine_Apply_CorrectionWindow(t *testing.T) {
	m, _ := newTestMachine()
	gs := New("2025020001")
	first := goal("NJD", 3, 5*time.Minute, "8478401")

	apply(m, gs, snapshot(game.StatusFinal, 3, map[string]int{"NJD": 1, "NYR": 0}, first))
	require.Equal(t, game.StatusFinal, gs.Status)

	corrected := goal("NJD", 3, 5*time.Minute, "8478401", "8479407")
	late := snapshot(game.StatusLive, 3, map[string]int{"NJD": 1, "NYR": 0}, corrected)
	late.CorrectionWindow = true
	out := apply(m, gs, late)

	require.True(t, out.Accepted)
	assert.ErrorIs(t, out.Anomaly, ErrFeedAnomaly)
	assert.Nil(t, out.Change)
	assert.Equal(t, game.StatusFinal, gs.Status)
	assert.Equal(t, game.StatusFinal, gs.LastAccepted.Status, "stored status is pinned")
	assert.Nil(t, out.Deltas.Status, "pinned status produces no status delta")
	require.Len(t, out.Deltas.Occurrences, 1)
	assert.Equal(t, game.DeltaChanged, out.Deltas.Occurrences[0].Type)
	assert.Equal(t, game.StatusLive, late.Status, "offered snapshot is not modified")
}

func TestMachine_Apply_InvariantViolation(t *testing.T) {
	m, logs := newTestMachine()
	gs := New("2025020001")

	apply(m, gs, snapshot(game.StatusLive, 1, map[string]int{"NJD": 1, "NYR": 0},
		goal("NJD", 1, time.Minute, "8478401")))

	// Score drops while the goal is still listed.
	out := apply(m, gs, snapshot(game.StatusLive, 1, map[string]int{"NJD": 0, "NYR": 0},
		goal("NJD", 1, time.Minute, "8478401")))

	assert.True(t, out.Accepted, "violations never block acceptance")
	require.Len(t, out.Violations, 1)
	assert.ErrorIs(t, out.Violations[0], ErrInvariantViolation)
	assert.Equal(t, 0, gs.LastAccepted.Score["NJD"])
	assert.Contains(t, logs.String(), "Invariant violation")
}

func TestMachine_Apply_ScoreDropWithRemovedGoal(t *testing.T) {
	m, _ := newTestMachine()
	gs := New("2025020001")

	apply(m, gs, snapshot(game.StatusLive, 1, map[string]int{"NJD": 1, "NYR": 0},
		goal("NJD", 1, time.Minute, "8478401")))
	out := apply(m, gs, snapshot(game.StatusLive, 1, map[string]int{"NJD": 0, "NYR": 0}))

	assert.True(t, out.Accepted)
	assert.Empty(t, out.Violations)
}

func TestMachine_Apply_NeverAppliesIllegalTransition(t *testing.T) {
	m, _ := newTestMachine()
	gs := New("2025020001")
	score := map[string]int{}

	sequence := []game.Status{
		game.StatusLive, game.StatusPreview, game.StatusIntermission, game.StatusLive,
		game.StatusEnd, game.StatusIntermission, game.StatusFinal, game.StatusLive, game.StatusEnd,
	}
	for _, status := range sequence {
		before := gs.Status
		out := apply(m, gs, snapshot(status, 1, score))
		_, legal := Transition(before, status)

		assert.Equal(t, legal, out.Accepted, "%s -> %s", before, status)
		if !legal {
			assert.Equal(t, before, gs.Status)
		}
	}
	assert.Equal(t, game.StatusFinal, gs.Status)
}
