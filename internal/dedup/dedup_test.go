package dedup

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
	"github.com/pfrederiksen/hockeygamebot/internal/logger"
	"github.com/pfrederiksen/hockeygamebot/internal/state"
)

var now = time.Date(2025, 10, 9, 23, 30, 0, 0, time.UTC)

type harness struct {
	machine *state.Machine
	dedup   *Deduplicator
	gs      *state.GameState
}

func newHarness() *harness {
	log := logger.New(logger.LevelError, io.Discard)
	return &harness{
		machine: state.NewMachine(log),
		dedup:   New(log),
		gs:      state.New("2025020001"),
	}
}

// cycle runs one accepted poll cycle and commits every emission.
func (h *harness) cycle(snap *game.Snapshot) []Emission {
	out := h.machine.Apply(h.gs, snap, game.Diff(h.gs.LastAccepted, snap), now)
	emissions := h.dedup.Process(h.gs, out)
	for _, e := range emissions {
		h.dedup.Commit(h.gs, e)
	}
	return emissions
}

func goal(team string, period int, at time.Duration, participants ...string) game.Occurrence {
	return game.Occurrence{
		Kind:         game.KindGoal,
		UpstreamID:   "id-" + participants[0],
		Period:       game.Period{Number: period, Type: game.PeriodRegulation},
		TimeInPeriod: at,
		Team:         team,
		Participants: participants,
		Attributes:   map[string]string{"strength": "ev"},
	}
}

func live(period int, occs ...game.Occurrence) *game.Snapshot {
	score := map[string]int{"NJD": 0, "NYR": 0}
	for _, o := range occs {
		if o.Kind == game.KindGoal {
			score[o.Team]++
		}
	}
	return &game.Snapshot{
		GameID:      "2025020001",
		Status:      game.StatusLive,
		Period:      game.Period{Number: period, Type: game.PeriodRegulation},
		Score:       score,
		Occurrences: occs,
	}
}

func types(emissions []Emission) []EventType {
	out := make([]EventType, len(emissions))
	for i, e := range emissions {
		out[i] = e.Type
	}
	return out
}

func countType(emissions []Emission, t EventType) int {
	n := 0
	for _, e := range emissions {
		if e.Type == t {
			n++
		}
	}
	return n
}

func TestProcess_FirstLiveSnapshot(t *testing.T) {
	h := newHarness()
	at := 12*time.Minute + 34*time.Second

	emissions := h.cycle(live(1, goal("NJD", 1, at, "8478401")))

	require.Equal(t, []EventType{EventStatusChanged, EventPeriodChanged, EventNewOccurrence}, types(emissions))
	assert.Equal(t, game.StatusPreview, emissions[0].Status.From)
	assert.Equal(t, game.StatusLive, emissions[0].Status.To)
	assert.Equal(t, game.Fingerprint("goal|NJD|1|REG|754"), emissions[2].Fingerprint)
	assert.NotNil(t, emissions[2].Snapshot)
	assert.True(t, h.gs.HasEmitted("goal|NJD|1|REG|754"))
}

func TestProcess_AddedAssistIsOneCorrection(t *testing.T) {
	h := newHarness()
	at := 12*time.Minute + 34*time.Second

	h.cycle(live(1, goal("NJD", 1, at, "8478401", "8479407")))
	emissions := h.cycle(live(1, goal("NJD", 1, at, "8478401", "8479407", "8480002")))

	require.Len(t, emissions, 1)
	e := emissions[0]
	assert.Equal(t, EventOccurrenceCorrected, e.Type)
	assert.Equal(t, []string{"8480002"}, e.Correction.ParticipantsAdded)
	assert.Empty(t, e.Correction.ParticipantsRemoved)
	assert.False(t, e.Reinstated)
	require.NotNil(t, e.Previous)
	assert.Len(t, e.Previous.Participants, 2)

	// Same corrected payload again: nothing.
	assert.Empty(t, h.cycle(live(1, goal("NJD", 1, at, "8478401", "8479407", "8480002"))))
}

func TestProcess_AtMostOnceNewOccurrence(t *testing.T) {
	h := newHarness()
	g := goal("NJD", 1, time.Minute, "8478401")

	var all []Emission
	for i := 0; i < 5; i++ {
		renumbered := g
		renumbered.UpstreamID = "renumbered-" + string(rune('a'+i))
		all = append(all, h.cycle(live(1, renumbered))...)
	}

	assert.Equal(t, 1, countType(all, EventNewOccurrence))
	assert.Equal(t, 1, countType(all, EventStatusChanged))
}

func TestProcess_CorrectionsPrecedeNewOccurrences(t *testing.T) {
	h := newHarness()
	first := goal("NJD", 1, 5*time.Minute, "8478401")
	h.cycle(live(1, first))

	corrected := goal("NJD", 1, 5*time.Minute, "8478402")
	later := goal("NYR", 1, 9*time.Minute, "8470000")
	earlier := goal("NYR", 1, 7*time.Minute, "8470001")
	emissions := h.cycle(live(1, later, corrected, earlier))

	require.Equal(t, []EventType{EventOccurrenceCorrected, EventNewOccurrence, EventNewOccurrence}, types(emissions))
	assert.Equal(t, 7*time.Minute, emissions[1].Occurrence.TimeInPeriod)
	assert.Equal(t, 9*time.Minute, emissions[2].Occurrence.TimeInPeriod)
	assert.Equal(t, []string{"8478402"}, emissions[0].Correction.ParticipantsAdded)
	assert.Equal(t, []string{"8478401"}, emissions[0].Correction.ParticipantsRemoved)
}

func TestProcess_ClosingStatusAfterOccurrences(t *testing.T) {
	h := newHarness()
	h.cycle(live(1))

	snap := live(1, goal("NJD", 1, 19*time.Minute, "8478401"))
	snap.Status = game.StatusIntermission
	emissions := h.cycle(snap)

	assert.Equal(t, []EventType{EventNewOccurrence, EventStatusChanged}, types(emissions))
}

func TestProcess_RetractionNeedsConfirmations(t *testing.T) {
	h := newHarness()
	h.dedup.RetractionConfirmations = 3
	g := goal("NJD", 1, time.Minute, "8478401")
	fp := game.Fingerprint("goal|NJD|1|REG|60")

	h.cycle(live(1, g))

	assert.Empty(t, h.cycle(live(1)))
	assert.Equal(t, 1, h.gs.PendingRetractions[fp])
	assert.Empty(t, h.cycle(live(1)))
	assert.Equal(t, 2, h.gs.PendingRetractions[fp])

	emissions := h.cycle(live(1))
	require.Equal(t, []EventType{EventOccurrenceRetracted}, types(emissions))
	assert.Equal(t, fp, emissions[0].Fingerprint)
	assert.Equal(t, game.KindGoal, emissions[0].Occurrence.Kind)
	assert.Equal(t, state.RetractedHash, h.gs.EmittedHash(fp))
	assert.NotContains(t, h.gs.PendingRetractions, fp)

	// Nothing more while it stays gone.
	assert.Empty(t, h.cycle(live(1)))

	// Back in the feed: reinstated, never a second NewOccurrence.
	emissions = h.cycle(live(1, g))
	require.Equal(t, []EventType{EventOccurrenceCorrected}, types(emissions))
	assert.True(t, emissions[0].Reinstated)
	assert.Equal(t, g.ContentHash(), h.gs.EmittedHash(fp))
}

func TestProcess_FlickerClearsPendingRetraction(t *testing.T) {
	h := newHarness()
	g := goal("NJD", 1, time.Minute, "8478401")

	h.cycle(live(1, g))
	h.cycle(live(1))
	require.Len(t, h.gs.PendingRetractions, 1)

	assert.Empty(t, h.cycle(live(1, g)))
	assert.Empty(t, h.gs.PendingRetractions)
}

func TestProcess_RejectedOutcomeEmitsNothing(t *testing.T) {
	h := newHarness()
	h.cycle(live(1))

	final := live(1)
	final.Status = game.StatusFinal
	require.Len(t, h.cycle(final), 1)

	assert.Empty(t, h.cycle(live(1, goal("NJD", 1, time.Minute, "8478401"))))
	assert.Equal(t, game.StatusFinal, h.gs.Status)
}

func TestProcess_PlanningDoesNotRecord(t *testing.T) {
	h := newHarness()
	g := goal("NJD", 1, time.Minute, "8478401")

	out := h.machine.Apply(h.gs, live(1, g), game.Diff(h.gs.LastAccepted, live(1, g)), now)
	planned := h.dedup.Process(h.gs, out)
	require.Equal(t, 1, countType(planned, EventNewOccurrence))
	assert.False(t, h.gs.HasEmitted("goal|NJD|1|REG|60"), "planning alone does not record")

	// A skipped emission is not planned again for an unchanged feed.
	assert.Empty(t, h.cycle(live(1, g)))
	assert.False(t, h.gs.HasEmitted("goal|NJD|1|REG|60"))
}

func TestProcess_ReturnAfterGapDiffsAgainstAnnounced(t *testing.T) {
	h := newHarness()
	at := 4 * time.Minute

	h.cycle(live(1, goal("NJD", 1, at, "8478401", "8479407")))
	require.Empty(t, h.cycle(live(1)))

	emissions := h.cycle(live(1, goal("NJD", 1, at, "8478401", "8479407", "8480002")))

	require.Equal(t, []EventType{EventOccurrenceCorrected}, types(emissions))
	e := emissions[0]
	assert.False(t, e.Reinstated)
	require.NotNil(t, e.Previous)
	assert.Equal(t, []string{"8478401", "8479407"}, e.Previous.Participants)
	require.NotNil(t, e.Correction)
	assert.Equal(t, []string{"8480002"}, e.Correction.ParticipantsAdded)
	assert.Empty(t, h.gs.PendingRetractions)
}

func TestProcess_RetractionCarriesAnnouncedOccurrence(t *testing.T) {
	h := newHarness()
	h.dedup.RetractionConfirmations = 2
	g := goal("NJD", 1, time.Minute, "8478401", "8479407")

	h.cycle(live(1, g))
	h.cycle(live(1))

	// The record survives a restart.
	data, err := json.Marshal(h.gs)
	require.NoError(t, err)
	restored := &state.GameState{}
	require.NoError(t, json.Unmarshal(data, restored))
	h.gs = restored

	emissions := h.cycle(live(1))
	require.Equal(t, []EventType{EventOccurrenceRetracted}, types(emissions))
	assert.Equal(t, []string{"8478401", "8479407"}, emissions[0].Occurrence.Participants)
	assert.Equal(t, "ev", emissions[0].Occurrence.Attributes["strength"])

	announced, ok := h.gs.AnnouncedOccurrence(emissions[0].Fingerprint)
	require.True(t, ok)
	assert.Equal(t, []string{"8478401", "8479407"}, announced.Participants)
}

func TestProcess_CoincidentPenaltiesReordered(t *testing.T) {
	h := newHarness()
	penalty := func(player, desc string) game.Occurrence {
		return game.Occurrence{
			Kind:         game.KindPenalty,
			UpstreamID:   "pen-" + player,
			Period:       game.Period{Number: 1, Type: game.PeriodRegulation},
			TimeInPeriod: time.Minute,
			Team:         "NJD",
			Participants: []string{player},
			Attributes:   map[string]string{"description": desc, "duration": "2"},
		}
	}
	a := penalty("8478401", "tripping")
	b := penalty("8479407", "roughing")

	require.Equal(t, 2, countType(h.cycle(live(1, a, b)), EventNewOccurrence))
	assert.Empty(t, h.cycle(live(1, b, a)))
	assert.Len(t, h.gs.Emitted, 2)
}

func TestProcess_MinuteWarningOncePerPeriod(t *testing.T) {
	h := newHarness()
	at := func(period int, left time.Duration) *game.Snapshot {
		snap := live(period)
		snap.Clock = game.Clock{Remaining: left, Running: true}
		return snap
	}

	h.cycle(at(1, 5*time.Minute))

	emissions := h.cycle(at(1, 62*time.Second))
	require.Equal(t, []EventType{EventMinuteRemaining}, types(emissions))
	assert.Equal(t, 1, emissions[0].Period.To.Number)
	assert.True(t, h.gs.MinuteWarningSent(game.Period{Number: 1, Type: game.PeriodRegulation}))

	assert.Empty(t, h.cycle(at(1, 55*time.Second)))
	assert.Empty(t, h.cycle(at(1, 20*time.Second)))

	// Next period, across a restart in the middle of its window.
	require.Equal(t, []EventType{EventPeriodChanged}, types(h.cycle(at(2, 20*time.Minute))))
	require.Equal(t, []EventType{EventMinuteRemaining}, types(h.cycle(at(2, 64*time.Second))))

	data, err := json.Marshal(h.gs)
	require.NoError(t, err)
	restored := &state.GameState{}
	require.NoError(t, json.Unmarshal(data, restored))
	h.gs = restored

	assert.Empty(t, h.cycle(at(2, 51*time.Second)))
}

func TestProcess_MinuteWarningSkipsLateStart(t *testing.T) {
	h := newHarness()
	snap := live(3)
	snap.Clock = game.Clock{Remaining: 40 * time.Second, Running: true}

	assert.Zero(t, countType(h.cycle(snap), EventMinuteRemaining))

	intermission := live(3)
	intermission.Status = game.StatusIntermission
	intermission.Clock = game.Clock{Remaining: time.Minute}
	assert.Zero(t, countType(h.cycle(intermission), EventMinuteRemaining))
}

func TestProcess_KeysAreDeterministic(t *testing.T) {
	a, b := newHarness(), newHarness()
	g := goal("NJD", 1, time.Minute, "8478401")

	ea := a.cycle(live(1, g))
	eb := b.cycle(live(1, g))

	require.Equal(t, len(ea), len(eb))
	for i := range ea {
		assert.Equal(t, ea[i].Key, eb[i].Key)
		assert.NotEmpty(t, ea[i].Key)
	}
	assert.NotEqual(t, ea[0].Key, ea[1].Key)
}

func TestProcess_RestartSafety(t *testing.T) {
	g1 := goal("NJD", 1, time.Minute, "8478401")
	g2 := goal("NYR", 1, 3*time.Minute, "8470000")
	g1b := goal("NJD", 1, time.Minute, "8478401", "8479407")

	uninterrupted := newHarness()
	uninterrupted.cycle(live(1, g1))
	want := uninterrupted.cycle(live(1, g1b, g2))

	restarted := newHarness()
	restarted.cycle(live(1, g1))
	data, err := json.Marshal(restarted.gs)
	require.NoError(t, err)

	restored := &state.GameState{}
	require.NoError(t, json.Unmarshal(data, restored))
	restarted.gs = restored
	got := restarted.cycle(live(1, g1b, g2))

	require.Equal(t, types(want), types(got))
	for i := range want {
		assert.Equal(t, want[i].Key, got[i].Key)
		assert.Equal(t, want[i].Fingerprint, got[i].Fingerprint)
	}
}

func TestProcess_RosterChanges(t *testing.T) {
	h := newHarness()
	first := live(1)
	first.Participants = map[string][]string{"NJD": {"1", "2"}}
	h.cycle(first)

	next := live(1)
	next.Participants = map[string][]string{"NJD": {"1", "3"}}
	emissions := h.cycle(next)

	require.Equal(t, []EventType{EventRosterChanged}, types(emissions))
	assert.Equal(t, []string{"3"}, emissions[0].Roster.Added)
	assert.Equal(t, []string{"2"}, emissions[0].Roster.Removed)
}

func TestDiffOccurrence(t *testing.T) {
	old := game.Occurrence{Participants: []string{"a", "b", "c"}, Attributes: map[string]string{"strength": "ev", "shot": "wrist"}}

	reordered := game.Occurrence{Participants: []string{"a", "c", "b"}, Attributes: map[string]string{"strength": "ev", "shot": "wrist"}}
	c := diffOccurrence(old, reordered)
	assert.True(t, c.Reordered)
	assert.Empty(t, c.ParticipantsAdded)

	attrs := game.Occurrence{Participants: []string{"a", "b", "c"}, Attributes: map[string]string{"strength": "pp", "empty_net": "true"}}
	c = diffOccurrence(old, attrs)
	assert.Equal(t, map[string]AttributeChange{
		"strength":  {Old: "ev", New: "pp"},
		"empty_net": {New: "true"},
		"shot":      {Old: "wrist"},
	}, c.Attributes)
}
