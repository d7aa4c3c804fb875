package tracker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/hockeygamebot/internal/dedup"
	"github.com/pfrederiksen/hockeygamebot/internal/dispatch"
	"github.com/pfrederiksen/hockeygamebot/internal/feed"
	"github.com/pfrederiksen/hockeygamebot/internal/game"
	"github.com/pfrederiksen/hockeygamebot/internal/logger"
	"github.com/pfrederiksen/hockeygamebot/internal/state"
	"github.com/pfrederiksen/hockeygamebot/internal/storage"
)

// step is one scripted feed response.
type step struct {
	snap *game.Snapshot
	err  error
}

// scriptedFeed replays steps per game and repeats the last one.
type scriptedFeed struct {
	mu    sync.Mutex
	steps map[string][]step
	calls map[string]int
}

func newScriptedFeed() *scriptedFeed {
	return &scriptedFeed{steps: make(map[string][]step), calls: make(map[string]int)}
}

func (f *scriptedFeed) script(gameID string, steps ...step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[gameID] = append(f.steps[gameID], steps...)
}

func (f *scriptedFeed) Fetch(_ context.Context, gameID string) (*game.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	steps := f.steps[gameID]
	i := f.calls[gameID]
	f.calls[gameID]++
	if len(steps) == 0 {
		return nil, &feed.FetchError{GameID: gameID, Kind: feed.Permanent, Err: errors.New("unknown game")}
	}
	if i >= len(steps) {
		i = len(steps) - 1
	}
	if steps[i].err != nil {
		return nil, steps[i].err
	}
	return steps[i].snap.Clone(), nil
}

func (f *scriptedFeed) Calls(gameID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[gameID]
}

// recorder is a Dispatcher that remembers what it was given.
type recorder struct {
	mu       sync.Mutex
	events   []dedup.Emission
	failKeys map[string]bool
}

func (r *recorder) Dispatch(_ context.Context, e dedup.Emission) (dispatch.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failKeys[e.Key] {
		return dispatch.Result{}, &dispatch.RenderError{Emission: e, Err: errors.New("template broke")}
	}
	r.events = append(r.events, e)
	return dispatch.Result{}, nil
}

func (r *recorder) types() []dedup.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]dedup.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) count(t dedup.EventType) int {
	n := 0
	for _, et := range r.types() {
		if et == t {
			n++
		}
	}
	return n
}

var transientErr = &feed.FetchError{GameID: "1", Kind: feed.Transient, StatusCode: 503, Err: errors.New("unavailable")}

func fastOptions() Options {
	return Options{
		Policy: state.Policy{
			PreviewInterval:      time.Millisecond,
			PregameInterval:      time.Millisecond,
			LiveInterval:         time.Millisecond,
			IntermissionInterval: time.Millisecond,
			FinalInterval:        time.Millisecond,
			FinalGrace:           0,
		},
		InitialBackoff:          time.Millisecond,
		MaxBackoff:              2 * time.Millisecond,
		RetractionConfirmations: 2,
	}
}

func goal(team string, secs int, scorer string, assists ...string) game.Occurrence {
	return game.Occurrence{
		Kind:         game.KindGoal,
		UpstreamID:   "ev-" + scorer,
		Period:       game.Period{Number: 1, Type: game.PeriodRegulation},
		TimeInPeriod: time.Duration(secs) * time.Second,
		Team:         team,
		Participants: append([]string{scorer}, assists...),
		Attributes:   map[string]string{"strength": "ev"},
	}
}

func snapshot(status game.Status, period int, occs ...game.Occurrence) *game.Snapshot {
	score := map[string]int{"NJD": 0, "NYR": 0}
	for _, o := range occs {
		if o.Kind == game.KindGoal {
			score[o.Team]++
		}
	}
	return &game.Snapshot{
		GameID: "1",
		Status: status,
		Period: game.Period{Number: period, Type: game.PeriodRegulation},
		Teams: game.Teams{
			Home: game.Team{ID: "1", Abbrev: "NJD"},
			Away: game.Team{ID: "3", Abbrev: "NYR"},
		},
		Score:       score,
		Occurrences: occs,
	}
}

type fixture struct {
	feed  *scriptedFeed
	rec   *recorder
	store storage.Store
	board *Board
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return &fixture{
		feed:  newScriptedFeed(),
		rec:   &recorder{failKeys: map[string]bool{}},
		store: store,
		board: NewBoard(),
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Feed:       f.feed,
		Store:      f.store,
		Dispatcher: f.rec,
		Board:      f.board,
		Log:        logger.New(logger.LevelError, io.Discard),
	}
}

func (f *fixture) run(t *testing.T, gameID string, opts Options) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return New(gameID, f.deps(), opts).Run(ctx)
}

func TestRun_FollowsGameToFinal(t *testing.T) {
	f := newFixture(t)
	g := goal("NJD", 754, "8478401", "8479407")
	f.feed.script("1",
		step{snap: snapshot(game.StatusPreview, 0)},
		step{snap: snapshot(game.StatusLive, 1)},
		step{snap: snapshot(game.StatusLive, 1, g)},
		step{snap: snapshot(game.StatusIntermission, 1, g)},
		step{snap: snapshot(game.StatusEnd, 3, g)},
		step{snap: snapshot(game.StatusFinal, 3, g)},
	)

	require.NoError(t, f.run(t, "1", fastOptions()))

	assert.Equal(t, 1, f.rec.count(dedup.EventNewOccurrence))
	assert.Equal(t, 4, f.rec.count(dedup.EventStatusChanged), "live, intermission, end, final")
	assert.Equal(t, 6, f.feed.Calls("1"))

	_, err := f.store.Load(context.Background(), "1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "finished games are archived")

	st, ok := f.board.Get("1")
	require.True(t, ok)
	assert.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, game.StatusFinal, st.Game.Status)
}

func TestRun_PermanentFetchErrorEndsTracker(t *testing.T) {
	f := newFixture(t)
	f.feed.script("1",
		step{snap: snapshot(game.StatusLive, 1)},
		step{err: &feed.FetchError{GameID: "1", Kind: feed.Permanent, StatusCode: 404, Err: errors.New("not found")}},
	)

	err := f.run(t, "1", fastOptions())
	require.Error(t, err)
	assert.True(t, feed.IsPermanent(err))

	// The state from the accepted cycle survives.
	gs, err := f.store.Load(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, game.StatusLive, gs.Status)

	st, _ := f.board.Get("1")
	assert.Equal(t, PhaseFailed, st.Phase)
	assert.Contains(t, st.LastError, "not found")
}

func TestRun_TransientErrorsBackOffAndRecover(t *testing.T) {
	f := newFixture(t)
	g := goal("NJD", 754, "8478401")
	f.feed.script("1",
		step{snap: snapshot(game.StatusLive, 1)},
		step{err: transientErr},
		step{err: transientErr},
		step{err: transientErr},
		step{snap: snapshot(game.StatusLive, 1, g)},
		step{snap: snapshot(game.StatusFinal, 3, g)},
	)

	require.NoError(t, f.run(t, "1", fastOptions()))
	assert.Equal(t, 6, f.feed.Calls("1"))
	assert.Equal(t, 1, f.rec.count(dedup.EventNewOccurrence))
}

func TestRun_FetchErrorLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.feed.script("1",
		step{snap: snapshot(game.StatusLive, 1)},
		step{err: transientErr},
	)

	opts := fastOptions()
	opts.MaxCycles = 4
	require.NoError(t, f.run(t, "1", opts))

	gs, err := f.store.Load(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, game.StatusLive, gs.Status)
	assert.Equal(t, 1, gs.LastAccepted.Period.Number)

	st, _ := f.board.Get("1")
	assert.Equal(t, 1, st.Cycles, "only the successful fetch counts as a cycle")
}

func TestRun_StopsBetweenCycles(t *testing.T) {
	f := newFixture(t)
	f.feed.script("1", step{snap: snapshot(game.StatusLive, 1)})

	opts := fastOptions()
	opts.Policy.LiveInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New("1", f.deps(), opts).Run(ctx) }()

	require.Eventually(t, func() bool {
		st, ok := f.board.Get("1")
		return ok && st.Cycles == 1
	}, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop")
	}

	gs, err := f.store.Load(context.Background(), "1")
	require.NoError(t, err, "state persisted before stopping")
	assert.Equal(t, game.StatusLive, gs.Status)
	st, _ := f.board.Get("1")
	assert.Equal(t, PhaseStopped, st.Phase)
}

func TestRun_RestartDoesNotReemit(t *testing.T) {
	f := newFixture(t)
	g1 := goal("NJD", 754, "8478401")
	g2 := goal("NYR", 900, "8470000")

	f.feed.script("1",
		step{snap: snapshot(game.StatusLive, 1, g1)},
	)
	opts := fastOptions()
	opts.MaxCycles = 2
	require.NoError(t, f.run(t, "1", opts))
	require.Equal(t, 1, f.rec.count(dedup.EventNewOccurrence))

	// A new process picks the game up from the store.
	f.feed.script("1", step{snap: snapshot(game.StatusLive, 1, g1, g2)})
	f.feed.calls["1"] = 1
	require.NoError(t, f.run(t, "1", opts))

	assert.Equal(t, 2, f.rec.count(dedup.EventNewOccurrence), "only the second goal is new")
	assert.Equal(t, 1, f.rec.count(dedup.EventStatusChanged), "live is announced once")
}

func TestRun_RenderFailureSkipsEvent(t *testing.T) {
	f := newFixture(t)
	g := goal("NJD", 754, "8478401")
	f.feed.script("1",
		step{snap: snapshot(game.StatusLive, 1)},
		step{snap: snapshot(game.StatusLive, 1, g)},
		step{snap: snapshot(game.StatusFinal, 3, g)},
	)

	// Plan the goal once to learn its key.
	planner := New("1", Deps{Log: logger.New(logger.LevelError, io.Discard)}, fastOptions())
	gs := state.New("1")
	live := snapshot(game.StatusLive, 1)
	planner.machine.Apply(gs, live, game.Diff(nil, live), time.Now())
	withGoal := snapshot(game.StatusLive, 1, g)
	out := planner.machine.Apply(gs, withGoal, game.Diff(gs.LastAccepted, withGoal), time.Now())
	planned := planner.dedup.Process(gs, out)
	require.Len(t, planned, 1)
	f.rec.failKeys[planned[0].Key] = true

	require.NoError(t, f.run(t, "1", fastOptions()))

	assert.Equal(t, 0, f.rec.count(dedup.EventNewOccurrence))
	assert.Equal(t, 2, f.rec.count(dedup.EventStatusChanged), "later events still flow")

	st, _ := f.board.Get("1")
	assert.False(t, st.Game.HasEmitted(planned[0].Fingerprint))
}

func TestRun_AnomalyIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.feed.script("1",
		step{snap: snapshot(game.StatusIntermission, 2)},
		step{snap: snapshot(game.StatusPreview, 0)},
		step{snap: snapshot(game.StatusLive, 1)},
		step{snap: snapshot(game.StatusFinal, 3)},
	)

	require.NoError(t, f.run(t, "1", fastOptions()))
	// The preview and period 1 snapshots are both rejected.
	assert.Equal(t, []dedup.EventType{
		dedup.EventPeriodChanged,
		dedup.EventStatusChanged, // preview -> intermission
		dedup.EventPeriodChanged,
		dedup.EventStatusChanged, // intermission -> final
	}, f.rec.types())
}

func TestSupervisor_IsolatesFailures(t *testing.T) {
	f := newFixture(t)
	g := goal("NJD", 754, "8478401")
	f.feed.script("1",
		step{snap: snapshot(game.StatusLive, 1, g)},
		step{snap: snapshot(game.StatusFinal, 3, g)},
	)
	// Game 2 has no script and fails permanently.

	sup := NewSupervisor(f.deps(), fastOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := sup.Run(ctx, []string{"1", "2", "1"})
	require.Error(t, err)
	assert.True(t, feed.IsPermanent(err))
	assert.Contains(t, err.Error(), "game 2")

	assert.Equal(t, 1, f.rec.count(dedup.EventNewOccurrence))

	statuses := f.board.List()
	require.Len(t, statuses, 2)
	assert.Equal(t, PhaseDone, statuses[0].Phase)
	assert.Equal(t, PhaseFailed, statuses[1].Phase)
}

func TestSupervisor_StopsAllGames(t *testing.T) {
	f := newFixture(t)
	f.feed.script("1", step{snap: snapshot(game.StatusLive, 1)})
	f.feed.script("2", step{snap: snapshot(game.StatusLive, 1)})

	opts := fastOptions()
	opts.Policy.LiveInterval = time.Hour
	sup := NewSupervisor(f.deps(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx, []string{"1", "2"}) }()

	require.Eventually(t, func() bool {
		a, _ := f.board.Get("1")
		b, _ := f.board.Get("2")
		return a.Cycles == 1 && b.Cycles == 1
	}, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}
