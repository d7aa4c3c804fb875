package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pfrederiksen/hockeygamebot/internal/dedup"
	"github.com/pfrederiksen/hockeygamebot/internal/dispatch"
	"github.com/pfrederiksen/hockeygamebot/internal/feed"
	"github.com/pfrederiksen/hockeygamebot/internal/game"
	"github.com/pfrederiksen/hockeygamebot/internal/logger"
	"github.com/pfrederiksen/hockeygamebot/internal/state"
	"github.com/pfrederiksen/hockeygamebot/internal/storage"
)

const tracerName = "github.com/pfrederiksen/hockeygamebot/internal/tracker"

// Dispatcher hands planned emissions to the outside world.
type Dispatcher interface {
	Dispatch(ctx context.Context, e dedup.Emission) (dispatch.Result, error)
}

// Deps are the collaborators a tracker needs. Feed, Store and Dispatcher are
// shared between trackers and must be safe for concurrent use.
type Deps struct {
	Feed       feed.Client
	Store      storage.Store
	Dispatcher Dispatcher
	Board      *Board
	Log        *logger.Logger
}

// Options tune a tracker.
type Options struct {
	Policy state.Policy

	// InitialBackoff and MaxBackoff bound the wait after a failed fetch.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	RetractionConfirmations int

	// MaxCycles stops the tracker after that many fetches. Zero means no
	// limit.
	MaxCycles int
}

// DefaultOptions returns the options used for live tracking.
func DefaultOptions() Options {
	return Options{
		Policy:                  state.DefaultPolicy(),
		InitialBackoff:          2 * time.Second,
		MaxBackoff:              2 * time.Minute,
		RetractionConfirmations: dedup.DefaultRetractionConfirmations,
	}
}

// Tracker polls one game until it is over.
type Tracker struct {
	gameID string
	deps   Deps
	opts   Options

	machine *state.Machine
	dedup   *dedup.Deduplicator
	log     *logger.Logger
	metrics *logger.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates a tracker for gameID.
func New(gameID string, deps Deps, opts Options) *Tracker {
	log := deps.Log
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Fields{"game_id": gameID})

	d := dedup.New(log)
	if opts.RetractionConfirmations > 0 {
		d.RetractionConfirmations = opts.RetractionConfirmations
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultOptions().InitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}

	return &Tracker{
		gameID:  gameID,
		deps:    deps,
		opts:    opts,
		machine: state.NewMachine(log),
		dedup:   d,
		log:     log,
		metrics: logger.DefaultMetrics(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

// GameID returns the tracked game.
func (t *Tracker) GameID() string {
	return t.gameID
}

// Run polls the game until it is final and its correction window is over,
// a permanent fetch error occurs, or ctx is cancelled. Cancellation is only
// observed between cycles and is not an error.
func (t *Tracker) Run(ctx context.Context) error {
	gs, err := t.restore(ctx)
	if err != nil {
		t.fail(err)
		return err
	}

	t.metrics.AddGauge("tracker.active", 1)
	defer t.metrics.AddGauge("tracker.active", -1)

	t.log.Info("Tracking game", logger.Fields{
		"status":  string(gs.Status),
		"emitted": len(gs.Emitted),
	})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.InitialBackoff
	b.MaxInterval = t.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	cycles := 0
	for {
		if ctx.Err() != nil {
			t.log.Info("Stop requested - tracker exiting", nil)
			t.deps.Board.update(t.gameID, func(s *Status) { s.Phase = PhaseStopped })
			return nil
		}

		// The cycle itself is never cancelled half way.
		wait, err := t.cycle(context.WithoutCancel(ctx), gs)
		cycles++

		switch {
		case err != nil && feed.IsPermanent(err):
			t.log.Error("Permanent fetch failure - giving up on game", nil, err)
			t.fail(err)
			return fmt.Errorf("tracking game %s: %w", t.gameID, err)

		case err != nil:
			if gs.Done(t.now(), t.opts.Policy.FinalGrace) {
				return t.finish(ctx, gs)
			}
			wait = b.NextBackOff()
			t.log.Warn("Fetch failed - backing off", logger.Fields{
				"error": err.Error(),
				"wait":  wait.String(),
			})
			t.deps.Board.update(t.gameID, func(s *Status) {
				s.Phase = PhaseBackoff
				s.LastError = err.Error()
				s.NextPoll = t.now().Add(wait)
			})

		case wait == 0:
			return t.finish(ctx, gs)

		default:
			b.Reset()
		}

		if t.opts.MaxCycles > 0 && cycles >= t.opts.MaxCycles {
			t.log.Info("Cycle limit reached - tracker exiting", logger.Fields{"cycles": cycles})
			t.deps.Board.update(t.gameID, func(s *Status) { s.Phase = PhaseStopped })
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// restore loads the persisted state of the game, or starts a new one.
func (t *Tracker) restore(ctx context.Context) (*state.GameState, error) {
	gs, err := t.deps.Store.Load(ctx, t.gameID)
	if errors.Is(err, storage.ErrNotFound) {
		return state.New(t.gameID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state of game %s: %w", t.gameID, err)
	}
	t.log.Info("Restored game state", logger.Fields{"updated_at": gs.UpdatedAt})
	return gs, nil
}

// cycle runs one fetch-to-persist step and returns the wait before the next
// one. A fetch error leaves gs untouched.
func (t *Tracker) cycle(ctx context.Context, gs *state.GameState) (time.Duration, error) {
	ctx, span := t.tracer.Start(ctx, "tracker.cycle", trace.WithAttributes(
		attribute.String("game.id", t.gameID),
	))
	defer span.End()

	t.metrics.IncrCounter("tracker.cycles")

	snap, err := t.deps.Feed.Fetch(ctx, t.gameID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return 0, err
	}

	now := t.now()
	out := t.machine.Apply(gs, snap, game.Diff(gs.LastAccepted, snap), now)
	if out.Anomaly != nil {
		t.metrics.IncrCounter("tracker.anomalies")
		span.AddEvent("feed anomaly", trace.WithAttributes(attribute.String("anomaly", out.Anomaly.Error())))
	}

	emissions := t.dedup.Process(gs, out)
	handedOff := 0
	for _, e := range emissions {
		if _, err := t.deps.Dispatcher.Dispatch(ctx, e); err != nil {
			// Not handed off: the emission is skipped and stays unrecorded.
			t.log.Warn("Event skipped", logger.Fields{
				"event": string(e.Type),
				"key":   e.Key,
				"error": err.Error(),
			})
			continue
		}
		t.dedup.Commit(gs, e)
		handedOff++
	}

	wait := t.opts.Policy.Interval(gs, now)
	gs.PollInterval = wait

	if err := t.deps.Store.Save(ctx, gs); err != nil {
		t.log.Error("Failed to persist game state", nil, err)
		span.RecordError(err)
	}

	span.SetAttributes(
		attribute.String("game.status", string(gs.Status)),
		attribute.Bool("snapshot.accepted", out.Accepted),
		attribute.Int("emissions", handedOff),
	)

	view := gs.Clone()
	t.deps.Board.update(t.gameID, func(s *Status) {
		s.Phase = PhaseTracking
		s.Game = view
		s.Cycles++
		s.Emitted += handedOff
		s.LastError = ""
		s.NextPoll = now.Add(wait)
	})

	t.log.Debug("Cycle complete", logger.Fields{
		"status":    string(gs.Status),
		"accepted":  out.Accepted,
		"emissions": handedOff,
		"wait":      wait.String(),
	})
	return wait, nil
}

// finish archives a game whose correction window is over.
func (t *Tracker) finish(ctx context.Context, gs *state.GameState) error {
	ctx = context.WithoutCancel(ctx)
	if err := t.deps.Store.Save(ctx, gs); err != nil {
		t.log.Error("Failed to persist game state", nil, err)
	}
	if err := t.deps.Store.Archive(ctx, t.gameID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		t.log.Error("Failed to archive game state", nil, err)
	}

	t.log.Info("Game finished - state archived", logger.Fields{"emitted": len(gs.Emitted)})
	t.deps.Board.update(t.gameID, func(s *Status) {
		s.Phase = PhaseDone
		s.Game = gs.Clone()
		s.NextPoll = time.Time{}
	})
	return nil
}

func (t *Tracker) fail(err error) {
	t.deps.Board.update(t.gameID, func(s *Status) {
		s.Phase = PhaseFailed
		s.LastError = err.Error()
		s.NextPoll = time.Time{}
	})
}
