package tracker

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pfrederiksen/hockeygamebot/internal/logger"
)

// Supervisor runs one tracker per game.
type Supervisor struct {
	deps Deps
	opts Options
	log  *logger.Logger

	// MaxGames bounds how many games are tracked at once. Zero means no
	// limit.
	MaxGames int
}

// NewSupervisor creates a supervisor whose trackers share deps.
func NewSupervisor(deps Deps, opts Options) *Supervisor {
	log := deps.Log
	if log == nil {
		log = logger.Default()
	}
	return &Supervisor{deps: deps, opts: opts, log: log}
}

// Run tracks every game in gameIDs and waits for all of them. Games do not
// share cancellation: a permanent failure of one is logged and reported in
// the returned error while the others keep running. Cancelling ctx stops
// all of them between cycles.
func (s *Supervisor) Run(ctx context.Context, gameIDs []string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if s.MaxGames > 0 {
		g.SetLimit(s.MaxGames)
	}

	seen := make(map[string]bool, len(gameIDs))
	for _, id := range gameIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		s.deps.Board.update(id, func(*Status) {})

		t := New(id, s.deps, s.opts)
		g.Go(func() error {
			if err := t.Run(ctx); err != nil {
				s.log.Error("Tracker stopped with error", logger.Fields{"game_id": t.GameID()}, err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}
