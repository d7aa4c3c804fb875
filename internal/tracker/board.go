package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/state"
)

// Phase is the lifecycle phase of a tracker.
type Phase string

const (
	PhaseStarting Phase = "starting"
	PhaseTracking Phase = "tracking"
	PhaseBackoff  Phase = "backoff"
	PhaseDone     Phase = "done"
	PhaseStopped  Phase = "stopped"
	PhaseFailed   Phase = "failed"
)

// Status is a read-only view of one tracker.
type Status struct {
	GameID    string           `json:"game_id"`
	Phase     Phase            `json:"phase"`
	Game      *state.GameState `json:"game,omitempty"`
	Cycles    int              `json:"cycles"`
	Emitted   int              `json:"emitted"`
	LastError string           `json:"last_error,omitempty"`
	NextPoll  time.Time        `json:"next_poll,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Board collects the status of every tracker in the process. Trackers write
// copies of their state to it, so readers never see a GameState that is
// being mutated.
type Board struct {
	mu     sync.RWMutex
	status map[string]Status
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{status: make(map[string]Status)}
}

func (b *Board) update(gameID string, fn func(*Status)) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.status[gameID]
	if !ok {
		s = Status{GameID: gameID, Phase: PhaseStarting}
	}
	fn(&s)
	s.UpdatedAt = time.Now().UTC()
	b.status[gameID] = s
}

// Get returns the status of one game.
func (b *Board) Get(gameID string) (Status, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.status[gameID]
	return s, ok
}

// List returns all statuses ordered by game id.
func (b *Board) List() []Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Status, 0, len(b.status))
	for _, s := range b.status {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}
