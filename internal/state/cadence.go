package state

import (
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
)

// Policy decides how long to wait between polls in each status.
type Policy struct {
	PreviewInterval      time.Duration `json:"preview_interval"`
	PregameInterval      time.Duration `json:"pregame_interval"`
	LiveInterval         time.Duration `json:"live_interval"`
	IntermissionInterval time.Duration `json:"intermission_interval"`
	FinalInterval        time.Duration `json:"final_interval"`

	// FinalGrace is how long a final game keeps being polled for
	// late corrections before it is archived.
	FinalGrace time.Duration `json:"final_grace"`
}

// DefaultPolicy returns the intervals used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		PreviewInterval:      30 * time.Minute,
		PregameInterval:      time.Minute,
		LiveInterval:         10 * time.Second,
		IntermissionInterval: 60 * time.Second,
		FinalInterval:        60 * time.Second,
		FinalGrace:           10 * time.Minute,
	}
}

// Interval returns the wait before the next poll of gs. A zero interval
// means the game is done and should be archived.
func (p Policy) Interval(gs *GameState, now time.Time) time.Duration {
	snap := gs.LastAccepted

	switch gs.Status {
	case game.StatusLive, game.StatusEnd:
		return p.LiveInterval

	case game.StatusIntermission:
		interval := p.IntermissionInterval
		if snap != nil && snap.Clock.IntermissionRemaining > 0 && snap.Clock.IntermissionRemaining < interval {
			interval = snap.Clock.IntermissionRemaining
		}
		if interval < p.LiveInterval {
			interval = p.LiveInterval
		}
		return interval

	case game.StatusFinal:
		if gs.Done(now, p.FinalGrace) {
			return 0
		}
		return p.FinalInterval

	default:
		if snap == nil || snap.StartTime.IsZero() {
			return p.PreviewInterval
		}
		until := snap.StartTime.Sub(now)
		if until <= 0 {
			return p.PregameInterval
		}
		return clamp(until/2, p.PregameInterval, p.PreviewInterval)
	}
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
