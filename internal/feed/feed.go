// Package feed fetches game snapshots from upstream sources.
//
// The NHL client reads the public api-web play-by-play document; Replay
// serves previously recorded documents from disk for offline runs.
package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
)

// Client fetches the current snapshot of a game. Implementations must be
// safe for concurrent use.
type Client interface {
	Fetch(ctx context.Context, gameID string) (*game.Snapshot, error)
}

// ErrorKind tells whether retrying a fetch can help.
type ErrorKind int

const (
	Transient ErrorKind = iota
	Permanent
)

func (k ErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// FetchError is a failed fetch.
type FetchError struct {
	GameID     string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching game %s (%s, status %d): %v", e.GameID, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetching game %s (%s): %v", e.GameID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a permanent fetch failure.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == Permanent
}
