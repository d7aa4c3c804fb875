package feed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pfrederiksen/hockeygamebot/internal/game"
)

// Replay serves recorded play-by-play documents from a directory, one per
// fetch, in file name order. Once the last document has been served it is
// served again on every later fetch.
type Replay struct {
	mu     sync.Mutex
	files  []string
	next   int
	served int
}

// NewReplay lists the *.json documents in dir.
func NewReplay(dir string) (*Replay, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading replay directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .json documents in %s", dir)
	}
	sort.Strings(files)

	return &Replay{files: files}, nil
}

// Len returns the number of recorded documents.
func (r *Replay) Len() int {
	return len(r.files)
}

// Exhausted reports whether every document has been served at least once.
func (r *Replay) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.served >= len(r.files)
}

// Fetch implements Client. The game id in the document wins over gameID.
func (r *Replay) Fetch(ctx context.Context, gameID string) (*game.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{GameID: gameID, Kind: Transient, Err: err}
	}

	r.mu.Lock()
	path := r.files[r.next]
	if r.next < len(r.files)-1 {
		r.next++
	}
	r.served++
	r.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &FetchError{GameID: gameID, Kind: Permanent, Err: fmt.Errorf("reading %s: %w", path, err)}
	}

	snap, err := ParsePlayByPlay(data, time.Now().UTC())
	if err != nil {
		return nil, &FetchError{GameID: gameID, Kind: Permanent, Err: fmt.Errorf("%s: %w", filepath.Base(path), err)}
	}
	if snap.GameID == "0" {
		snap.GameID = gameID
	}
	return snap, nil
}
