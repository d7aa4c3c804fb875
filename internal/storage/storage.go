package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pfrederiksen/hockeygamebot/internal/state"
)

// ErrNotFound is returned by Load when no record exists for a game.
var ErrNotFound = errors.New("game state not found")

// Store persists GameState records. Implementations must be safe for
// concurrent use by trackers of different games.
type Store interface {
	Load(ctx context.Context, gameID string) (*state.GameState, error)
	Save(ctx context.Context, gs *state.GameState) error
	// Archive marks a finished game. Archived games are not returned by
	// Load or List.
	Archive(ctx context.Context, gameID string) error
	// List returns the ids of active games, sorted.
	List(ctx context.Context) ([]string, error)
}

// FileStore stores each game as game_<id>.json in a data directory.
type FileStore struct {
	dataDir string
}

// NewFileStore creates a file store, creating dataDir if needed. A leading
// ~/ is expanded to the home directory.
func NewFileStore(dataDir string) (*FileStore, error) {
	if strings.HasPrefix(dataDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, dataDir[2:])
	}

	if err := os.MkdirAll(filepath.Join(dataDir, "archive"), 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// Dir returns the data directory.
func (s *FileStore) Dir() string {
	return s.dataDir
}

func (s *FileStore) path(gameID string) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("game_%s.json", gameID))
}

func (s *FileStore) archivePath(gameID string) string {
	return filepath.Join(s.dataDir, "archive", fmt.Sprintf("game_%s.json", gameID))
}

func validID(gameID string) error {
	if gameID == "" || strings.ContainsAny(gameID, `/\.`) {
		return fmt.Errorf("invalid game id: %q", gameID)
	}
	return nil
}

// Load reads a game's record.
func (s *FileStore) Load(_ context.Context, gameID string) (*state.GameState, error) {
	if err := validID(gameID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(gameID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading game state: %w", err)
	}

	var gs state.GameState
	if err := json.Unmarshal(data, &gs); err != nil {
		return nil, fmt.Errorf("parsing game state: %w", err)
	}
	return &gs, nil
}

// Save writes a game's record. The file is replaced atomically.
func (s *FileStore) Save(_ context.Context, gs *state.GameState) error {
	if err := validID(gs.GameID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(gs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding game state: %w", err)
	}

	tmp, err := os.CreateTemp(s.dataDir, "game_*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing game state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing game state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(gs.GameID)); err != nil {
		return fmt.Errorf("replacing game state: %w", err)
	}
	return nil
}

// Archive moves a game's record into the archive directory.
func (s *FileStore) Archive(_ context.Context, gameID string) error {
	if err := validID(gameID); err != nil {
		return err
	}
	if err := os.Rename(s.path(gameID), s.archivePath(gameID)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("archiving game state: %w", err)
	}
	return nil
}

// List returns the ids of games with an active record.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dataDir, "game_*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing game states: %w", err)
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, "game_"), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
