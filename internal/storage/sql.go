package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/pfrederiksen/hockeygamebot/internal/state"
)

const schema = `CREATE TABLE IF NOT EXISTS game_states (
	game_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	state      TEXT NOT NULL,
	archived   INTEGER NOT NULL DEFAULT 0,
	updated_at BIGINT NOT NULL
)`

// SQLStore keeps game records in a game_states table.
type SQLStore struct {
	sqlDB  *sql.DB
	driver string
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// OpenSQL opens a store. driver is "sqlite" (dsn is a file path or
// ":memory:") or "postgres" (dsn is a connection URL).
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("storage dsn is required")
	}

	switch driver {
	case "sqlite":
		if dsn != ":memory:" {
			dsn = filepath.Clean(dsn) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
		}
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if driver == "sqlite" {
		// One connection keeps :memory: databases shared and avoids
		// writer contention.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLStore{sqlDB: sqlDB, driver: driver}, nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// rebind rewrites ? placeholders as $1, $2... for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, gameID string) (*state.GameState, error) {
	var data string
	err := s.sqlDB.QueryRowContext(ctx,
		s.rebind(`SELECT state FROM game_states WHERE game_id = ? AND archived = 0`),
		gameID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query game state: %w", err)
	}

	var gs state.GameState
	if err := json.Unmarshal([]byte(data), &gs); err != nil {
		return nil, fmt.Errorf("parsing game state: %w", err)
	}
	return &gs, nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, gs *state.GameState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(gs.GameID) == "" {
		return fmt.Errorf("game id is required")
	}

	data, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("encoding game state: %w", err)
	}
	updatedAt := gs.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.sqlDB.ExecContext(ctx, s.rebind(
		`INSERT INTO game_states (game_id, status, state, archived, updated_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT (game_id) DO UPDATE SET
		   status = excluded.status,
		   state = excluded.state,
		   archived = 0,
		   updated_at = excluded.updated_at`),
		gs.GameID,
		string(gs.Status),
		string(data),
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("save game state: %w", err)
	}
	return nil
}

// Archive implements Store.
func (s *SQLStore) Archive(ctx context.Context, gameID string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		s.rebind(`UPDATE game_states SET archived = 1 WHERE game_id = ? AND archived = 0`),
		gameID,
	)
	if err != nil {
		return fmt.Errorf("archive game state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive game state: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT game_id FROM game_states WHERE archived = 0 ORDER BY game_id`)
	if err != nil {
		return nil, fmt.Errorf("list game states: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan game id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list game states: %w", err)
	}
	return ids, nil
}
