package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erg0nix/palaver/internal/core"
)

// PostgresStateStore shares session states between bot instances through the
// session_states table.
type PostgresStateStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStateStore(pool *pgxpool.Pool) *PostgresStateStore {
	return &PostgresStateStore{pool: pool}
}

func (s *PostgresStateStore) Get(ctx context.Context, key core.SessionKey) (State, error) {
	query := `SELECT in_session FROM session_states WHERE user_id = $1 AND chat_id = $2`

	var inSession bool
	err := s.pool.QueryRow(ctx, query, int64(key.User), int64(key.Chat)).Scan(&inSession)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NoSession, nil
		}
		return NoSession, fmt.Errorf("read session state: %w", err)
	}

	if inSession {
		return InSession, nil
	}
	return NoSession, nil
}

func (s *PostgresStateStore) Set(ctx context.Context, key core.SessionKey, state State) error {
	query := `
		INSERT INTO session_states (user_id, chat_id, in_session, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, chat_id)
		DO UPDATE SET in_session = EXCLUDED.in_session, updated_at = now()`

	if _, err := s.pool.Exec(ctx, query, int64(key.User), int64(key.Chat), state == InSession); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}
