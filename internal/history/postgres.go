package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erg0nix/palaver/internal/core"
)

// Advisory lock keys. Turn and save locks live in separate namespaces so a save
// inside a held turn lock never waits on itself.
const (
	turnLockKey = `hashtextextended('palaver.turn.' || $1::bigint::text, 0)`
	saveLockKey = `hashtextextended('palaver.history.' || $1::bigint::text, 0)`
)

// PostgresStore keeps transcripts in the conversation_turns table. Save replaces a
// user's rows in one transaction under a per-user advisory lock. LockTurn holds a
// session-level advisory lock so several bot instances sharing the database run
// one turn per user at a time.
type PostgresStore struct {
	pool *pgxpool.Pool
	// turnSlots caps connections pinned by held turn locks so Load and Save
	// always find a free connection.
	turnSlots chan struct{}
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	slots := int(pool.Config().MaxConns) / 2
	if slots < 1 {
		slots = 1
	}
	return &PostgresStore{pool: pool, turnSlots: make(chan struct{}, slots)}
}

// LockTurn blocks until no other process holds the turn lock for user. The
// returned func releases it and is safe to call more than once.
func (s *PostgresStore) LockTurn(ctx context.Context, user core.UserID) (func(), error) {
	select {
	case s.turnSlots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		<-s.turnSlots
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(`+turnLockKey+`)`, int64(user)); err != nil {
		conn.Release()
		<-s.turnSlots
		return nil, fmt.Errorf("lock turn: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock(`+turnLockKey+`)`, int64(user)); err != nil {
				slog.Warn("failed to release turn lock, dropping connection", "user", user, "error", err)
				// session locks end with the connection
				_ = conn.Conn().Close(unlockCtx)
			}
			conn.Release()
			<-s.turnSlots
		})
	}, nil
}

func (s *PostgresStore) Load(ctx context.Context, user core.UserID) ([]core.Turn, error) {
	query := `SELECT role, content FROM conversation_turns WHERE user_id = $1 ORDER BY position`

	rows, err := s.pool.Query(ctx, query, int64(user))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	turns := []core.Turn{}
	for rows.Next() {
		var (
			role    string
			content string
		)
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		turns = append(turns, core.Turn{Role: core.Role(role), Content: content})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return turns, nil
}

func (s *PostgresStore) Save(ctx context.Context, user core.UserID, turns []core.Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(`+saveLockKey+`)`, int64(user)); err != nil {
		return fmt.Errorf("lock history: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM conversation_turns WHERE user_id = $1`, int64(user)); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}

	if len(turns) > 0 {
		rows := make([][]any, 0, len(turns))
		for i, turn := range turns {
			rows = append(rows, []any{int64(user), i, string(turn.Role), turn.Content})
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"conversation_turns"},
			[]string{"user_id", "position", "role", "content"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}

	return nil
}
