package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erg0nix/palaver/internal/config"
	"github.com/erg0nix/palaver/internal/core"
	"github.com/erg0nix/palaver/internal/engine"
	"github.com/erg0nix/palaver/internal/history"
	"github.com/erg0nix/palaver/internal/metrics"
	"github.com/erg0nix/palaver/internal/postgres"
	"github.com/erg0nix/palaver/internal/provider"
	"github.com/erg0nix/palaver/internal/session"
	"github.com/erg0nix/palaver/internal/tokens"
)

// Services holds everything the bot needs, wired from one config.
type Services struct {
	History  history.Store
	Sessions *session.Machine
	Engine   *engine.Engine
	Metrics  *metrics.Metrics

	pool *pgxpool.Pool
}

func NewServices(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*Services, error) {
	estimator, err := tokens.New(cfg.TokenEstimator, tokens.DefaultCharsPerToken)
	if err != nil {
		return nil, err
	}

	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	machine := session.NewMachine(stores.States, stores.History)
	if m != nil {
		machine.OnTransition = func(_ core.SessionKey, _, to session.State) {
			m.SessionTransitions.WithLabelValues(to.String()).Inc()
		}
	}

	client := provider.NewOpenAIClient(provider.ConfigFrom(cfg.Completion), cfg.Debug)

	eng := engine.New(
		engine.Config{
			SystemPrompt:      cfg.Completion.SystemPrompt,
			TokenBudget:       cfg.TokenBudget,
			CompletionTimeout: cfg.Completion.Timeout(),
		},
		engine.Deps{
			Estimator: estimator,
			History:   stores.History,
			Completer: client,
			Sessions:  machine,
			Metrics:   m,
			TurnLock:  stores.TurnLock,
		},
	)

	return &Services{
		History:  stores.History,
		Sessions: machine,
		Engine:   eng,
		Metrics:  m,
		pool:     stores.pool,
	}, nil
}

func (s *Services) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Stores are the persistence backends selected by config.
type Stores struct {
	History history.Store
	States  session.StateStore
	// TurnLock is set for shared backends where several processes may serve
	// the same users.
	TurnLock engine.TurnLocker

	pool *pgxpool.Pool
}

// OpenStores builds the configured history and session backends, connecting
// to Postgres and migrating its schema when either one needs it.
func OpenStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	stores := &Stores{}

	if cfg.History.Backend == "postgres" || cfg.Sessions.Backend == "postgres" {
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		stores.pool = pool
	}

	switch cfg.History.Backend {
	case "memory":
		stores.History = history.NewMemoryStore()
	case "file":
		stores.History = history.NewFileStore(cfg.HistoryDir())
	case "postgres":
		pgHistory := history.NewPostgresStore(stores.pool)
		stores.History = pgHistory
		stores.TurnLock = pgHistory
	default:
		stores.Close()
		return nil, fmt.Errorf("unknown history backend %q", cfg.History.Backend)
	}

	switch cfg.Sessions.Backend {
	case "memory":
		stores.States = session.NewMemoryStateStore()
	case "postgres":
		stores.States = session.NewPostgresStateStore(stores.pool)
	default:
		stores.Close()
		return nil, fmt.Errorf("unknown sessions backend %q", cfg.Sessions.Backend)
	}

	return stores, nil
}

func (s *Stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
