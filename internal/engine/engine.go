// Package engine runs a single conversation turn: admission, history load,
// completion and history save, serialized per user.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/erg0nix/palaver/internal/core"
	"github.com/erg0nix/palaver/internal/history"
	"github.com/erg0nix/palaver/internal/keylock"
	"github.com/erg0nix/palaver/internal/metrics"
	"github.com/erg0nix/palaver/internal/session"
	"github.com/erg0nix/palaver/internal/tokens"
)

// Completer produces the assistant reply for text given the prior history and
// returns history extended by the user and assistant turns.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, history []core.Turn, text string) (string, []core.Turn, error)
}

// Sessions is the lifecycle the engine delegates to.
type Sessions interface {
	Current(ctx context.Context, key core.SessionKey) (session.State, error)
	Start(ctx context.Context, key core.SessionKey) error
	End(ctx context.Context, key core.SessionKey) error
}

// TurnLocker serializes turns of one user across processes sharing a store.
type TurnLocker interface {
	LockTurn(ctx context.Context, user core.UserID) (func(), error)
}

type Config struct {
	SystemPrompt      string
	TokenBudget       int
	CompletionTimeout time.Duration
}

type Engine struct {
	cfg       Config
	estimator tokens.Estimator
	history   history.Store
	completer Completer
	sessions  Sessions
	metrics   *metrics.Metrics
	turnLock  TurnLocker
	users     keylock.Map[core.UserID]
}

type Deps struct {
	Estimator tokens.Estimator
	History   history.Store
	Completer Completer
	Sessions  Sessions
	// Metrics is optional.
	Metrics *metrics.Metrics
	// TurnLock is optional. Without it turns are serialized within this process only.
	TurnLock TurnLocker
}

func New(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:       cfg,
		estimator: deps.Estimator,
		history:   deps.History,
		completer: deps.Completer,
		sessions:  deps.Sessions,
		metrics:   deps.Metrics,
		turnLock:  deps.TurnLock,
	}
}

// HandleUserTurn runs one turn for a user whose session is active. Callers are
// responsible for checking the session state first.
func (e *Engine) HandleUserTurn(ctx context.Context, user core.UserID, chat core.ChatID, text string) Result {
	logger := slog.With("user", user, "chat", chat)

	result := e.handleUserTurn(ctx, logger, user, text)

	e.observeOutcome(result)

	switch result.Outcome {
	case Replied:
		if result.PersistErr != nil {
			logger.Error("reply delivered but history not saved", "error", result.PersistErr)
		} else {
			logger.Info("turn handled", "tokens", result.Tokens)
		}
	case Rejected:
		logger.Info("message rejected", "tokens", result.Tokens, "budget", e.cfg.TokenBudget)
	case Unavailable:
		logger.Warn("turn failed", "error", result.Cause)
	}

	return result
}

func (e *Engine) handleUserTurn(ctx context.Context, logger *slog.Logger, user core.UserID, text string) Result {
	estimated := e.estimator.Estimate(text)
	if estimated > e.cfg.TokenBudget {
		return Result{Outcome: Rejected, Tokens: estimated}
	}

	unlock, err := e.lockUser(ctx, user)
	if err != nil {
		return Result{Outcome: Unavailable, Tokens: estimated, Cause: err}
	}
	defer unlock()

	if e.metrics != nil {
		e.metrics.InFlightTurns.Inc()
		defer e.metrics.InFlightTurns.Dec()
	}

	prior, err := e.history.Load(ctx, user)
	if err != nil {
		return Result{Outcome: Unavailable, Tokens: estimated, Cause: fmt.Errorf("%w: load: %w", ErrStorageUnavailable, err)}
	}

	reply, updated, err := e.complete(ctx, prior, text)
	if err != nil {
		return Result{Outcome: Unavailable, Tokens: estimated, Cause: fmt.Errorf("%w: %w", ErrCompletionUnavailable, err)}
	}

	logger.Debug("completion received", "history_turns", len(prior), "reply_bytes", len(reply))

	result := Result{Outcome: Replied, Reply: reply, Tokens: estimated}

	if err := e.history.Save(ctx, user, updated); err != nil {
		result.PersistErr = fmt.Errorf("%w: save: %w", ErrStorageUnavailable, err)
	}

	return result
}

func (e *Engine) complete(ctx context.Context, prior []core.Turn, text string) (string, []core.Turn, error) {
	if e.cfg.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CompletionTimeout)
		defer cancel()
	}

	start := time.Now()
	reply, updated, err := e.completer.Complete(ctx, e.cfg.SystemPrompt, prior, text)
	if e.metrics != nil {
		e.metrics.CompletionDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		return "", nil, err
	}

	if len(updated) != len(prior)+2 {
		return "", nil, fmt.Errorf("completion returned %d turns for a history of %d", len(updated), len(prior))
	}

	return reply, updated, nil
}

// BeginConversation activates the session for (user, chat). Existing history is kept.
func (e *Engine) BeginConversation(ctx context.Context, user core.UserID, chat core.ChatID) error {
	return e.sessions.Start(ctx, core.SessionKey{User: user, Chat: chat})
}

// EndConversation closes the session and wipes the user's history. It waits for
// any in-flight turn of the same user so the wipe cannot be overwritten.
func (e *Engine) EndConversation(ctx context.Context, user core.UserID, chat core.ChatID) error {
	unlock, err := e.lockUser(ctx, user)
	if err != nil {
		return err
	}
	defer unlock()

	if err := e.sessions.End(ctx, core.SessionKey{User: user, Chat: chat}); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	return nil
}

// lockUser takes the in-process lock for user and then, when configured, the
// shared turn lock. The returned func releases both in reverse order.
func (e *Engine) lockUser(ctx context.Context, user core.UserID) (func(), error) {
	unlockLocal, err := e.users.Lock(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("wait for user lock: %w", err)
	}

	if e.turnLock == nil {
		return unlockLocal, nil
	}

	unlockShared, err := e.turnLock.LockTurn(ctx, user)
	if err != nil {
		unlockLocal()
		return nil, fmt.Errorf("%w: turn lock: %w", ErrStorageUnavailable, err)
	}

	return func() {
		unlockShared()
		unlockLocal()
	}, nil
}

func (e *Engine) State(ctx context.Context, user core.UserID, chat core.ChatID) (session.State, error) {
	return e.sessions.Current(ctx, core.SessionKey{User: user, Chat: chat})
}

func (e *Engine) observeOutcome(result Result) {
	if e.metrics == nil {
		return
	}

	e.metrics.TurnsTotal.WithLabelValues(result.Outcome.String()).Inc()
	if result.PersistErr != nil {
		e.metrics.HistorySaveFailures.Inc()
	}
}
