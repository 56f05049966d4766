package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erg0nix/palaver/internal/core"
	"github.com/erg0nix/palaver/internal/history"
	"github.com/erg0nix/palaver/internal/metrics"
	"github.com/erg0nix/palaver/internal/session"
	"github.com/erg0nix/palaver/internal/tokens"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeCompleter struct {
	calls atomic.Int32
	fn    func(ctx context.Context, history []core.Turn, text string) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, _ string, prior []core.Turn, text string) (string, []core.Turn, error) {
	f.calls.Add(1)

	reply, err := f.fn(ctx, prior, text)
	if err != nil {
		return "", nil, err
	}

	updated := core.CloneTurns(prior)
	updated = append(updated, core.UserTurn(text), core.AssistantTurn(reply))
	return reply, updated, nil
}

func echoCompleter(reply string) *fakeCompleter {
	return &fakeCompleter{fn: func(context.Context, []core.Turn, string) (string, error) {
		return reply, nil
	}}
}

type flakyStore struct {
	history.Store
	loadErr error
	saveErr error
	saves   atomic.Int32
}

func (s *flakyStore) Load(ctx context.Context, user core.UserID) ([]core.Turn, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.Store.Load(ctx, user)
}

func (s *flakyStore) Save(ctx context.Context, user core.UserID, turns []core.Turn) error {
	s.saves.Add(1)
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Store.Save(ctx, user, turns)
}

func newEngine(store history.Store, completer Completer, m *metrics.Metrics) *Engine {
	machine := session.NewMachine(session.NewMemoryStateStore(), store)
	return New(
		Config{SystemPrompt: "be brief", TokenBudget: 500, CompletionTimeout: time.Second},
		Deps{
			Estimator: tokens.Bytes{CharsPerToken: 4},
			History:   store,
			Completer: completer,
			Sessions:  machine,
			Metrics:   m,
		},
	)
}

func TestHandleUserTurnRejectsOversizedMessage(t *testing.T) {
	store := history.NewMemoryStore()
	completer := echoCompleter("never")
	e := newEngine(store, completer, nil)

	result := e.HandleUserTurn(context.Background(), 1, 1, strings.Repeat("a", 3000))

	if result.Outcome != Rejected {
		t.Fatalf("expected rejected, got %s", result.Outcome)
	}
	if result.Tokens != 750 {
		t.Fatalf("expected 750 tokens, got %d", result.Tokens)
	}
	if completer.calls.Load() != 0 {
		t.Fatal("completion must not be called for rejected messages")
	}

	turns, _ := store.Load(context.Background(), 1)
	if len(turns) != 0 {
		t.Fatalf("history must stay empty, got %d turns", len(turns))
	}
}

func TestHandleUserTurnBudgetBoundary(t *testing.T) {
	e := newEngine(history.NewMemoryStore(), echoCompleter("ok"), nil)

	if result := e.HandleUserTurn(context.Background(), 1, 1, strings.Repeat("a", 2000)); result.Outcome != Replied {
		t.Fatalf("2000 bytes is exactly the budget, got %s", result.Outcome)
	}
	if result := e.HandleUserTurn(context.Background(), 1, 1, strings.Repeat("a", 2004)); result.Outcome != Rejected {
		t.Fatalf("2004 bytes exceeds the budget, got %s", result.Outcome)
	}
}

func TestHandleUserTurnAppendsBothTurns(t *testing.T) {
	store := history.NewMemoryStore()
	e := newEngine(store, echoCompleter("Hi there"), nil)

	result := e.HandleUserTurn(context.Background(), 7, 70, "Hello")
	if result.Outcome != Replied || result.Reply != "Hi there" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.PersistErr != nil {
		t.Fatalf("unexpected persist error: %v", result.PersistErr)
	}

	turns, err := store.Load(context.Background(), 7)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertTurns(t, turns, []core.Turn{core.UserTurn("Hello"), core.AssistantTurn("Hi there")})
}

func TestHandleUserTurnPassesPriorHistory(t *testing.T) {
	store := history.NewMemoryStore()
	ctx := context.Background()
	_ = store.Save(ctx, 1, []core.Turn{core.UserTurn("one"), core.AssistantTurn("uno")})

	var seen int
	completer := &fakeCompleter{fn: func(_ context.Context, prior []core.Turn, _ string) (string, error) {
		seen = len(prior)
		return "dos", nil
	}}
	e := newEngine(store, completer, nil)

	e.HandleUserTurn(ctx, 1, 1, "two")

	if seen != 2 {
		t.Fatalf("completer saw %d prior turns, expected 2", seen)
	}
	turns, _ := store.Load(ctx, 1)
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(turns))
	}
}

func TestHandleUserTurnTimeoutLeavesHistoryUnchanged(t *testing.T) {
	store := &flakyStore{Store: history.NewMemoryStore()}
	ctx := context.Background()
	before := []core.Turn{core.UserTurn("a"), core.AssistantTurn("b")}
	_ = store.Store.Save(ctx, 1, before)

	completer := &fakeCompleter{fn: func(ctx context.Context, _ []core.Turn, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}

	machine := session.NewMachine(session.NewMemoryStateStore(), store)
	e := New(
		Config{TokenBudget: 500, CompletionTimeout: 20 * time.Millisecond},
		Deps{Estimator: tokens.Bytes{}, History: store, Completer: completer, Sessions: machine},
	)

	result := e.HandleUserTurn(ctx, 1, 1, "slow")
	if result.Outcome != Unavailable {
		t.Fatalf("expected unavailable, got %s", result.Outcome)
	}
	if !errors.Is(result.Cause, ErrCompletionUnavailable) {
		t.Fatalf("expected completion cause, got %v", result.Cause)
	}
	if !errors.Is(result.Cause, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in cause chain, got %v", result.Cause)
	}
	if store.saves.Load() != 0 {
		t.Fatal("history must not be saved after a failed completion")
	}

	after, err := store.Load(ctx, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertTurns(t, after, before)

	// the lock was released
	e.completer = echoCompleter("fast")
	if result := e.HandleUserTurn(ctx, 1, 1, "again"); result.Outcome != Replied {
		t.Fatalf("expected a follow-up turn to succeed, got %s", result.Outcome)
	}
}

func TestHandleUserTurnLoadFailureSkipsCompletion(t *testing.T) {
	store := &flakyStore{Store: history.NewMemoryStore(), loadErr: errors.New("disk gone")}
	completer := echoCompleter("unused")
	e := newEngine(store, completer, nil)

	result := e.HandleUserTurn(context.Background(), 1, 1, "hi")

	if result.Outcome != Unavailable {
		t.Fatalf("expected unavailable, got %s", result.Outcome)
	}
	if !errors.Is(result.Cause, ErrStorageUnavailable) {
		t.Fatalf("expected storage cause, got %v", result.Cause)
	}
	if completer.calls.Load() != 0 {
		t.Fatal("completion must not run when history cannot be loaded")
	}
}

func TestHandleUserTurnSaveFailureStillReplies(t *testing.T) {
	store := &flakyStore{Store: history.NewMemoryStore(), saveErr: errors.New("read-only")}
	m := metrics.New()
	e := newEngine(store, echoCompleter("answer"), m)

	result := e.HandleUserTurn(context.Background(), 1, 1, "question")

	if result.Outcome != Replied || result.Reply != "answer" {
		t.Fatalf("expected the reply to be delivered, got %+v", result)
	}
	if !errors.Is(result.PersistErr, ErrStorageUnavailable) {
		t.Fatalf("expected persist error, got %v", result.PersistErr)
	}
	if got := testutil.ToFloat64(m.HistorySaveFailures); got != 1 {
		t.Fatalf("expected 1 save failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("replied")); got != 1 {
		t.Fatalf("expected 1 replied turn, got %v", got)
	}
}

func TestHandleUserTurnConcurrentTurnsSerialize(t *testing.T) {
	store := history.NewMemoryStore()
	ctx := context.Background()
	_ = store.Save(ctx, 5, []core.Turn{core.UserTurn("seed"), core.AssistantTurn("ok")})

	var active, maxActive atomic.Int32
	completer := &fakeCompleter{fn: func(_ context.Context, _ []core.Turn, text string) (string, error) {
		n := active.Add(1)
		for {
			prev := maxActive.Load()
			if n <= prev || maxActive.CompareAndSwap(prev, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return "re: " + text, nil
	}}
	e := newEngine(store, completer, nil)

	const n = 16
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if result := e.HandleUserTurn(ctx, 5, 5, fmt.Sprintf("msg %d", i)); result.Outcome != Replied {
				t.Errorf("turn %d: %s", i, result.Outcome)
			}
		}()
	}
	wg.Wait()

	turns, _ := store.Load(ctx, 5)
	if len(turns) != 2+2*n {
		t.Fatalf("expected %d turns, got %d", 2+2*n, len(turns))
	}
	if maxActive.Load() != 1 {
		t.Fatalf("turns for one user overlapped: %d concurrent", maxActive.Load())
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != core.RoleUser || turns[i+1].Role != core.RoleAssistant {
			t.Fatalf("pair at %d is not user/assistant: %+v %+v", i, turns[i], turns[i+1])
		}
		if i > 0 && turns[i+1].Content != "re: "+turns[i].Content {
			t.Fatalf("pair at %d is interleaved: %+v %+v", i, turns[i], turns[i+1])
		}
	}
}

func TestHandleUserTurnDifferentUsersRunInParallel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	completer := &fakeCompleter{fn: func(context.Context, []core.Turn, string) (string, error) {
		started <- struct{}{}
		<-release
		return "ok", nil
	}}
	e := newEngine(history.NewMemoryStore(), completer, nil)

	var wg sync.WaitGroup
	for _, user := range []core.UserID{1, 2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.HandleUserTurn(context.Background(), user, core.ChatID(user), "hi")
		}()
	}

	for range 2 {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("second user was blocked by the first")
		}
	}
	close(release)
	wg.Wait()
}

func TestConversationLifecycle(t *testing.T) {
	store := history.NewMemoryStore()
	e := newEngine(store, echoCompleter("pong"), nil)
	ctx := context.Background()

	state, err := e.State(ctx, 3, 30)
	if err != nil || state != session.NoSession {
		t.Fatalf("expected no session, got %s (%v)", state, err)
	}

	if err := e.BeginConversation(ctx, 3, 30); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if state, _ := e.State(ctx, 3, 30); state != session.InSession {
		t.Fatalf("expected in session, got %s", state)
	}

	e.HandleUserTurn(ctx, 3, 30, "ping")

	if err := e.EndConversation(ctx, 3, 30); err != nil {
		t.Fatalf("end: %v", err)
	}
	if state, _ := e.State(ctx, 3, 30); state != session.NoSession {
		t.Fatalf("expected no session after end, got %s", state)
	}

	turns, _ := store.Load(ctx, 3)
	if len(turns) != 0 {
		t.Fatalf("expected history wiped, got %d turns", len(turns))
	}
}

func TestEndConversationWaitsForInFlightTurn(t *testing.T) {
	store := history.NewMemoryStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	completer := &fakeCompleter{fn: func(context.Context, []core.Turn, string) (string, error) {
		close(entered)
		<-release
		return "late", nil
	}}
	e := newEngine(store, completer, nil)
	ctx := context.Background()
	_ = e.BeginConversation(ctx, 9, 9)

	done := make(chan struct{})
	go func() {
		e.HandleUserTurn(ctx, 9, 9, "hi")
		close(done)
	}()
	<-entered

	ended := make(chan error, 1)
	go func() { ended <- e.EndConversation(ctx, 9, 9) }()

	select {
	case <-ended:
		t.Fatal("end completed while a turn was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-done
	if err := <-ended; err != nil {
		t.Fatalf("end: %v", err)
	}

	turns, _ := store.Load(ctx, 9)
	if len(turns) != 0 {
		t.Fatalf("the in-flight save must not survive the wipe, got %d turns", len(turns))
	}
}

func TestOutcomeString(t *testing.T) {
	cases := map[Outcome]string{Replied: "replied", Rejected: "rejected", Unavailable: "unavailable", Outcome(42): "unknown"}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Errorf("%d: expected %q, got %q", outcome, want, got)
		}
	}
}

type recordingTurnLock struct {
	mu      sync.Mutex
	held    map[core.UserID]bool
	locks   int
	unlocks int
	err     error
}

func (l *recordingTurnLock) LockTurn(_ context.Context, user core.UserID) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return nil, l.err
	}
	if l.held == nil {
		l.held = map[core.UserID]bool{}
	}
	if l.held[user] {
		return nil, fmt.Errorf("user %d locked twice", user)
	}
	l.held[user] = true
	l.locks++

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held[user] = false
		l.unlocks++
	}, nil
}

func newEngineWithTurnLock(store history.Store, completer Completer, lock TurnLocker) *Engine {
	machine := session.NewMachine(session.NewMemoryStateStore(), store)
	return New(
		Config{TokenBudget: 500, CompletionTimeout: time.Second},
		Deps{
			Estimator: tokens.Bytes{},
			History:   store,
			Completer: completer,
			Sessions:  machine,
			TurnLock:  lock,
		},
	)
}

func TestTurnLockSpansTurnAndEnd(t *testing.T) {
	lock := &recordingTurnLock{}
	failing := &fakeCompleter{fn: func(context.Context, []core.Turn, string) (string, error) {
		return "", errors.New("boom")
	}}
	e := newEngineWithTurnLock(history.NewMemoryStore(), echoCompleter("ok"), lock)
	ctx := context.Background()

	if result := e.HandleUserTurn(ctx, 1, 1, "hi"); result.Outcome != Replied {
		t.Fatalf("expected replied, got %s: %v", result.Outcome, result.Cause)
	}

	e.completer = failing
	if result := e.HandleUserTurn(ctx, 1, 1, "hi"); result.Outcome != Unavailable {
		t.Fatalf("expected unavailable, got %s", result.Outcome)
	}

	if err := e.EndConversation(ctx, 1, 1); err != nil {
		t.Fatalf("end: %v", err)
	}

	if result := e.HandleUserTurn(ctx, 1, 1, strings.Repeat("a", 4000)); result.Outcome != Rejected {
		t.Fatalf("expected rejected, got %s", result.Outcome)
	}

	if lock.locks != 3 || lock.unlocks != 3 {
		t.Fatalf("expected 3 locks and 3 unlocks, got %d and %d", lock.locks, lock.unlocks)
	}
}

func TestTurnLockFailureSkipsTurn(t *testing.T) {
	lock := &recordingTurnLock{err: errors.New("connection refused")}
	completer := echoCompleter("unused")
	store := &flakyStore{Store: history.NewMemoryStore()}
	e := newEngineWithTurnLock(store, completer, lock)

	result := e.HandleUserTurn(context.Background(), 1, 1, "hi")

	if result.Outcome != Unavailable || !errors.Is(result.Cause, ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %s: %v", result.Outcome, result.Cause)
	}
	if completer.calls.Load() != 0 || store.saves.Load() != 0 {
		t.Fatal("nothing may run without the turn lock")
	}

	// the in-process lock was released
	lock.err = nil
	if result := e.HandleUserTurn(context.Background(), 1, 1, "hi"); result.Outcome != Replied {
		t.Fatalf("expected a later turn to succeed, got %s", result.Outcome)
	}
}

func assertTurns(t *testing.T, got, want []core.Turn) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("expected %d turns, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("turn %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}
