// Package session tracks whether a user is in an active chat session, per chat.
package session

import (
	"context"
	"sync"

	"github.com/erg0nix/palaver/internal/core"
)

type State int

const (
	NoSession State = iota
	InSession
)

func (s State) String() string {
	switch s {
	case InSession:
		return "in_session"
	default:
		return "no_session"
	}
}

// StateStore persists session states by key. A missing key reads as NoSession.
type StateStore interface {
	Get(ctx context.Context, key core.SessionKey) (State, error)
	Set(ctx context.Context, key core.SessionKey, state State) error
}

// MemoryStateStore keeps states for the lifetime of the process.
type MemoryStateStore struct {
	states sync.Map
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (s *MemoryStateStore) Get(_ context.Context, key core.SessionKey) (State, error) {
	value, ok := s.states.Load(key)
	if !ok {
		return NoSession, nil
	}
	return value.(State), nil
}

func (s *MemoryStateStore) Set(_ context.Context, key core.SessionKey, state State) error {
	s.states.Store(key, state)
	return nil
}
