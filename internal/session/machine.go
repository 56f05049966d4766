package session

import (
	"context"
	"fmt"

	"github.com/erg0nix/palaver/internal/core"
	"github.com/erg0nix/palaver/internal/history"
	"github.com/erg0nix/palaver/internal/keylock"
)

// Machine drives the NoSession/InSession lifecycle. Operations on one key are
// serialized; different keys never wait on each other.
type Machine struct {
	states  StateStore
	history history.Store
	locks   keylock.Map[core.SessionKey]

	// OnTransition, when set, is called after a state change has been stored.
	OnTransition func(key core.SessionKey, from, to State)
}

func NewMachine(states StateStore, hist history.Store) *Machine {
	return &Machine{states: states, history: hist}
}

// Current returns the state for key, NoSession if the key was never seen.
func (m *Machine) Current(ctx context.Context, key core.SessionKey) (State, error) {
	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return NoSession, err
	}
	defer unlock()

	return m.states.Get(ctx, key)
}

// Start moves key into InSession. History is left untouched and starting an
// active session is a no-op.
func (m *Machine) Start(ctx context.Context, key core.SessionKey) error {
	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := m.states.Get(ctx, key)
	if err != nil {
		return err
	}

	if current == InSession {
		return nil
	}

	if err := m.states.Set(ctx, key, InSession); err != nil {
		return err
	}

	m.notify(key, current, InSession)
	return nil
}

// End wipes the user's history and moves key to NoSession. The wipe happens even
// when no session is active. If it fails, the state is left as it was.
func (m *Machine) End(ctx context.Context, key core.SessionKey) error {
	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := m.states.Get(ctx, key)
	if err != nil {
		return err
	}

	if err := history.Clear(ctx, m.history, key.User); err != nil {
		return fmt.Errorf("end session %s: %w", key, err)
	}

	if current == NoSession {
		return nil
	}

	if err := m.states.Set(ctx, key, NoSession); err != nil {
		return err
	}

	m.notify(key, current, NoSession)
	return nil
}

func (m *Machine) notify(key core.SessionKey, from, to State) {
	if m.OnTransition != nil {
		m.OnTransition(key, from, to)
	}
}
