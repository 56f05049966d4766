package history

import (
	"context"
	"sync"

	"github.com/erg0nix/palaver/internal/core"
)

// MemoryStore keeps transcripts in process memory. Entries are swapped as whole
// slices, so there is no lock shared between users.
type MemoryStore struct {
	turns sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context, user core.UserID) ([]core.Turn, error) {
	value, ok := s.turns.Load(user)
	if !ok {
		return []core.Turn{}, nil
	}

	return core.CloneTurns(value.([]core.Turn)), nil
}

func (s *MemoryStore) Save(_ context.Context, user core.UserID, turns []core.Turn) error {
	if len(turns) == 0 {
		s.turns.Delete(user)
		return nil
	}

	s.turns.Store(user, core.CloneTurns(turns))
	return nil
}
