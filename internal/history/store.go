// Package history persists per-user conversation transcripts.
package history

import (
	"context"
	"fmt"

	"github.com/erg0nix/palaver/internal/core"
)

// Store loads and replaces a user's whole transcript. Save must be atomic with
// respect to concurrent Load and Save calls for the same user.
type Store interface {
	Load(ctx context.Context, user core.UserID) ([]core.Turn, error)
	Save(ctx context.Context, user core.UserID, turns []core.Turn) error
}

// Clear wipes the transcript of user.
func Clear(ctx context.Context, store Store, user core.UserID) error {
	if err := store.Save(ctx, user, nil); err != nil {
		return fmt.Errorf("clear history for user %s: %w", user, err)
	}
	return nil
}
