// Package store persists named chain snapshots.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package store

import (
	"context"
	"errors"

	"github.com/jmerrifield20/minichain/internal/chain"
)

// ErrNotFound is returned when no chain is stored under the requested name.
var ErrNotFound = errors.New("chain not found")

// Store is the persistence interface for chains.
type Store interface {
	// Save replaces the stored snapshot for name with every block of c.
	Save(ctx context.Context, name string, c *chain.Chain) error

	// Load rebuilds the chain stored under name. Stored hashes are kept
	// verbatim, so a snapshot altered at rest fails chain.Verify.
	Load(ctx context.Context, name string) (*chain.Chain, error)

	// List returns the stored chain names in ascending order.
	List(ctx context.Context) ([]string, error)

	// Delete removes the chain stored under name.
	Delete(ctx context.Context, name string) error
}
