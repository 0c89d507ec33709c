// Package persistence implements the checkpointing middleware and recovery
// coordinator that make a workflow resumable across process restarts.
package persistence

import (
	"context"

	"github.com/google/uuid"
)

// Key is a stable 128-bit identifier derived from a user-provided string,
// or an engine-generated one.
type Key = uuid.UUID

// forgeNamespace is the fixed namespace used to derive deterministic Keys
// from strings. This value must never change.
var forgeNamespace = uuid.MustParse("7b6f5a8e-2c1d-4e9a-9f3b-1a2b3c4d5e6f")

// DeriveKey maps seed to a stable Key using SHA-1-derived UUID v5 semantics.
// This is not a security use; any stable hash would do, but the algorithm
// and namespace must stay fixed once published.
func DeriveKey(seed string) Key {
	return uuid.NewSHA1(forgeNamespace, []byte(seed))
}

// Snapshot is a persisted record of a run's next-operation index and
// properties.
type Snapshot struct {
	FoundryKey         Key
	WorkflowKey        Key
	WorkflowName       string
	NextOperationIndex int
	Properties         map[string]any
}

// PersistenceProvider is the external collaborator storing and retrieving
// Snapshots. Implementations need only be idempotent by (FoundryKey,
// WorkflowKey); the engine does not mandate a wire format.
type PersistenceProvider interface {
	// Save persists snapshot. At-least-once delivery is acceptable;
	// repeated saves for the same keys must converge on the latest value.
	Save(ctx context.Context, snapshot Snapshot) error

	// TryLoad returns the snapshot for (foundryKey, workflowKey) and true if
	// one exists, or a zero Snapshot and false otherwise.
	TryLoad(ctx context.Context, foundryKey, workflowKey Key) (Snapshot, bool, error)

	// Delete removes any snapshot stored for (foundryKey, workflowKey). A
	// missing snapshot is not an error.
	Delete(ctx context.Context, foundryKey, workflowKey Key) error
}

// RecoveryCatalog lists snapshots pending resumption. Optional: most
// providers need not implement it to satisfy PersistenceProvider.
type RecoveryCatalog interface {
	ListPending(ctx context.Context) ([]Snapshot, error)
}
