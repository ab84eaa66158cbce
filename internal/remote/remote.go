// Package remote abstracts the hosted store that replicas sync against.
//
// The contract is intentionally small: per-collection create, partial update,
// soft delete, owner-scoped delta queries, and an atomic batched write. The
// sync engine only depends on this interface; the libSQL implementation in
// this package talks to a hosted Turso database, and tests substitute an
// in-memory fake.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mvillega/finanzas/internal/schema"
)

// ErrUnavailable marks a transient failure: the remote store could not be
// reached or the connection is misconfigured. Callers retry the whole pass.
var ErrUnavailable = errors.New("remote store unavailable")

// ErrRejected marks a permanent rejection: the remote store refused the
// operation (e.g. a write against a protected entity) and retrying will not
// help. The sync engine drops the offending operation instead of retrying.
var ErrRejected = errors.New("operation rejected by remote store")

// Document is the envelope a remote entity travels in. Payload holds the full
// entity JSON; the envelope fields are duplicated out of the payload so the
// store can index and filter without decoding it.
type Document struct {
	ID        string
	OwnerID   string
	UpdatedAt time.Time
	IsDeleted bool
	Payload   json.RawMessage
}

// WriteKind is the kind of write inside a batch.
type WriteKind string

const (
	WriteCreate WriteKind = "create"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
)

// BatchOp is one write inside an atomic batch.
//
// For WriteCreate, Payload is the full entity JSON. For WriteUpdate, Payload
// is a partial field map merged into the stored document. For WriteDelete,
// Payload is ignored and the document becomes a tombstone.
type BatchOp struct {
	Kind       WriteKind
	Collection schema.Collection
	ID         string
	OwnerID    string
	Payload    json.RawMessage
	UpdatedAt  time.Time
}

// BatchError reports which operation inside a batch failed. The batch as a
// whole is rolled back; Err wraps ErrRejected for permanent failures.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch operation %d failed: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Store is the remote document store contract.
//
// All writes are idempotent under replay: creating an existing ID overwrites
// it, deleting a tombstone is a no-op. The pending operation queue delivers
// at-least-once, so replays must be harmless.
type Store interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Create stores a new document. Replaying a create for an existing ID
	// overwrites the document.
	Create(ctx context.Context, collection schema.Collection, doc Document) error

	// Update merges a partial field map into the stored document and bumps
	// its update time. Fails with ErrRejected on protected entities.
	Update(ctx context.Context, collection schema.Collection, id string, fields json.RawMessage, updatedAt time.Time) error

	// SoftDelete turns the document into a tombstone. Fails with ErrRejected
	// on protected entities.
	SoftDelete(ctx context.Context, collection schema.Collection, id string, at time.Time) error

	// QueryByOwner returns every document owned by ownerID whose update time
	// is strictly after updatedAfter (all documents when updatedAfter is the
	// zero time), oldest first. Tombstones are included.
	QueryByOwner(ctx context.Context, collection schema.Collection, ownerID string, updatedAfter time.Time) ([]Document, error)

	// BatchWrite applies ops atomically: either every operation commits or
	// none does. Providers limit batch sizes, so callers chunk large batches.
	// On failure the error unwraps to *BatchError naming the failing op.
	BatchWrite(ctx context.Context, ops []BatchOp) error

	// Close releases the connection.
	Close() error
}
