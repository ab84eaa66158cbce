// Package queue provides the durable pending operation queue.
//
// Every mutation performed while the remote store is unreachable (or sync is
// simply deferred) is appended here in the exact order it happened, and
// replayed in that order by the sync engine. Rows live in the pending_ops
// table of the same embedded database as the entity store, so a mutation and
// its queue entry survive process restarts together.
//
// An operation is only removed after its remote effect is confirmed
// (Acknowledge) or after it is judged permanently invalid (Drop). A failed
// replay leaves every unacknowledged operation in place, in order, for the
// next sync pass.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mvillega/finanzas/internal/schema"
)

// OpType is the kind of mutation a queued operation replays.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Op is one queued mutation.
//
// Payload carries what the replay needs: the full entity JSON for a create,
// the partial field map for an update, nothing for a delete.
type Op struct {
	Seq        int64
	Type       OpType
	Collection schema.Collection
	EntityID   string
	Payload    json.RawMessage
	Attempts   int
	CreatedAt  time.Time
}

// Queue is an ordered, durable log of not-yet-synced mutations.
// It shares the entity store's database connection; the pending_ops table is
// created by the store's InitSchema.
type Queue struct {
	conn *sql.DB
}

// New creates a Queue on an already-open database connection.
func New(conn *sql.DB) *Queue {
	return &Queue{conn: conn}
}

// Enqueue appends one operation. The assigned sequence number is written back
// into op.Seq. The append is durable before Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, op *Op) error {
	if !op.Collection.Valid() {
		return fmt.Errorf("invalid collection %q", op.Collection)
	}
	switch op.Type {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("invalid op type %q", op.Type)
	}
	if op.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}

	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	res, err := q.conn.ExecContext(ctx, `
	INSERT INTO pending_ops (op, collection, entity_id, payload, attempts, created_at)
	VALUES (?, ?, ?, ?, 0, ?)`,
		string(op.Type), string(op.Collection), op.EntityID,
		nullablePayload(op.Payload), op.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s %s/%s: %w", op.Type, op.Collection, op.EntityID, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read enqueue sequence: %w", err)
	}
	op.Seq = seq
	return nil
}

// Pending returns all queued operations in enqueue order.
func (q *Queue) Pending(ctx context.Context) ([]*Op, error) {
	rows, err := q.conn.QueryContext(ctx, `
	SELECT seq, op, collection, entity_id, payload, attempts, created_at
	FROM pending_ops ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending operations: %w", err)
	}
	defer rows.Close()

	var ops []*Op
	for rows.Next() {
		var op Op
		var typ, collection, createdAt string
		var payload sql.NullString

		if err := rows.Scan(&op.Seq, &typ, &collection, &op.EntityID, &payload, &op.Attempts, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending operation: %w", err)
		}

		op.Type = OpType(typ)
		op.Collection = schema.Collection(collection)
		if payload.Valid {
			op.Payload = json.RawMessage(payload.String)
		}
		if op.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse operation created_at: %w", err)
		}

		ops = append(ops, &op)
	}

	return ops, rows.Err()
}

// Acknowledge removes the given operations after their remote effect has been
// durably confirmed. Unlisted operations keep their position.
func (q *Queue) Acknowledge(ctx context.Context, seqs ...int64) error {
	for _, seq := range seqs {
		if _, err := q.conn.ExecContext(ctx, "DELETE FROM pending_ops WHERE seq = ?", seq); err != nil {
			return fmt.Errorf("failed to acknowledge operation %d: %w", seq, err)
		}
	}
	return nil
}

// RecordFailure bumps the attempt counter on the given operations. The sync
// engine drops an operation once its attempts exceed the configured cap, so a
// permanently-failing operation cannot grow the queue without bound.
func (q *Queue) RecordFailure(ctx context.Context, seqs ...int64) error {
	for _, seq := range seqs {
		if _, err := q.conn.ExecContext(ctx,
			"UPDATE pending_ops SET attempts = attempts + 1 WHERE seq = ?", seq); err != nil {
			return fmt.Errorf("failed to record failure for operation %d: %w", seq, err)
		}
	}
	return nil
}

// Drop removes one operation without acknowledging it, for operations the
// remote store rejected permanently.
func (q *Queue) Drop(ctx context.Context, seq int64) error {
	if _, err := q.conn.ExecContext(ctx, "DELETE FROM pending_ops WHERE seq = ?", seq); err != nil {
		return fmt.Errorf("failed to drop operation %d: %w", seq, err)
	}
	return nil
}

// Len returns the number of queued operations.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var count int
	if err := q.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending_ops").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

func nullablePayload(p json.RawMessage) interface{} {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
