package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mvillega/finanzas/internal/queue"
	"github.com/mvillega/finanzas/internal/remote"
	"github.com/mvillega/finanzas/internal/schema"
	"github.com/mvillega/finanzas/internal/store"
)

// State is the engine's position in the sync protocol.
type State int

const (
	StateIdle State = iota
	StatePushing
	StatePulling
	StateMerging
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePushing:
		return "pushing"
	case StatePulling:
		return "pulling"
	case StateMerging:
		return "merging"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Config configures the sync engine.
type Config struct {
	// OwnerID scopes remote queries and created documents.
	OwnerID string

	// BatchSize caps how many operations go into one atomic remote batch
	// (default: 100). Larger queues are pushed in multiple batches.
	BatchSize int

	// MaxAttempts caps replay attempts per operation before it is dropped
	// (default: 5). Keeps a permanently-failing operation from growing the
	// queue without bound.
	MaxAttempts int

	// Logger for engine activity (default: stderr logger).
	Logger *log.Logger

	// Now supplies the current time (default: time.Now). Tests override it.
	Now func() time.Time

	// OnComplete, if set, is called after each successful pass.
	OnComplete func(*Result)
}

// Result reports what one sync pass did.
type Result struct {
	// InProgress is set when the call was a no-op because a pass was
	// already running. All other fields are zero.
	InProgress bool

	// Pushed is the number of queued operations confirmed by the remote.
	Pushed int

	// Dropped is the number of operations removed without confirmation,
	// either rejected permanently or past the attempt cap.
	Dropped int

	// Pulled is the number of remote documents fetched.
	Pulled int

	// Merged is the number of pulled documents upserted locally.
	Merged int

	// Problems lists pulled documents that could not be merged. They are
	// skipped, reported here, and fetched again on the next pass.
	Problems []string

	// Duration is how long the pass took.
	Duration time.Duration
}

// Engine runs the push → pull → merge protocol. Only one pass runs at a
// time; see Sync.
type Engine struct {
	store  *store.DB
	queue  *queue.Queue
	remote remote.Store

	ownerID     string
	batchSize   int
	maxAttempts int
	logger      *log.Logger
	now         func() time.Time
	onComplete  func(*Result)

	mu    sync.Mutex
	state State
}

// New creates an Engine. The store must have its schema initialized.
func New(db *store.DB, q *queue.Queue, r remote.Store, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Engine{
		store:       db,
		queue:       q,
		remote:      r,
		ownerID:     cfg.OwnerID,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
		now:         cfg.Now,
		onComplete:  cfg.OnComplete,
	}
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Sync runs one full pass: push the pending queue, pull remote changes since
// the watermark, merge them locally, then advance the watermark.
//
// If a pass is already running, Sync does nothing and returns a Result with
// InProgress set. On failure the queue and watermark are left so the next
// call retries exactly what did not complete.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.state != StateIdle && e.state != StateFailed {
		e.mu.Unlock()
		return &Result{InProgress: true}, nil
	}
	e.state = StatePushing
	e.mu.Unlock()

	start := e.now().UTC()
	result := &Result{}

	err := e.run(ctx, start, result)
	result.Duration = e.now().Sub(start)

	e.mu.Lock()
	if err != nil {
		e.state = StateFailed
	} else {
		e.state = StateIdle
	}
	e.mu.Unlock()

	if err != nil {
		return result, err
	}

	e.logger.Printf("Sync complete: pushed=%d dropped=%d pulled=%d merged=%d in %v",
		result.Pushed, result.Dropped, result.Pulled, result.Merged,
		result.Duration.Round(time.Millisecond))
	if e.onComplete != nil {
		e.onComplete(result)
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, start time.Time, result *Result) error {
	if err := e.push(ctx, result); err != nil {
		return err
	}

	e.setState(StatePulling)
	watermark, err := e.store.Watermark(ctx)
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}

	pulled := make(map[schema.Collection][]remote.Document)
	for _, collection := range []schema.Collection{
		schema.CollectionMembers, schema.CollectionReasons, schema.CollectionRecords,
	} {
		docs, err := e.remote.QueryByOwner(ctx, collection, e.ownerID, watermark)
		if err != nil {
			return &schema.RemoteUnavailableError{Err: err}
		}
		pulled[collection] = docs
		result.Pulled += len(docs)
	}

	e.setState(StateMerging)
	for collection, docs := range pulled {
		for _, doc := range docs {
			if err := e.merge(ctx, collection, doc); err != nil {
				// A malformed remote document must not wedge the pass; it is
				// reported and fetched again next time.
				e.logger.Printf("WARNING: skipping %s/%s: %v", collection, doc.ID, err)
				result.Problems = append(result.Problems,
					fmt.Sprintf("%s/%s: %v", collection, doc.ID, err))
				continue
			}
			result.Merged++
		}
	}

	if err := e.store.SetWatermark(ctx, start); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	return nil
}

// push replays the pending queue against the remote store in enqueue order,
// one atomic batch per chunk. Confirmed chunks are acknowledged immediately,
// so a later failure never re-plays an already-applied prefix.
func (e *Engine) push(ctx context.Context, result *Result) error {
	ops, err := e.queue.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pending queue: %w", err)
	}

	for len(ops) > 0 {
		n := len(ops)
		if n > e.batchSize {
			n = e.batchSize
		}
		chunk := ops[:n]

		batch := make([]remote.BatchOp, len(chunk))
		for i, op := range chunk {
			batch[i] = e.toBatchOp(op)
		}

		err := e.remote.BatchWrite(ctx, batch)
		if err == nil {
			seqs := make([]int64, len(chunk))
			for i, op := range chunk {
				seqs[i] = op.Seq
			}
			if err := e.queue.Acknowledge(ctx, seqs...); err != nil {
				return fmt.Errorf("failed to acknowledge pushed operations: %w", err)
			}
			result.Pushed += len(chunk)
			ops = ops[n:]
			continue
		}

		var batchErr *remote.BatchError
		if errors.As(err, &batchErr) && errors.Is(err, remote.ErrRejected) {
			// Permanent rejection: drop the offending operation and retry the
			// rest of the queue without it.
			bad := chunk[batchErr.Index]
			e.logger.Printf("WARNING: dropping rejected %s %s/%s (seq %d): %v",
				bad.Type, bad.Collection, bad.EntityID, bad.Seq, batchErr.Err)
			if err := e.queue.Drop(ctx, bad.Seq); err != nil {
				return fmt.Errorf("failed to drop rejected operation: %w", err)
			}
			result.Dropped++
			ops = append(ops[:batchErr.Index], ops[batchErr.Index+1:]...)
			continue
		}

		// Transient failure: keep everything queued, count the attempt, and
		// abort the pass before pull.
		seqs := make([]int64, len(chunk))
		for i, op := range chunk {
			seqs[i] = op.Seq
		}
		if ferr := e.queue.RecordFailure(ctx, seqs...); ferr != nil {
			e.logger.Printf("WARNING: failed to record push failure: %v", ferr)
		}
		for _, op := range chunk {
			if op.Attempts+1 >= e.maxAttempts {
				e.logger.Printf("WARNING: dropping %s %s/%s after %d attempts",
					op.Type, op.Collection, op.EntityID, op.Attempts+1)
				if derr := e.queue.Drop(ctx, op.Seq); derr != nil {
					e.logger.Printf("WARNING: failed to drop exhausted operation: %v", derr)
				}
				result.Dropped++
			}
		}
		return &schema.RemoteUnavailableError{Err: err}
	}

	return nil
}

func (e *Engine) toBatchOp(op *queue.Op) remote.BatchOp {
	batchOp := remote.BatchOp{
		Collection: op.Collection,
		ID:         op.EntityID,
		OwnerID:    e.ownerID,
		Payload:    op.Payload,
		UpdatedAt:  payloadUpdatedAt(op),
	}

	switch op.Type {
	case queue.OpCreate:
		batchOp.Kind = remote.WriteCreate
	case queue.OpUpdate:
		batchOp.Kind = remote.WriteUpdate
	case queue.OpDelete:
		batchOp.Kind = remote.WriteDelete
	}
	return batchOp
}

// payloadUpdatedAt recovers the entity's update time from the operation
// payload so the remote envelope carries the same stamp the local store does.
// Deletes have no payload; the enqueue time is when the deletion happened.
func payloadUpdatedAt(op *queue.Op) time.Time {
	if len(op.Payload) > 0 {
		var probe struct {
			UpdatedAt time.Time `json:"updatedAt"`
		}
		if err := json.Unmarshal(op.Payload, &probe); err == nil && !probe.UpdatedAt.IsZero() {
			return probe.UpdatedAt
		}
	}
	return op.CreatedAt
}

// merge upserts one pulled document into the local store. The remote version
// wins unconditionally: the pull is already scoped to documents updated after
// the watermark, and the device's own changes were pushed first.
func (e *Engine) merge(ctx context.Context, collection schema.Collection, doc remote.Document) error {
	switch collection {
	case schema.CollectionMembers:
		var m schema.Member
		if err := json.Unmarshal(doc.Payload, &m); err != nil {
			return fmt.Errorf("failed to decode member payload: %w", err)
		}
		return e.store.UpsertMember(ctx, &m)

	case schema.CollectionReasons:
		var r schema.Reason
		if err := json.Unmarshal(doc.Payload, &r); err != nil {
			return fmt.Errorf("failed to decode reason payload: %w", err)
		}
		return e.store.UpsertReason(ctx, &r)

	case schema.CollectionRecords:
		var r schema.Record
		if err := json.Unmarshal(doc.Payload, &r); err != nil {
			return fmt.Errorf("failed to decode record payload: %w", err)
		}
		r.Date = schema.DateOnly(r.Date)
		return e.store.UpsertRecord(ctx, &r)
	}

	return fmt.Errorf("unknown collection %q", collection)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}
