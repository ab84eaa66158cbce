// Package sync reconciles the local store with the hosted remote store.
//
// # Overview
//
// Mutations are applied optimistically to the local store and recorded in the
// pending operation queue. A sync pass replays that queue against the remote
// store, fetches what changed remotely since the last pass, and merges it
// back into the local store:
//
//	Mutation API
//	     ├── local store (optimistic write)
//	     └── pending_ops (ordered, durable)
//	                          ↓ push
//	                    Remote store
//	                          ↓ pull (updated_at > watermark)
//	                    Merge into local store
//	                          ↓
//	                    Advance watermark
//
// # Ordering
//
// Push always precedes pull. The device's own unsynced mutations reach the
// remote first, so pulling cannot clobber them; what the pull echoes back for
// the just-pushed entities overwrites identically. Passes never overlap: a
// Sync call while a pass is running returns immediately with
// Result.InProgress set.
//
// # Failure handling
//
// Push failures abort the pass before pull, leaving every unacknowledged
// operation queued in order for the next attempt. A transient failure
// (network, configuration) surfaces as RemoteUnavailableError and bumps the
// attempt counter on the operations that were tried; an operation the remote
// rejected permanently (a protected entity) is dropped from the queue and the
// rest of the batch is retried without it. The watermark only advances after
// a fully successful merge, so an aborted pass re-pulls nothing it should not.
//
// # Tombstones
//
// Pulled tombstones are merged into the local store like any other document
// and kept there; reads filter them out. Local tombstones are only removed by
// the explicit compaction command, after a retention window has passed.
package sync
