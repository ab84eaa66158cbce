// Package schema provides the data structures shared by the local store,
// the pending operation queue, the remote store and the sync engine.
//
// All three entity kinds (Member, Reason, Record) embed Entity, which carries
// the fields the sync layer needs: a stable identifier, the owning account,
// created/updated timestamps used for delta queries and last-write-wins
// reconciliation, and a soft-delete flag. Deleted entities are kept as
// tombstones so the deletion propagates to other replicas; every read path
// that presents data to the user filters them out.
//
// The structures are flat and JSON-tagged so each one round-trips unchanged
// through the local SQLite store, the pending operation payloads, and the
// remote document envelopes.
package schema
