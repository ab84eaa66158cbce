package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mvillega/finanzas/internal/schema"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// LibSQLStore implements Store against a hosted Turso/libSQL database.
//
// Each collection is one table with the entity JSON in a payload column and
// the envelope fields (owner, update time, tombstone flag) broken out for
// indexing. Partial updates use json_patch so concurrent writers merging
// different fields do not clobber each other's unrelated fields.
type LibSQLStore struct {
	conn *sql.DB
}

// OpenLibSQL connects to a hosted libSQL database.
//
// url is a libsql:// URL; authToken may be empty for databases that do not
// require one. The connection is verified with a ping so a bad URL or token
// surfaces immediately as ErrUnavailable.
func OpenLibSQL(url, authToken string) (*LibSQLStore, error) {
	dsn := url
	if authToken != "" {
		dsn = fmt.Sprintf("%s?authToken=%s", url, authToken)
	}

	conn, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &LibSQLStore{conn: conn}, nil
}

// InitSchema creates the remote tables if they don't exist. Idempotent.
func (s *LibSQLStore) InitSchema(ctx context.Context) error {
	for _, collection := range []schema.Collection{
		schema.CollectionMembers, schema.CollectionReasons, schema.CollectionRecords,
	} {
		ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			is_deleted INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_owner_updated ON %[1]s(owner_id, updated_at);
		`, collection)

		if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%w: failed to create %s table: %v", ErrUnavailable, collection, err)
		}
	}
	return nil
}

// Ping implements Store.Ping.
func (s *LibSQLStore) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close implements Store.Close.
func (s *LibSQLStore) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Create implements Store.Create.
func (s *LibSQLStore) Create(ctx context.Context, collection schema.Collection, doc Document) error {
	return s.BatchWrite(ctx, []BatchOp{{
		Kind:       WriteCreate,
		Collection: collection,
		ID:         doc.ID,
		OwnerID:    doc.OwnerID,
		Payload:    doc.Payload,
		UpdatedAt:  doc.UpdatedAt,
	}})
}

// Update implements Store.Update.
func (s *LibSQLStore) Update(ctx context.Context, collection schema.Collection, id string, fields json.RawMessage, updatedAt time.Time) error {
	return s.BatchWrite(ctx, []BatchOp{{
		Kind:       WriteUpdate,
		Collection: collection,
		ID:         id,
		Payload:    fields,
		UpdatedAt:  updatedAt,
	}})
}

// SoftDelete implements Store.SoftDelete.
func (s *LibSQLStore) SoftDelete(ctx context.Context, collection schema.Collection, id string, at time.Time) error {
	return s.BatchWrite(ctx, []BatchOp{{
		Kind:       WriteDelete,
		Collection: collection,
		ID:         id,
		UpdatedAt:  at,
	}})
}

// QueryByOwner implements Store.QueryByOwner.
func (s *LibSQLStore) QueryByOwner(ctx context.Context, collection schema.Collection, ownerID string, updatedAfter time.Time) ([]Document, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("invalid collection %q", collection)
	}

	query := fmt.Sprintf(`
	SELECT id, owner_id, payload, updated_at, is_deleted
	FROM %s WHERE owner_id = ?`, collection)
	args := []interface{}{ownerID}

	if !updatedAfter.IsZero() {
		query += " AND updated_at > ?"
		args = append(args, updatedAfter.UTC().Format(time.RFC3339Nano))
	}
	query += " ORDER BY updated_at ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query %s: %v", ErrUnavailable, collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var payload, updatedAt string
		var deleted int

		if err := rows.Scan(&doc.ID, &doc.OwnerID, &payload, &updatedAt, &deleted); err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", collection, err)
		}

		doc.Payload = json.RawMessage(payload)
		doc.IsDeleted = deleted != 0
		if doc.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse %s updated_at: %w", collection, err)
		}

		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating %s: %v", ErrUnavailable, collection, err)
	}
	return docs, nil
}

// BatchWrite implements Store.BatchWrite. All operations run in a single
// transaction; the first failure rolls everything back and is reported as a
// *BatchError naming the operation.
func (s *LibSQLStore) BatchWrite(ctx context.Context, ops []BatchOp) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin batch: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	for i, op := range ops {
		if err := applyOp(ctx, tx, op); err != nil {
			return &BatchError{Index: i, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit batch: %v", ErrUnavailable, err)
	}
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, op BatchOp) error {
	if !op.Collection.Valid() {
		return fmt.Errorf("%w: invalid collection %q", ErrRejected, op.Collection)
	}
	if op.ID == "" {
		return fmt.Errorf("%w: missing document id", ErrRejected)
	}

	stamp := op.UpdatedAt.UTC().Format(time.RFC3339Nano)

	switch op.Kind {
	case WriteCreate:
		if len(op.Payload) == 0 {
			return fmt.Errorf("%w: create without payload", ErrRejected)
		}
		query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, payload, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			is_deleted = excluded.is_deleted`, op.Collection)
		if _, err := tx.ExecContext(ctx, query, op.ID, op.OwnerID, string(op.Payload), stamp); err != nil {
			return fmt.Errorf("failed to create %s/%s: %w", op.Collection, op.ID, err)
		}
		return nil

	case WriteUpdate:
		if len(op.Payload) == 0 {
			return fmt.Errorf("%w: update without fields", ErrRejected)
		}
		if err := rejectProtected(ctx, tx, op.Collection, op.ID); err != nil {
			return err
		}
		query := fmt.Sprintf(`
		UPDATE %s SET payload = json_patch(payload, ?), updated_at = ?
		WHERE id = ?`, op.Collection)
		if _, err := tx.ExecContext(ctx, query, string(op.Payload), stamp, op.ID); err != nil {
			return fmt.Errorf("failed to update %s/%s: %w", op.Collection, op.ID, err)
		}
		return nil

	case WriteDelete:
		if err := rejectProtected(ctx, tx, op.Collection, op.ID); err != nil {
			return err
		}
		patch := fmt.Sprintf(`{"isDeleted":true,"updatedAt":%q}`, stamp)
		query := fmt.Sprintf(`
		UPDATE %s SET payload = json_patch(payload, ?), updated_at = ?, is_deleted = 1
		WHERE id = ?`, op.Collection)
		if _, err := tx.ExecContext(ctx, query, patch, stamp, op.ID); err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", op.Collection, op.ID, err)
		}
		return nil
	}

	return fmt.Errorf("%w: unknown write kind %q", ErrRejected, op.Kind)
}

// rejectProtected fails updates and deletes aimed at protected members or
// reasons. Records carry no protection flag and always pass.
func rejectProtected(ctx context.Context, tx *sql.Tx, collection schema.Collection, id string) error {
	if collection == schema.CollectionRecords {
		return nil
	}

	var protected sql.NullBool
	query := fmt.Sprintf(
		"SELECT json_extract(payload, '$.isProtected') FROM %s WHERE id = ?", collection)
	err := tx.QueryRowContext(ctx, query, id).Scan(&protected)
	if err == sql.ErrNoRows {
		return nil // unknown id: the write itself will be a no-op
	}
	if err != nil {
		return fmt.Errorf("failed to check protection on %s/%s: %w", collection, id, err)
	}

	if protected.Valid && protected.Bool {
		return fmt.Errorf("%w: %s/%s is protected", ErrRejected, collection, id)
	}
	return nil
}
