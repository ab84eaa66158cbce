// Package store provides the embedded SQLite store holding the local copy of
// all finance data.
//
// The store is the durable side of the offline-first design: every optimistic
// mutation lands here first, and the sync engine merges remote changes back
// into it. It runs in embedded mode with WAL for concurrent reads.
//
// Layout:
//   - members, reasons, records: one row per entity, tombstones included
//   - pending_ops: the ordered queue of not-yet-synced mutations (see the
//     queue package, which owns reads and writes of this table)
//   - meta: scalar values, currently the last-sync watermark
//
// Soft deletes: rows are never removed by normal operations. Deleting flips
// is_deleted and bumps updated_at, and every user-facing read filters
// tombstones out. CompactTombstones physically removes tombstones older than
// a retention window; it is only invoked through an explicit command.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mvillega/finanzas/internal/schema"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// watermarkKey is the meta row holding the last successful sync time.
const watermarkKey = "last_sync"

// dateFormat stores record dates as plain calendar days.
const dateFormat = "2006-01-02"

// DB wraps the embedded SQLite connection holding local finance data.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The parent directory is created if missing. A corrupt or unreadable
// database file is moved aside to <path>.corrupt.<timestamp> and replaced
// with a fresh empty store, so startup never fails on bad persisted data.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := open(path)
	if err == nil {
		return db, nil
	}

	// Bad persisted state: move the file aside and start empty.
	backup := fmt.Sprintf("%s.corrupt.%s", path, time.Now().Format("20060102-150405"))
	if renameErr := os.Rename(path, backup); renameErr != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Warning: database unreadable (%v); moved to %s and starting empty\n", err, backup)

	return open(path)
}

func open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	// Surface corruption at open time instead of on first query.
	var check string
	if err := db.conn.QueryRow("PRAGMA quick_check").Scan(&check); err != nil || check != "ok" {
		_ = db.Close()
		if err == nil {
			err = fmt.Errorf("quick_check reported %q", check)
		}
		return nil, fmt.Errorf("database integrity check failed: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
// The queue package uses this to share the same database file.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_protected INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS reasons (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		description TEXT NOT NULL,
		is_quick_reason INTEGER NOT NULL DEFAULT 0,
		is_protected INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		date TEXT NOT NULL,
		member_id TEXT NOT NULL,
		reason_id TEXT NOT NULL,
		movement TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS pending_ops (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		op TEXT NOT NULL,
		collection TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_members_name ON members(name);
	CREATE INDEX IF NOT EXISTS idx_reasons_description ON reasons(description);
	CREATE INDEX IF NOT EXISTS idx_records_date ON records(date);
	CREATE INDEX IF NOT EXISTS idx_records_member ON records(member_id);
	CREATE INDEX IF NOT EXISTS idx_records_reason ON records(reason_id);
	CREATE INDEX IF NOT EXISTS idx_records_listing
	    ON records(is_deleted, date, created_at);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// UpsertMember inserts or overwrites a member by ID.
// Overwrite-by-ID is the merge primitive: remote rows pulled during sync win
// over whatever is stored locally for the same ID, tombstones included.
func (db *DB) UpsertMember(ctx context.Context, m *schema.Member) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid member: %w", err)
	}

	query := `
	INSERT INTO members (id, owner_id, name, is_protected, created_at, updated_at, is_deleted)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		name = excluded.name,
		is_protected = excluded.is_protected,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		is_deleted = excluded.is_deleted
	`

	_, err := db.conn.ExecContext(ctx, query,
		m.ID, m.OwnerID, m.Name, boolToInt(m.IsProtected),
		m.CreatedAt.Format(time.RFC3339Nano), m.UpdatedAt.Format(time.RFC3339Nano),
		boolToInt(m.IsDeleted),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert member %s: %w", m.ID, err)
	}

	return nil
}

// UpsertReason inserts or overwrites a reason by ID.
func (db *DB) UpsertReason(ctx context.Context, r *schema.Reason) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid reason: %w", err)
	}

	query := `
	INSERT INTO reasons (id, owner_id, description, is_quick_reason, is_protected, created_at, updated_at, is_deleted)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		description = excluded.description,
		is_quick_reason = excluded.is_quick_reason,
		is_protected = excluded.is_protected,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		is_deleted = excluded.is_deleted
	`

	_, err := db.conn.ExecContext(ctx, query,
		r.ID, r.OwnerID, r.Description, boolToInt(r.IsQuickReason), boolToInt(r.IsProtected),
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
		boolToInt(r.IsDeleted),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reason %s: %w", r.ID, err)
	}

	return nil
}

// UpsertRecord inserts or overwrites a record by ID.
func (db *DB) UpsertRecord(ctx context.Context, r *schema.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	query := `
	INSERT INTO records (id, owner_id, date, member_id, reason_id, movement, amount, description, created_at, updated_at, is_deleted)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		date = excluded.date,
		member_id = excluded.member_id,
		reason_id = excluded.reason_id,
		movement = excluded.movement,
		amount = excluded.amount,
		description = excluded.description,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		is_deleted = excluded.is_deleted
	`

	_, err := db.conn.ExecContext(ctx, query,
		r.ID, r.OwnerID, r.Date.Format(dateFormat), r.MemberID, r.ReasonID,
		string(r.Movement), r.Amount.String(), r.Description,
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano),
		boolToInt(r.IsDeleted),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
	}

	return nil
}

// GetMember retrieves a member by ID, tombstones included.
// Returns sql.ErrNoRows if no row exists.
func (db *DB) GetMember(ctx context.Context, id string) (*schema.Member, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT id, owner_id, name, is_protected, created_at, updated_at, is_deleted
	FROM members WHERE id = ?`, id)
	return scanMember(row)
}

// GetReason retrieves a reason by ID, tombstones included.
func (db *DB) GetReason(ctx context.Context, id string) (*schema.Reason, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT id, owner_id, description, is_quick_reason, is_protected, created_at, updated_at, is_deleted
	FROM reasons WHERE id = ?`, id)
	return scanReason(row)
}

// GetRecord retrieves a record by ID, tombstones included.
func (db *DB) GetRecord(ctx context.Context, id string) (*schema.Record, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT id, owner_id, date, member_id, reason_id, movement, amount, description, created_at, updated_at, is_deleted
	FROM records WHERE id = ?`, id)
	return scanRecord(row)
}

// ListMembers returns all non-deleted members ordered by name.
func (db *DB) ListMembers(ctx context.Context) ([]*schema.Member, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, owner_id, name, is_protected, created_at, updated_at, is_deleted
	FROM members WHERE is_deleted = 0 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*schema.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ListReasons returns all non-deleted reasons ordered by description.
func (db *DB) ListReasons(ctx context.Context) ([]*schema.Reason, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, owner_id, description, is_quick_reason, is_protected, created_at, updated_at, is_deleted
	FROM reasons WHERE is_deleted = 0 ORDER BY description ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reasons: %w", err)
	}
	defer rows.Close()

	var reasons []*schema.Reason
	for rows.Next() {
		r, err := scanReason(rows)
		if err != nil {
			return nil, err
		}
		reasons = append(reasons, r)
	}
	return reasons, rows.Err()
}

// RecordFilter configures the ListRecords query.
type RecordFilter struct {
	// MemberID filters to records attributed to one member (empty = all)
	MemberID string
	// ReasonID filters to records with one reason (empty = all)
	ReasonID string
	// Movement filters by movement type (empty = all)
	Movement schema.MovementType
	// From/To bound the record date, inclusive (zero = unbounded)
	From time.Time
	To   time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Offset skips the first N results (for pagination)
	Offset int
}

// ListRecords retrieves non-deleted records matching the filter,
// newest date first.
func (db *DB) ListRecords(ctx context.Context, filter RecordFilter) ([]*schema.Record, error) {
	conditions := []string{"is_deleted = 0"}
	var args []interface{}

	if filter.MemberID != "" {
		conditions = append(conditions, "member_id = ?")
		args = append(args, filter.MemberID)
	}
	if filter.ReasonID != "" {
		conditions = append(conditions, "reason_id = ?")
		args = append(args, filter.ReasonID)
	}
	if filter.Movement != "" {
		conditions = append(conditions, "movement = ?")
		args = append(args, string(filter.Movement))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "date >= ?")
		args = append(args, filter.From.Format(dateFormat))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "date <= ?")
		args = append(args, filter.To.Format(dateFormat))
	}

	query := `
	SELECT id, owner_id, date, member_id, reason_id, movement, amount, description, created_at, updated_at, is_deleted
	FROM records
	WHERE ` + strings.Join(conditions, " AND ") + `
	ORDER BY date DESC, created_at DESC`

	if filter.Limit > 0 || filter.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET; -1 means unlimited.
		limit := filter.Limit
		if limit == 0 {
			limit = -1
		}
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*schema.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// FindMemberByName looks up a non-deleted member by canonical name.
// Returns sql.ErrNoRows if no match exists.
func (db *DB) FindMemberByName(ctx context.Context, name string) (*schema.Member, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT id, owner_id, name, is_protected, created_at, updated_at, is_deleted
	FROM members WHERE is_deleted = 0 AND name = ?`, schema.CanonicalName(name))
	return scanMember(row)
}

// FindReasonByDescription looks up a non-deleted reason by canonical description.
// Returns sql.ErrNoRows if no match exists.
func (db *DB) FindReasonByDescription(ctx context.Context, description string) (*schema.Reason, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT id, owner_id, description, is_quick_reason, is_protected, created_at, updated_at, is_deleted
	FROM reasons WHERE is_deleted = 0 AND description = ?`, schema.CanonicalName(description))
	return scanReason(row)
}

// CountRecordsForMember counts non-deleted records referencing a member.
func (db *DB) CountRecordsForMember(ctx context.Context, memberID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE is_deleted = 0 AND member_id = ?", memberID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records for member %s: %w", memberID, err)
	}
	return count, nil
}

// CountRecordsForReason counts non-deleted records referencing a reason.
func (db *DB) CountRecordsForReason(ctx context.Context, reasonID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE is_deleted = 0 AND reason_id = ?", reasonID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records for reason %s: %w", reasonID, err)
	}
	return count, nil
}

// RecordDates returns the distinct calendar days carrying at least one
// non-deleted record, oldest first.
func (db *DB) RecordDates(ctx context.Context) ([]time.Time, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT DISTINCT date FROM records WHERE is_deleted = 0 ORDER BY date ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query record dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan record date: %w", err)
		}
		t, err := time.ParseInLocation(dateFormat, s, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("failed to parse record date %q: %w", s, err)
		}
		dates = append(dates, t)
	}
	return dates, rows.Err()
}

// MemberCount returns the number of non-deleted members.
func (db *DB) MemberCount(ctx context.Context) (int, error) {
	return db.count(ctx, "members")
}

// ReasonCount returns the number of non-deleted reasons.
func (db *DB) ReasonCount(ctx context.Context) (int, error) {
	return db.count(ctx, "reasons")
}

// RecordCount returns the number of non-deleted records.
func (db *DB) RecordCount(ctx context.Context) (int, error) {
	return db.count(ctx, "records")
}

func (db *DB) count(ctx context.Context, table string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+" WHERE is_deleted = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// Watermark returns the time of the last successful sync pass, or the zero
// time if no pass has completed yet.
func (db *DB) Watermark(ctx context.Context) (time.Time, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = ?", watermarkKey).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse watermark %q: %w", value, err)
	}
	return t, nil
}

// SetWatermark records the time of a successful sync pass.
func (db *DB) SetWatermark(ctx context.Context, t time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		watermarkKey, t.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to set watermark: %w", err)
	}
	return nil
}

// CompactTombstones physically removes tombstones last updated before
// olderThan. Tombstones newer than the cutoff are kept so replicas that have
// not synced since the deletion still receive it. Returns the number of rows
// removed.
func (db *DB) CompactTombstones(ctx context.Context, olderThan time.Time) (int, error) {
	cutoff := olderThan.Format(time.RFC3339Nano)
	total := 0
	for _, table := range []string{"members", "reasons", "records"} {
		res, err := db.conn.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE is_deleted = 1 AND updated_at < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("failed to compact %s tombstones: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to count compacted %s rows: %w", table, err)
		}
		total += int(n)
	}
	return total, nil
}

// scanner abstracts sql.Row and sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMember(s scanner) (*schema.Member, error) {
	var m schema.Member
	var protected, deleted int
	var createdAt, updatedAt string

	err := s.Scan(&m.ID, &m.OwnerID, &m.Name, &protected, &createdAt, &updatedAt, &deleted)
	if err != nil {
		return nil, err
	}

	m.IsProtected = protected != 0
	m.IsDeleted = deleted != 0
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse member created_at: %w", err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse member updated_at: %w", err)
	}
	return &m, nil
}

func scanReason(s scanner) (*schema.Reason, error) {
	var r schema.Reason
	var quick, protected, deleted int
	var createdAt, updatedAt string

	err := s.Scan(&r.ID, &r.OwnerID, &r.Description, &quick, &protected, &createdAt, &updatedAt, &deleted)
	if err != nil {
		return nil, err
	}

	r.IsQuickReason = quick != 0
	r.IsProtected = protected != 0
	r.IsDeleted = deleted != 0
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse reason created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse reason updated_at: %w", err)
	}
	return &r, nil
}

func scanRecord(s scanner) (*schema.Record, error) {
	var r schema.Record
	var deleted int
	var date, amount, createdAt, updatedAt string

	err := s.Scan(&r.ID, &r.OwnerID, &date, &r.MemberID, &r.ReasonID,
		(*string)(&r.Movement), &amount, &r.Description, &createdAt, &updatedAt, &deleted)
	if err != nil {
		return nil, err
	}

	r.IsDeleted = deleted != 0
	if r.Date, err = time.ParseInLocation(dateFormat, date, time.UTC); err != nil {
		return nil, fmt.Errorf("failed to parse record date: %w", err)
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse record amount %q: %w", amount, err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse record created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse record updated_at: %w", err)
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
