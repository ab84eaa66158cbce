// Package ops is the write entry point for members, reasons and records.
//
// Every mutation follows the same two-step discipline: validate, write the
// entity store optimistically, then append a matching operation to the
// pending queue. The caller gets its answer from local state immediately;
// the sync engine replays the queue against the remote store later. Reads go
// straight to the store and are not mediated here.
//
// Protected members and reasons cannot be renamed or deleted, and protection
// can be granted but never revoked. Members and reasons still referenced by
// records cannot be deleted. All deletes are soft: the entity becomes a
// tombstone so the deletion propagates to other replicas.
package ops

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mvillega/finanzas/internal/queue"
	"github.com/mvillega/finanzas/internal/schema"
	"github.com/mvillega/finanzas/internal/store"
)

// ErrNotFound reports a lookup by ID that matched nothing, or matched only a
// tombstone.
var ErrNotFound = errors.New("not found")

// Service performs validated mutations against the local store and queues
// them for synchronization.
type Service struct {
	store   *store.DB
	queue   *queue.Queue
	ownerID string
	logger  *log.Logger
	now     func() time.Time
	newID   func() string
}

// Config configures a Service.
type Config struct {
	// OwnerID is stamped on every created entity.
	OwnerID string

	// Logger for mutation activity (default: stderr logger).
	Logger *log.Logger

	// Now supplies timestamps (default: time.Now). Tests override it.
	Now func() time.Time

	// NewID supplies entity IDs (default: random UUIDs).
	NewID func() string
}

// NewService creates a Service over an initialized store and its queue.
func NewService(db *store.DB, q *queue.Queue, cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[ops] ", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Service{
		store:   db,
		queue:   q,
		ownerID: cfg.OwnerID,
		logger:  cfg.Logger,
		now:     cfg.Now,
		newID:   cfg.NewID,
	}
}

// Store exposes the underlying entity store. Reads are not mediated by the
// service, so callers list and filter directly.
func (s *Service) Store() *store.DB {
	return s.store
}

// AddMember creates a member. The name is canonicalized, and must be unique
// among non-deleted members (case-insensitive).
func (s *Service) AddMember(ctx context.Context, name string, protected bool) (*schema.Member, error) {
	canonical := schema.CanonicalName(name)
	if canonical == "" {
		return nil, &schema.ValidationError{Message: "member name is required"}
	}
	if _, err := s.store.FindMemberByName(ctx, canonical); err == nil {
		return nil, &schema.ValidationError{Message: fmt.Sprintf("member %q already exists", canonical)}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check member uniqueness: %w", err)
	}

	now := s.now().UTC()
	m := &schema.Member{
		Entity: schema.Entity{
			ID:        s.newID(),
			OwnerID:   s.ownerID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Name:        canonical,
		IsProtected: protected,
	}
	if err := s.store.UpsertMember(ctx, m); err != nil {
		return nil, err
	}
	if err := s.enqueueCreate(ctx, schema.CollectionMembers, m.ID, m); err != nil {
		return nil, err
	}
	s.logger.Printf("Added member %s (%s)", m.Name, m.ID)
	return m, nil
}

// RenameMember changes a member's name. Protected members cannot be renamed.
func (s *Service) RenameMember(ctx context.Context, id, newName string) (*schema.Member, error) {
	m, err := s.liveMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.IsProtected {
		return nil, &schema.ProtectedEntityError{Collection: schema.CollectionMembers, ID: id}
	}

	canonical := schema.CanonicalName(newName)
	if canonical == "" {
		return nil, &schema.ValidationError{Message: "member name is required"}
	}
	if canonical == m.Name {
		return m, nil
	}
	if other, err := s.store.FindMemberByName(ctx, canonical); err == nil && other.ID != id {
		return nil, &schema.ValidationError{Message: fmt.Sprintf("member %q already exists", canonical)}
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check member uniqueness: %w", err)
	}

	m.Name = canonical
	m.Touch(s.now().UTC())
	if err := s.store.UpsertMember(ctx, m); err != nil {
		return nil, err
	}
	err = s.enqueueUpdate(ctx, schema.CollectionMembers, m.ID, map[string]any{
		"name":      m.Name,
		"updatedAt": m.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ProtectMember grants protection to a member. Protection is one-way: there
// is no unprotect.
func (s *Service) ProtectMember(ctx context.Context, id string) (*schema.Member, error) {
	m, err := s.liveMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.IsProtected {
		return m, nil
	}

	m.IsProtected = true
	m.Touch(s.now().UTC())
	if err := s.store.UpsertMember(ctx, m); err != nil {
		return nil, err
	}
	err = s.enqueueUpdate(ctx, schema.CollectionMembers, m.ID, map[string]any{
		"isProtected": true,
		"updatedAt":   m.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMember soft-deletes a member. Protected members and members still
// referenced by non-deleted records are rejected.
func (s *Service) DeleteMember(ctx context.Context, id string) error {
	m, err := s.liveMember(ctx, id)
	if err != nil {
		return err
	}
	if m.IsProtected {
		return &schema.ProtectedEntityError{Collection: schema.CollectionMembers, ID: id}
	}
	refs, err := s.store.CountRecordsForMember(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return &schema.ReferentialIntegrityError{Collection: schema.CollectionMembers, ID: id, References: refs}
	}
	return s.softDeleteMember(ctx, m)
}

// AddReason creates a reason. The description is canonicalized, and must be
// unique among non-deleted reasons (case-insensitive).
func (s *Service) AddReason(ctx context.Context, description string, quick, protected bool) (*schema.Reason, error) {
	canonical := schema.CanonicalName(description)
	if canonical == "" {
		return nil, &schema.ValidationError{Message: "reason description is required"}
	}
	if _, err := s.store.FindReasonByDescription(ctx, canonical); err == nil {
		return nil, &schema.ValidationError{Message: fmt.Sprintf("reason %q already exists", canonical)}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check reason uniqueness: %w", err)
	}

	now := s.now().UTC()
	r := &schema.Reason{
		Entity: schema.Entity{
			ID:        s.newID(),
			OwnerID:   s.ownerID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Description:   canonical,
		IsQuickReason: quick,
		IsProtected:   protected,
	}
	if err := s.store.UpsertReason(ctx, r); err != nil {
		return nil, err
	}
	if err := s.enqueueCreate(ctx, schema.CollectionReasons, r.ID, r); err != nil {
		return nil, err
	}
	s.logger.Printf("Added reason %s (%s)", r.Description, r.ID)
	return r, nil
}

// RenameReason changes a reason's description. Protected reasons cannot be
// renamed.
func (s *Service) RenameReason(ctx context.Context, id, newDescription string) (*schema.Reason, error) {
	r, err := s.liveReason(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.IsProtected {
		return nil, &schema.ProtectedEntityError{Collection: schema.CollectionReasons, ID: id}
	}

	canonical := schema.CanonicalName(newDescription)
	if canonical == "" {
		return nil, &schema.ValidationError{Message: "reason description is required"}
	}
	if canonical == r.Description {
		return r, nil
	}
	if other, err := s.store.FindReasonByDescription(ctx, canonical); err == nil && other.ID != id {
		return nil, &schema.ValidationError{Message: fmt.Sprintf("reason %q already exists", canonical)}
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check reason uniqueness: %w", err)
	}

	r.Description = canonical
	r.Touch(s.now().UTC())
	if err := s.store.UpsertReason(ctx, r); err != nil {
		return nil, err
	}
	err = s.enqueueUpdate(ctx, schema.CollectionReasons, r.ID, map[string]any{
		"description": r.Description,
		"updatedAt":   r.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SetQuickReason flags or unflags a reason for the quick-entry list. The
// flag is presentational, so protection does not apply.
func (s *Service) SetQuickReason(ctx context.Context, id string, quick bool) (*schema.Reason, error) {
	r, err := s.liveReason(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.IsQuickReason == quick {
		return r, nil
	}

	r.IsQuickReason = quick
	r.Touch(s.now().UTC())
	if err := s.store.UpsertReason(ctx, r); err != nil {
		return nil, err
	}
	err = s.enqueueUpdate(ctx, schema.CollectionReasons, r.ID, map[string]any{
		"isQuickReason": quick,
		"updatedAt":     r.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ProtectReason grants protection to a reason. Protection is one-way.
func (s *Service) ProtectReason(ctx context.Context, id string) (*schema.Reason, error) {
	r, err := s.liveReason(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.IsProtected {
		return r, nil
	}

	r.IsProtected = true
	r.Touch(s.now().UTC())
	if err := s.store.UpsertReason(ctx, r); err != nil {
		return nil, err
	}
	err = s.enqueueUpdate(ctx, schema.CollectionReasons, r.ID, map[string]any{
		"isProtected": true,
		"updatedAt":   r.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteReason soft-deletes a reason. Protected reasons and reasons still
// referenced by non-deleted records are rejected.
func (s *Service) DeleteReason(ctx context.Context, id string) error {
	r, err := s.liveReason(ctx, id)
	if err != nil {
		return err
	}
	if r.IsProtected {
		return &schema.ProtectedEntityError{Collection: schema.CollectionReasons, ID: id}
	}
	refs, err := s.store.CountRecordsForReason(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return &schema.ReferentialIntegrityError{Collection: schema.CollectionReasons, ID: id, References: refs}
	}
	return s.softDeleteReason(ctx, r)
}

// RecordInput holds the fields needed to create a record.
type RecordInput struct {
	Date        time.Time
	MemberID    string
	ReasonID    string
	Movement    schema.MovementType
	Amount      decimal.Decimal
	Description string
}

// AddRecord creates a record. The member and reason must exist and not be
// deleted. The amount's sign is normalized to match the movement type, so
// callers may pass magnitudes.
func (s *Service) AddRecord(ctx context.Context, in RecordInput) (*schema.Record, error) {
	if _, err := s.liveMember(ctx, in.MemberID); err != nil {
		return nil, err
	}
	if _, err := s.liveReason(ctx, in.ReasonID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	r := &schema.Record{
		Entity: schema.Entity{
			ID:        s.newID(),
			OwnerID:   s.ownerID,
			CreatedAt: now,
			UpdatedAt: now,
		},
		Date:        schema.DateOnly(in.Date),
		MemberID:    in.MemberID,
		ReasonID:    in.ReasonID,
		Movement:    in.Movement,
		Amount:      schema.NormalizeAmount(in.Movement, in.Amount),
		Description: in.Description,
	}
	if err := s.store.UpsertRecord(ctx, r); err != nil {
		return nil, err
	}
	if err := s.enqueueCreate(ctx, schema.CollectionRecords, r.ID, r); err != nil {
		return nil, err
	}
	return r, nil
}

// RecordChanges holds the fields an edit may change. Nil means unchanged.
type RecordChanges struct {
	Date        *time.Time
	MemberID    *string
	ReasonID    *string
	Movement    *schema.MovementType
	Amount      *decimal.Decimal
	Description *string
}

// UpdateRecord applies changes to a record. Changed member or reason
// references must resolve to live entities. The amount's sign is
// re-normalized against the (possibly changed) movement type.
func (s *Service) UpdateRecord(ctx context.Context, id string, changes RecordChanges) (*schema.Record, error) {
	r, err := s.liveRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if changes.Date != nil {
		r.Date = schema.DateOnly(*changes.Date)
		fields["date"] = r.Date.Format(time.RFC3339Nano)
	}
	if changes.MemberID != nil {
		if _, err := s.liveMember(ctx, *changes.MemberID); err != nil {
			return nil, err
		}
		r.MemberID = *changes.MemberID
		fields["memberId"] = r.MemberID
	}
	if changes.ReasonID != nil {
		if _, err := s.liveReason(ctx, *changes.ReasonID); err != nil {
			return nil, err
		}
		r.ReasonID = *changes.ReasonID
		fields["reasonId"] = r.ReasonID
	}
	if changes.Movement != nil {
		r.Movement = *changes.Movement
		fields["movementType"] = string(r.Movement)
	}
	if changes.Amount != nil {
		r.Amount = *changes.Amount
	}
	if changes.Movement != nil || changes.Amount != nil {
		r.Amount = schema.NormalizeAmount(r.Movement, r.Amount)
		fields["amount"] = r.Amount
	}
	if changes.Description != nil {
		r.Description = *changes.Description
		fields["description"] = r.Description
	}
	if len(fields) == 0 {
		return r, nil
	}

	r.Touch(s.now().UTC())
	fields["updatedAt"] = r.UpdatedAt.Format(time.RFC3339Nano)
	if err := s.store.UpsertRecord(ctx, r); err != nil {
		return nil, err
	}
	if err := s.enqueueUpdate(ctx, schema.CollectionRecords, r.ID, fields); err != nil {
		return nil, err
	}
	return r, nil
}

// DeleteRecord soft-deletes a record.
func (s *Service) DeleteRecord(ctx context.Context, id string) error {
	r, err := s.liveRecord(ctx, id)
	if err != nil {
		return err
	}
	r.MarkDeleted(s.now().UTC())
	if err := s.store.UpsertRecord(ctx, r); err != nil {
		return err
	}
	return s.enqueueDelete(ctx, schema.CollectionRecords, r.ID)
}

func (s *Service) softDeleteMember(ctx context.Context, m *schema.Member) error {
	m.MarkDeleted(s.now().UTC())
	if err := s.store.UpsertMember(ctx, m); err != nil {
		return err
	}
	return s.enqueueDelete(ctx, schema.CollectionMembers, m.ID)
}

func (s *Service) softDeleteReason(ctx context.Context, r *schema.Reason) error {
	r.MarkDeleted(s.now().UTC())
	if err := s.store.UpsertReason(ctx, r); err != nil {
		return err
	}
	return s.enqueueDelete(ctx, schema.CollectionReasons, r.ID)
}

// liveMember fetches a member, treating tombstones as not found.
func (s *Service) liveMember(ctx context.Context, id string) (*schema.Member, error) {
	m, err := s.store.GetMember(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if m.IsDeleted {
		return nil, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	return m, nil
}

func (s *Service) liveReason(ctx context.Context, id string) (*schema.Reason, error) {
	r, err := s.store.GetReason(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reason %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if r.IsDeleted {
		return nil, fmt.Errorf("reason %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (s *Service) liveRecord(ctx context.Context, id string) (*schema.Record, error) {
	r, err := s.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if r.IsDeleted {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return r, nil
}

func (s *Service) enqueueCreate(ctx context.Context, collection schema.Collection, id string, entity any) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", collection, id, err)
	}
	return s.queue.Enqueue(ctx, &queue.Op{
		Type:       queue.OpCreate,
		Collection: collection,
		EntityID:   id,
		Payload:    payload,
		CreatedAt:  s.now().UTC(),
	})
}

func (s *Service) enqueueUpdate(ctx context.Context, collection schema.Collection, id string, fields map[string]any) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s update: %w", collection, id, err)
	}
	return s.queue.Enqueue(ctx, &queue.Op{
		Type:       queue.OpUpdate,
		Collection: collection,
		EntityID:   id,
		Payload:    payload,
		CreatedAt:  s.now().UTC(),
	})
}

func (s *Service) enqueueDelete(ctx context.Context, collection schema.Collection, id string) error {
	return s.queue.Enqueue(ctx, &queue.Op{
		Type:       queue.OpDelete,
		Collection: collection,
		EntityID:   id,
		CreatedAt:  s.now().UTC(),
	})
}
