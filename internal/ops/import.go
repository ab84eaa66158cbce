package ops

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mvillega/finanzas/internal/csvio"
	"github.com/mvillega/finanzas/internal/schema"
	"github.com/mvillega/finanzas/internal/store"
)

// ImportMode selects how a bulk import treats existing entities.
type ImportMode int

const (
	// ModeAdd creates entries that don't exist yet. Existing entities are
	// kept under their id, but the file's flags still apply to them: the
	// quick flag is set as given and protection can be granted (never
	// revoked).
	ModeAdd ImportMode = iota

	// ModeReplace soft-deletes every existing non-protected entity of the
	// kind that does not re-appear in the file, then creates the imported
	// entries. Protected entities survive; kept entities absorb the file's
	// flags like ModeAdd.
	ModeReplace
)

// ParseImportMode parses "add" or "replace" case-insensitively.
func ParseImportMode(s string) (ImportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add":
		return ModeAdd, nil
	case "replace":
		return ModeReplace, nil
	}
	return 0, &schema.ValidationError{Message: fmt.Sprintf("unknown import mode %q (want add or replace)", s)}
}

// String returns the mode name.
func (m ImportMode) String() string {
	if m == ModeReplace {
		return "replace"
	}
	return "add"
}

// ImportResult reports what a bulk import did.
type ImportResult struct {
	Created int
	Skipped int
	Removed int
}

// ImportMembers imports parsed member entries. Validation is all-or-nothing:
// if any entry is invalid (including a duplicate name within the file),
// nothing is created and the problems come back as *schema.ImportParseError.
func (s *Service) ImportMembers(ctx context.Context, entries []csvio.MemberEntry, mode ImportMode) (*ImportResult, error) {
	var problems []schema.RowError
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		canonical := schema.CanonicalName(e.Name)
		if canonical == "" {
			problems = append(problems, schema.RowError{Line: e.Line, Message: "nombre is required"})
			continue
		}
		if first, dup := seen[canonical]; dup {
			problems = append(problems, schema.RowError{
				Line:    e.Line,
				Message: fmt.Sprintf("duplicate member %q (first on line %d)", canonical, first),
			})
			continue
		}
		seen[canonical] = e.Line
	}
	if len(problems) > 0 {
		return nil, &schema.ImportParseError{Rows: problems}
	}

	result := &ImportResult{}
	if mode == ModeReplace {
		removed, err := s.replaceMembers(ctx, seen)
		if err != nil {
			return nil, err
		}
		result.Removed = removed
	}

	for _, e := range entries {
		canonical := schema.CanonicalName(e.Name)
		existing, err := s.store.FindMemberByName(ctx, canonical)
		if err == nil {
			// Kept member: the file can still grant protection (never revoke it).
			if e.IsProtected && !existing.IsProtected {
				if _, err := s.ProtectMember(ctx, existing.ID); err != nil {
					return nil, fmt.Errorf("failed to protect member %q: %w", canonical, err)
				}
			}
			result.Skipped++
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to look up member %q: %w", canonical, err)
		}
		if _, err := s.AddMember(ctx, canonical, e.IsProtected); err != nil {
			return nil, fmt.Errorf("failed to import member %q: %w", canonical, err)
		}
		result.Created++
	}
	s.logger.Printf("Imported members (%s): created=%d skipped=%d removed=%d",
		mode, result.Created, result.Skipped, result.Removed)
	return result, nil
}

// ImportReasons imports parsed reason entries with the same semantics as
// ImportMembers.
func (s *Service) ImportReasons(ctx context.Context, entries []csvio.ReasonEntry, mode ImportMode) (*ImportResult, error) {
	var problems []schema.RowError
	seen := make(map[string]int, len(entries))
	for _, e := range entries {
		canonical := schema.CanonicalName(e.Description)
		if canonical == "" {
			problems = append(problems, schema.RowError{Line: e.Line, Message: "descripcion is required"})
			continue
		}
		if first, dup := seen[canonical]; dup {
			problems = append(problems, schema.RowError{
				Line:    e.Line,
				Message: fmt.Sprintf("duplicate reason %q (first on line %d)", canonical, first),
			})
			continue
		}
		seen[canonical] = e.Line
	}
	if len(problems) > 0 {
		return nil, &schema.ImportParseError{Rows: problems}
	}

	result := &ImportResult{}
	if mode == ModeReplace {
		removed, err := s.replaceReasons(ctx, seen)
		if err != nil {
			return nil, err
		}
		result.Removed = removed
	}

	for _, e := range entries {
		canonical := schema.CanonicalName(e.Description)
		existing, err := s.store.FindReasonByDescription(ctx, canonical)
		if err == nil {
			// Kept reason: the file's quick flag applies, and protection can
			// still be granted (never revoked).
			if existing.IsQuickReason != e.IsQuickReason {
				if _, err := s.SetQuickReason(ctx, existing.ID, e.IsQuickReason); err != nil {
					return nil, fmt.Errorf("failed to update quick flag for reason %q: %w", canonical, err)
				}
			}
			if e.IsProtected && !existing.IsProtected {
				if _, err := s.ProtectReason(ctx, existing.ID); err != nil {
					return nil, fmt.Errorf("failed to protect reason %q: %w", canonical, err)
				}
			}
			result.Skipped++
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to look up reason %q: %w", canonical, err)
		}
		if _, err := s.AddReason(ctx, canonical, e.IsQuickReason, e.IsProtected); err != nil {
			return nil, fmt.Errorf("failed to import reason %q: %w", canonical, err)
		}
		result.Created++
	}
	s.logger.Printf("Imported reasons (%s): created=%d skipped=%d removed=%d",
		mode, result.Created, result.Skipped, result.Removed)
	return result, nil
}

// ImportRecords imports parsed record entries. Member and reason names must
// all resolve against current non-deleted entities before anything is
// created; unresolved names come back together as *schema.ImportParseError.
// ModeReplace soft-deletes every existing record first (records carry no
// protection). ModeAdd appends: records have no natural key to dedupe on.
func (s *Service) ImportRecords(ctx context.Context, entries []csvio.RecordEntry, mode ImportMode) (*ImportResult, error) {
	var problems []schema.RowError
	inputs := make([]RecordInput, 0, len(entries))
	for _, e := range entries {
		member, err := s.store.FindMemberByName(ctx, e.MemberName)
		if errors.Is(err, sql.ErrNoRows) {
			problems = append(problems, schema.RowError{
				Line:    e.Line,
				Message: fmt.Sprintf("unknown member %q", e.MemberName),
			})
		} else if err != nil {
			return nil, fmt.Errorf("failed to look up member %q: %w", e.MemberName, err)
		}
		reason, err := s.store.FindReasonByDescription(ctx, e.ReasonDescription)
		if errors.Is(err, sql.ErrNoRows) {
			problems = append(problems, schema.RowError{
				Line:    e.Line,
				Message: fmt.Sprintf("unknown reason %q", e.ReasonDescription),
			})
		} else if err != nil {
			return nil, fmt.Errorf("failed to look up reason %q: %w", e.ReasonDescription, err)
		}
		if member == nil || reason == nil {
			continue
		}
		inputs = append(inputs, RecordInput{
			Date:        e.Date,
			MemberID:    member.ID,
			ReasonID:    reason.ID,
			Movement:    e.Movement,
			Amount:      e.Amount,
			Description: e.Description,
		})
	}
	if len(problems) > 0 {
		return nil, &schema.ImportParseError{Rows: problems}
	}

	result := &ImportResult{}
	if mode == ModeReplace {
		removed, err := s.replaceRecords(ctx)
		if err != nil {
			return nil, err
		}
		result.Removed = removed
	}

	for i, in := range inputs {
		if _, err := s.AddRecord(ctx, in); err != nil {
			return nil, fmt.Errorf("failed to import record on line %d: %w", entries[i].Line, err)
		}
		result.Created++
	}
	s.logger.Printf("Imported records (%s): created=%d removed=%d", mode, result.Created, result.Removed)
	return result, nil
}

// replaceMembers soft-deletes every non-protected member not re-appearing in
// the import. A member that is both present locally and in the file is left
// alone so its records keep their reference.
func (s *Service) replaceMembers(ctx context.Context, keep map[string]int) (int, error) {
	members, err := s.store.ListMembers(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range members {
		if m.IsProtected {
			continue
		}
		if _, ok := keep[m.Name]; ok {
			continue
		}
		if err := s.softDeleteMember(ctx, m); err != nil {
			return removed, fmt.Errorf("failed to remove member %q: %w", m.Name, err)
		}
		removed++
	}
	return removed, nil
}

func (s *Service) replaceReasons(ctx context.Context, keep map[string]int) (int, error) {
	reasons, err := s.store.ListReasons(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, r := range reasons {
		if r.IsProtected {
			continue
		}
		if _, ok := keep[r.Description]; ok {
			continue
		}
		if err := s.softDeleteReason(ctx, r); err != nil {
			return removed, fmt.Errorf("failed to remove reason %q: %w", r.Description, err)
		}
		removed++
	}
	return removed, nil
}

func (s *Service) replaceRecords(ctx context.Context) (int, error) {
	records, err := s.store.ListRecords(ctx, store.RecordFilter{})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, r := range records {
		r.MarkDeleted(s.now().UTC())
		if err := s.store.UpsertRecord(ctx, r); err != nil {
			return removed, fmt.Errorf("failed to remove record %s: %w", r.ID, err)
		}
		if err := s.enqueueDelete(ctx, schema.CollectionRecords, r.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
