package schema

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Collection names the three entity collections. The same names are used for
// the local tables, the pending operation rows and the remote store.
type Collection string

const (
	CollectionMembers Collection = "members"
	CollectionReasons Collection = "reasons"
	CollectionRecords Collection = "records"
)

// Valid reports whether c is one of the known collections.
func (c Collection) Valid() bool {
	switch c {
	case CollectionMembers, CollectionReasons, CollectionRecords:
		return true
	}
	return false
}

// MovementType classifies a financial record.
type MovementType string

const (
	MovementIncome     MovementType = "INCOME"
	MovementExpense    MovementType = "EXPENSE"
	MovementInvestment MovementType = "INVESTMENT"
)

// ParseMovementType parses a movement type case-insensitively.
func ParseMovementType(s string) (MovementType, error) {
	switch MovementType(strings.ToUpper(strings.TrimSpace(s))) {
	case MovementIncome:
		return MovementIncome, nil
	case MovementExpense:
		return MovementExpense, nil
	case MovementInvestment:
		return MovementInvestment, nil
	}
	return "", &ValidationError{Message: fmt.Sprintf("unknown movement type %q", s)}
}

// MaxDescriptionLength bounds free-text descriptions on records.
const MaxDescriptionLength = 500

// Entity carries the fields every synced entity kind shares.
// UpdatedAt is the conflict tie-breaker and the delta-query cursor; it must
// be bumped on every mutation. IsDeleted marks a tombstone: the row is kept
// so the deletion can reach other replicas, and filtered out of all reads.
type Entity struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	IsDeleted bool      `json:"isDeleted"`
}

// Touch bumps UpdatedAt. Call whenever any field changes.
func (e *Entity) Touch(now time.Time) {
	e.UpdatedAt = now
}

// MarkDeleted turns the entity into a tombstone. UpdatedAt is bumped so the
// deletion shows up in delta queries.
func (e *Entity) MarkDeleted(now time.Time) {
	e.IsDeleted = true
	e.UpdatedAt = now
}

// Member is a person financial records are attributed to.
type Member struct {
	Entity
	Name        string `json:"name"`
	IsProtected bool   `json:"isProtected"`
}

// Validate checks the member has valid field values.
func (m *Member) Validate() error {
	if err := validateEntity(&m.Entity); err != nil {
		return err
	}
	if strings.TrimSpace(m.Name) == "" {
		return &ValidationError{Message: "member name is required"}
	}
	if m.Name != CanonicalName(m.Name) {
		return &ValidationError{Message: fmt.Sprintf("member name %q is not canonical", m.Name)}
	}
	return nil
}

// Reason is a category describing why a record exists.
type Reason struct {
	Entity
	Description   string `json:"description"`
	IsQuickReason bool   `json:"isQuickReason"`
	IsProtected   bool   `json:"isProtected"`
}

// Validate checks the reason has valid field values.
func (r *Reason) Validate() error {
	if err := validateEntity(&r.Entity); err != nil {
		return err
	}
	if strings.TrimSpace(r.Description) == "" {
		return &ValidationError{Message: "reason description is required"}
	}
	if r.Description != CanonicalName(r.Description) {
		return &ValidationError{Message: fmt.Sprintf("reason description %q is not canonical", r.Description)}
	}
	return nil
}

// Record is one dated financial movement tied to a member and a reason.
// Amount sign is determined by Movement: income is non-negative, expense and
// investment are non-positive. NormalizeAmount restores the invariant.
type Record struct {
	Entity
	Date        time.Time       `json:"date"`
	MemberID    string          `json:"memberId"`
	ReasonID    string          `json:"reasonId"`
	Movement    MovementType    `json:"movementType"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// Validate checks the record has valid field values.
func (r *Record) Validate() error {
	if err := validateEntity(&r.Entity); err != nil {
		return err
	}
	if r.Date.IsZero() {
		return &ValidationError{Message: "record date is required"}
	}
	if !r.Date.Equal(DateOnly(r.Date)) {
		return &ValidationError{Message: "record date must be a calendar day without a time component"}
	}
	if r.MemberID == "" {
		return &ValidationError{Message: "record member is required"}
	}
	if r.ReasonID == "" {
		return &ValidationError{Message: "record reason is required"}
	}
	if _, err := ParseMovementType(string(r.Movement)); err != nil {
		return err
	}
	if utf8.RuneCountInString(r.Description) > MaxDescriptionLength {
		return &ValidationError{Message: fmt.Sprintf("record description must be %d characters or less (got %d)",
			MaxDescriptionLength, utf8.RuneCountInString(r.Description))}
	}
	if !signMatches(r.Movement, r.Amount) {
		return &ValidationError{Message: fmt.Sprintf("amount %s has the wrong sign for %s", r.Amount, r.Movement)}
	}
	return nil
}

// NormalizeSign forces Amount to the sign required by Movement.
// Income keeps a non-negative amount; expense and investment a non-positive
// one. The magnitude never changes.
func (r *Record) NormalizeSign() {
	r.Amount = NormalizeAmount(r.Movement, r.Amount)
}

// NormalizeAmount returns amount with the sign required by movement.
func NormalizeAmount(movement MovementType, amount decimal.Decimal) decimal.Decimal {
	abs := amount.Abs()
	if movement == MovementIncome {
		return abs
	}
	return abs.Neg()
}

func signMatches(movement MovementType, amount decimal.Decimal) bool {
	if movement == MovementIncome {
		return amount.Sign() >= 0
	}
	return amount.Sign() <= 0
}

// CanonicalName returns the canonical (uppercase, trimmed) form of a member
// name or reason description. Uniqueness checks compare canonical forms.
func CanonicalName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// DateOnly strips the time component, keeping the calendar day in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func validateEntity(e *Entity) error {
	if e.ID == "" {
		return &ValidationError{Message: "id is required"}
	}
	if e.OwnerID == "" {
		return &ValidationError{Message: "owner id is required"}
	}
	if e.CreatedAt.IsZero() {
		return &ValidationError{Message: "created_at is required"}
	}
	if e.UpdatedAt.IsZero() {
		return &ValidationError{Message: "updated_at is required"}
	}
	return nil
}
