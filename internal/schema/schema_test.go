package schema

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testEntity() Entity {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	return Entity{
		ID:        "ent-1",
		OwnerID:   "owner-1",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNormalizeAmount(t *testing.T) {
	tests := []struct {
		name     string
		movement MovementType
		amount   string
		want     string
	}{
		{"income positive stays", MovementIncome, "150", "150"},
		{"income negative flips", MovementIncome, "-150", "150"},
		{"expense positive flips", MovementExpense, "150", "-150"},
		{"expense negative stays", MovementExpense, "-150", "-150"},
		{"investment positive flips", MovementInvestment, "99.50", "-99.5"},
		{"zero unchanged", MovementExpense, "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.amount)
			got := NormalizeAmount(tt.movement, amount)
			if got.String() != tt.want {
				t.Errorf("NormalizeAmount(%s, %s) = %s, want %s", tt.movement, tt.amount, got, tt.want)
			}
		})
	}
}

func TestRecordNormalizeSign(t *testing.T) {
	rec := &Record{
		Entity:   testEntity(),
		Date:     DateOnly(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		MemberID: "m-1",
		ReasonID: "r-1",
		Movement: MovementExpense,
		Amount:   decimal.NewFromInt(150),
	}

	if err := rec.Validate(); err == nil {
		t.Fatal("expected validation error for positive expense amount")
	}

	rec.NormalizeSign()
	if rec.Amount.String() != "-150" {
		t.Errorf("normalized amount = %s, want -150", rec.Amount)
	}
	if err := rec.Validate(); err != nil {
		t.Errorf("Validate after NormalizeSign failed: %v", err)
	}
}

func TestParseMovementType(t *testing.T) {
	tests := []struct {
		in      string
		want    MovementType
		wantErr bool
	}{
		{"INCOME", MovementIncome, false},
		{"income", MovementIncome, false},
		{" Expense ", MovementExpense, false},
		{"investment", MovementInvestment, false},
		{"transfer", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMovementType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMovementType(%q) expected error", tt.in)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("ParseMovementType(%q) error type = %T, want *ValidationError", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMovementType(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMovementType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalName(t *testing.T) {
	if got := CanonicalName("  ana maría "); got != "ANA MARÍA" {
		t.Errorf("CanonicalName = %q, want %q", got, "ANA MARÍA")
	}
}

func TestMemberValidate(t *testing.T) {
	m := &Member{Entity: testEntity(), Name: "BETO"}
	if err := m.Validate(); err != nil {
		t.Errorf("valid member rejected: %v", err)
	}

	m.Name = "beto"
	if err := m.Validate(); err == nil {
		t.Error("non-canonical name accepted")
	}

	m.Name = "   "
	if err := m.Validate(); err == nil {
		t.Error("blank name accepted")
	}
}

func TestRecordValidateDate(t *testing.T) {
	rec := &Record{
		Entity:   testEntity(),
		Date:     time.Date(2024, 6, 1, 13, 45, 0, 0, time.UTC),
		MemberID: "m-1",
		ReasonID: "r-1",
		Movement: MovementIncome,
		Amount:   decimal.NewFromInt(10),
	}
	if err := rec.Validate(); err == nil {
		t.Error("date with time component accepted")
	}

	rec.Date = DateOnly(rec.Date)
	if err := rec.Validate(); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
}

func TestRecordValidateDescriptionLength(t *testing.T) {
	desc := make([]rune, MaxDescriptionLength+1)
	for i := range desc {
		desc[i] = 'x'
	}
	rec := &Record{
		Entity:      testEntity(),
		Date:        DateOnly(time.Now()),
		MemberID:    "m-1",
		ReasonID:    "r-1",
		Movement:    MovementIncome,
		Amount:      decimal.NewFromInt(1),
		Description: string(desc),
	}
	if err := rec.Validate(); err == nil {
		t.Error("over-long description accepted")
	}
}

func TestMarkDeleted(t *testing.T) {
	e := testEntity()
	before := e.UpdatedAt
	now := before.Add(time.Minute)

	e.MarkDeleted(now)
	if !e.IsDeleted {
		t.Error("IsDeleted not set")
	}
	if !e.UpdatedAt.After(before) {
		t.Error("UpdatedAt not bumped on delete")
	}
}

func TestImportParseErrorMessage(t *testing.T) {
	err := &ImportParseError{Rows: []RowError{
		{Line: 3, Message: "missing monto"},
		{Line: 7, Message: "unknown member \"XYZ\""},
	}}
	msg := err.Error()
	if want := "line 3: missing monto"; !strings.Contains(msg, want) {
		t.Errorf("error message %q missing %q", msg, want)
	}
	if want := "line 7"; !strings.Contains(msg, want) {
		t.Errorf("error message %q missing %q", msg, want)
	}
}
