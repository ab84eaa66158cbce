package ops

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mvillega/finanzas/internal/csvio"
	"github.com/mvillega/finanzas/internal/schema"
	"github.com/mvillega/finanzas/internal/store"
)

func TestImportMembersAddSkipsExisting(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	if _, err := svc.AddMember(ctx, "Ana", false); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result, err := svc.ImportMembers(ctx, []csvio.MemberEntry{
		{Line: 2, Name: "ana"}, // same canonical name as the seed
		{Line: 3, Name: "Luis"},
	}, ModeAdd)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if result.Created != 1 || result.Skipped != 1 || result.Removed != 0 {
		t.Errorf("result = %+v, want created=1 skipped=1 removed=0", result)
	}
}

func TestImportMembersRejectsDuplicateRowsAtomically(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := setupService(t)

	_, err := svc.ImportMembers(ctx, []csvio.MemberEntry{
		{Line: 2, Name: "Ana"},
		{Line: 3, Name: "ANA"},
	}, ModeAdd)
	var parseErr *schema.ImportParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want ImportParseError", err)
	}
	if parseErr.Rows[0].Line != 3 {
		t.Errorf("error line = %d, want 3", parseErr.Rows[0].Line)
	}

	// Nothing was created.
	n, err := db.MemberCount(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("member count = %d after rejected import, want 0", n)
	}
}

func TestImportMembersReplacePreservesProtected(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := setupService(t)

	if _, err := svc.AddMember(ctx, "Casa", true); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := svc.AddMember(ctx, "Viejo", false); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result, err := svc.ImportMembers(ctx, []csvio.MemberEntry{
		{Line: 2, Name: "Nuevo"},
	}, ModeReplace)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if result.Removed != 1 || result.Created != 1 {
		t.Errorf("result = %+v, want removed=1 created=1", result)
	}

	members, err := db.ListMembers(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	names := make(map[string]bool, len(members))
	for _, m := range members {
		names[m.Name] = true
	}
	if !names["CASA"] || !names["NUEVO"] || names["VIEJO"] {
		t.Errorf("members after replace = %v, want CASA and NUEVO only", names)
	}
}

func TestImportMembersReplaceKeepsReimportedMember(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := setupService(t)

	ana, err := svc.AddMember(ctx, "Ana", false)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result, err := svc.ImportMembers(ctx, []csvio.MemberEntry{
		{Line: 2, Name: "ANA"},
	}, ModeReplace)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if result.Removed != 0 || result.Skipped != 1 {
		t.Errorf("result = %+v, want removed=0 skipped=1", result)
	}

	// The existing entity survives under its original id, so records keep
	// their reference.
	got, err := db.GetMember(ctx, ana.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.IsDeleted {
		t.Error("re-imported member was tombstoned")
	}
}

func TestImportMembersAppliesFileFlagsToKeptMember(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := setupService(t)

	ana, err := svc.AddMember(ctx, "Ana", false)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := svc.ImportMembers(ctx, []csvio.MemberEntry{
		{Line: 2, Name: "ana", IsProtected: true},
	}, ModeAdd); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	got, err := db.GetMember(ctx, ana.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.IsProtected {
		t.Error("kept member did not receive protection from the file")
	}
}

func TestImportReasonsAppliesFlagsButNeverRevokesProtection(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := setupService(t)

	comida, err := svc.AddReason(ctx, "Comida", false, true)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// File says quick and unprotected: the quick flag applies, protection stays.
	if _, err := svc.ImportReasons(ctx, []csvio.ReasonEntry{
		{Line: 2, Description: "COMIDA", IsQuickReason: true, IsProtected: false},
	}, ModeAdd); err != nil {
		t.Fatalf("import failed: %v", err)
	}

	got, err := db.GetReason(ctx, comida.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.IsQuickReason {
		t.Error("kept reason did not receive the quick flag from the file")
	}
	if !got.IsProtected {
		t.Error("import revoked protection, which must be one-way")
	}
}

func TestImportRecordsResolvesNames(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := setupService(t)

	if _, err := svc.AddMember(ctx, "Ana", false); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, err := svc.AddReason(ctx, "Comida", false, false); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result, err := svc.ImportRecords(ctx, []csvio.RecordEntry{{
		Line:              2,
		Date:              time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		MemberName:        "ana", // resolution is case-insensitive
		ReasonDescription: "COMIDA",
		Movement:          schema.MovementExpense,
		Amount:            decimal.RequireFromString("25.50"),
	}}, ModeAdd)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if result.Created != 1 {
		t.Errorf("created = %d, want 1", result.Created)
	}

	records, err := db.ListRecords(ctx, store.RecordFilter{})
	if err != nil || len(records) != 1 {
		t.Fatalf("records = %v, %v", records, err)
	}
	if records[0].Amount.Sign() >= 0 {
		t.Errorf("imported expense amount = %s, want negative", records[0].Amount)
	}
}

func TestImportRecordsCollectsUnknownNames(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := setupService(t)

	if _, err := svc.AddMember(ctx, "Ana", false); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, err := svc.ImportRecords(ctx, []csvio.RecordEntry{
		{
			Line: 2, Date: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
			MemberName: "Ana", ReasonDescription: "Nada",
			Movement: schema.MovementIncome, Amount: decimal.NewFromInt(1),
		},
		{
			Line: 3, Date: time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC),
			MemberName: "Nadie", ReasonDescription: "Nada",
			Movement: schema.MovementIncome, Amount: decimal.NewFromInt(1),
		},
	}, ModeAdd)
	var parseErr *schema.ImportParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want ImportParseError", err)
	}
	if len(parseErr.Rows) != 3 {
		t.Errorf("got %d row errors, want 3 (one reason on line 2, member and reason on line 3)", len(parseErr.Rows))
	}

	n, err := db.RecordCount(ctx)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("record count = %d after rejected import, want 0", n)
	}
}

func TestImportRecordsLookupFailureIsNotRowError(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := setupService(t)

	// A store failure during name resolution is an ordinary error, not a
	// per-row "unknown name" problem.
	db.Close()

	_, err := svc.ImportRecords(ctx, []csvio.RecordEntry{{
		Line: 2, Date: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		MemberName: "Ana", ReasonDescription: "Comida",
		Movement: schema.MovementIncome, Amount: decimal.NewFromInt(1),
	}}, ModeAdd)
	if err == nil {
		t.Fatal("expected an error from the closed store")
	}
	var parseErr *schema.ImportParseError
	if errors.As(err, &parseErr) {
		t.Errorf("store failure reported as ImportParseError: %v", parseErr)
	}
}

func TestImportRecordsReplaceRemovesExisting(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := setupService(t)

	m, _ := svc.AddMember(ctx, "Ana", false)
	z, _ := svc.AddReason(ctx, "Comida", false, false)
	if _, err := svc.AddRecord(ctx, RecordInput{
		Date:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		MemberID: m.ID, ReasonID: z.ID,
		Movement: schema.MovementExpense, Amount: decimal.NewFromInt(10),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	result, err := svc.ImportRecords(ctx, []csvio.RecordEntry{{
		Line: 2, Date: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		MemberName: "Ana", ReasonDescription: "Comida",
		Movement: schema.MovementIncome, Amount: decimal.NewFromInt(100),
	}}, ModeReplace)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if result.Removed != 1 || result.Created != 1 {
		t.Errorf("result = %+v, want removed=1 created=1", result)
	}

	records, err := db.ListRecords(ctx, store.RecordFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 || records[0].Movement != schema.MovementIncome {
		t.Errorf("records after replace = %v, want the one imported income", records)
	}
}

func TestParseImportMode(t *testing.T) {
	if m, err := ParseImportMode("Add"); err != nil || m != ModeAdd {
		t.Errorf("ParseImportMode(Add) = %v, %v", m, err)
	}
	if m, err := ParseImportMode(" REPLACE "); err != nil || m != ModeReplace {
		t.Errorf("ParseImportMode(REPLACE) = %v, %v", m, err)
	}
	if _, err := ParseImportMode("merge"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
