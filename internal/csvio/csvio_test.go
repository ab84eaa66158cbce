package csvio

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mvillega/finanzas/internal/schema"
)

func TestParseMembers(t *testing.T) {
	in := "nombre,isprotected\nAna,true\nLuis,false\n"
	entries, err := ParseMembers(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Name != "Ana" || !entries[0].IsProtected {
		t.Errorf("first entry = %+v, want Ana protected", entries[0])
	}
	if entries[1].IsProtected {
		t.Error("second entry should not be protected")
	}
}

func TestParseMembersOptionalColumn(t *testing.T) {
	entries, err := ParseMembers(strings.NewReader("nombre\nAna\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(entries) != 1 || entries[0].IsProtected {
		t.Errorf("entries = %+v, want one unprotected Ana", entries)
	}
}

func TestParseMembersBadHeader(t *testing.T) {
	_, err := ParseMembers(strings.NewReader("name\nAna\n"))
	var parseErr *schema.ImportParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want ImportParseError", err)
	}
	if parseErr.Rows[0].Line != 1 {
		t.Errorf("error line = %d, want 1 (header)", parseErr.Rows[0].Line)
	}
}

func TestParseReasonsAllColumns(t *testing.T) {
	in := "descripcion,isquickreason,isprotected\nComida,true,false\nAjuste,false,true\n"
	entries, err := ParseReasons(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if !entries[0].IsQuickReason || entries[0].IsProtected {
		t.Errorf("first entry = %+v, want quick and unprotected", entries[0])
	}
	if entries[1].IsQuickReason || !entries[1].IsProtected {
		t.Errorf("second entry = %+v, want protected and not quick", entries[1])
	}
}

func TestParseRecords(t *testing.T) {
	in := "fecha,integranteNombre,movimiento,razonDescripcion,descripcion,monto\n" +
		"15/03/2026,Ana,expense,Comida,almuerzo,1250.50\n"
	entries, err := ParseRecords(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	want := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !e.Date.Equal(want) {
		t.Errorf("date = %v, want %v", e.Date, want)
	}
	if e.Movement != schema.MovementExpense {
		t.Errorf("movement = %v, want EXPENSE", e.Movement)
	}
	if !e.Amount.Equal(decimal.RequireFromString("1250.50")) {
		t.Errorf("amount = %s, want 1250.50", e.Amount)
	}
	if e.MemberName != "Ana" || e.ReasonDescription != "Comida" {
		t.Errorf("names = %q/%q, want Ana/Comida", e.MemberName, e.ReasonDescription)
	}
}

func TestParseRecordsCollectsAllRowErrors(t *testing.T) {
	in := "fecha,integranteNombre,movimiento,razonDescripcion,descripcion,monto\n" +
		"2026-03-15,Ana,expense,Comida,,10\n" + // wrong date format
		"15/03/2026,Ana,transfer,Comida,,10\n" + // unknown movement
		"15/03/2026,Ana,expense,Comida,,diez\n" // non-numeric amount
	_, err := ParseRecords(strings.NewReader(in))
	var parseErr *schema.ImportParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want ImportParseError", err)
	}
	if len(parseErr.Rows) != 3 {
		t.Fatalf("got %d row errors, want 3: %v", len(parseErr.Rows), parseErr)
	}
	for i, wantLine := range []int{2, 3, 4} {
		if parseErr.Rows[i].Line != wantLine {
			t.Errorf("row error %d on line %d, want %d", i, parseErr.Rows[i].Line, wantLine)
		}
	}
}

func TestParseMembersQuotedNewlineKeepsLineNumbers(t *testing.T) {
	// The quoted name spans physical lines 2-3, so the bad row sits on line 4.
	in := "nombre\n" +
		"\"ANA\nMARIA\"\n" +
		"\"\"\n"
	_, err := ParseMembers(strings.NewReader(in))
	var parseErr *schema.ImportParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %v, want ImportParseError", err)
	}
	if len(parseErr.Rows) != 1 {
		t.Fatalf("got %d row errors, want 1: %v", len(parseErr.Rows), parseErr)
	}
	if parseErr.Rows[0].Line != 4 {
		t.Errorf("row error on line %d, want 4", parseErr.Rows[0].Line)
	}
}

func TestParseRecordsMovementCaseInsensitive(t *testing.T) {
	in := "fecha,integranteNombre,movimiento,razonDescripcion,descripcion,monto\n" +
		"15/03/2026,Ana,Income,Sueldo,,1000\n"
	entries, err := ParseRecords(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if entries[0].Movement != schema.MovementIncome {
		t.Errorf("movement = %v, want INCOME", entries[0].Movement)
	}
}

func TestWriteRecordsRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	rec := &schema.Record{
		Entity:      schema.Entity{ID: "r1", OwnerID: "o", CreatedAt: now, UpdatedAt: now},
		Date:        now,
		MemberID:    "m1",
		ReasonID:    "z1",
		Movement:    schema.MovementExpense,
		Amount:      decimal.RequireFromString("-42.10"),
		Description: "cena",
	}

	memberName := func(id string) (string, bool) { return "Ana", id == "m1" }
	reasonDescription := func(id string) (string, bool) { return "Comida", id == "z1" }

	var buf bytes.Buffer
	if err := WriteRecords(&buf, []*schema.Record{rec}, memberName, reasonDescription); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	entries, err := ParseRecords(&buf)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if !e.Date.Equal(rec.Date) || e.MemberName != "Ana" || !e.Amount.Equal(rec.Amount) {
		t.Errorf("round trip mismatch: %+v", e)
	}
}

func TestWriteRecordsDanglingReference(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	rec := &schema.Record{
		Entity:   schema.Entity{ID: "r1", OwnerID: "o", CreatedAt: now, UpdatedAt: now},
		Date:     now,
		MemberID: "gone",
		ReasonID: "z1",
		Movement: schema.MovementIncome,
		Amount:   decimal.NewFromInt(1),
	}
	none := func(id string) (string, bool) { return "", false }
	var buf bytes.Buffer
	if err := WriteRecords(&buf, []*schema.Record{rec}, none, none); err == nil {
		t.Fatal("expected error for dangling member reference")
	}
}

func TestWriteMembersBooleansLowercase(t *testing.T) {
	m := &schema.Member{Entity: schema.Entity{ID: "m1"}, Name: "ANA", IsProtected: true}
	var buf bytes.Buffer
	if err := WriteMembers(&buf, []*schema.Member{m}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "ANA,true") {
		t.Errorf("output = %q, want lowercase boolean", buf.String())
	}
}
