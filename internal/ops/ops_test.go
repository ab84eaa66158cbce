package ops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mvillega/finanzas/internal/queue"
	"github.com/mvillega/finanzas/internal/schema"
	"github.com/mvillega/finanzas/internal/store"
)

func setupService(t *testing.T) (*Service, *store.DB, *queue.Queue) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "finanzas.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	q := queue.New(db.RawDB())
	ids := 0
	svc := NewService(db, q, Config{
		OwnerID: "owner-1",
		Logger:  log.New(io.Discard, "", 0),
		Now:     func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		},
	})
	return svc, db, q
}

func queueLen(t *testing.T, q *queue.Queue) int {
	t.Helper()
	n, err := q.Len(context.Background())
	if err != nil {
		t.Fatalf("failed to read queue length: %v", err)
	}
	return n
}

func TestAddMemberCanonicalizesAndQueues(t *testing.T) {
	ctx := context.Background()
	svc, db, q := setupService(t)

	m, err := svc.AddMember(ctx, "  ana maría ", false)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if m.Name != "ANA MARÍA" {
		t.Errorf("name = %q, want canonical form", m.Name)
	}

	got, err := db.GetMember(ctx, m.ID)
	if err != nil {
		t.Fatalf("member not stored: %v", err)
	}
	if got.Name != m.Name {
		t.Errorf("stored name = %q, want %q", got.Name, m.Name)
	}
	if queueLen(t, q) != 1 {
		t.Errorf("queue length = %d, want 1 create op", queueLen(t, q))
	}
}

func TestAddMemberRejectsDuplicateCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	if _, err := svc.AddMember(ctx, "Ana", false); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	_, err := svc.AddMember(ctx, "aNA", false)
	var vErr *schema.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationError for duplicate", err)
	}
}

func TestProtectedMemberIsImmutable(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	m, err := svc.AddMember(ctx, "Casa", true)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	var pErr *schema.ProtectedEntityError
	if _, err := svc.RenameMember(ctx, m.ID, "Hogar"); !errors.As(err, &pErr) {
		t.Errorf("rename err = %v, want ProtectedEntityError", err)
	}
	if err := svc.DeleteMember(ctx, m.ID); !errors.As(err, &pErr) {
		t.Errorf("delete err = %v, want ProtectedEntityError", err)
	}
}

func TestProtectionIsOneWay(t *testing.T) {
	ctx := context.Background()
	svc, db, _ := setupService(t)

	m, err := svc.AddMember(ctx, "Ana", false)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := svc.ProtectMember(ctx, m.ID); err != nil {
		t.Fatalf("protect failed: %v", err)
	}

	got, err := db.GetMember(ctx, m.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.IsProtected {
		t.Error("member not protected after grant")
	}
	var pErr *schema.ProtectedEntityError
	if err := svc.DeleteMember(ctx, m.ID); !errors.As(err, &pErr) {
		t.Errorf("delete err = %v, want ProtectedEntityError", err)
	}
}

func TestDeleteMemberWithRecordsRejected(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	m, _ := svc.AddMember(ctx, "Ana", false)
	r, _ := svc.AddReason(ctx, "Comida", false, false)
	_, err := svc.AddRecord(ctx, RecordInput{
		Date:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		MemberID: m.ID, ReasonID: r.ID,
		Movement: schema.MovementExpense,
		Amount:   decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("add record failed: %v", err)
	}

	var refErr *schema.ReferentialIntegrityError
	if err := svc.DeleteMember(ctx, m.ID); !errors.As(err, &refErr) {
		t.Fatalf("delete err = %v, want ReferentialIntegrityError", err)
	}
	if refErr.References != 1 {
		t.Errorf("References = %d, want 1", refErr.References)
	}

	// Deleting the record makes the member deletable.
	records, err := svc.store.ListRecords(ctx, store.RecordFilter{})
	if err != nil || len(records) != 1 {
		t.Fatalf("list records = %v, %v", records, err)
	}
	if err := svc.DeleteRecord(ctx, records[0].ID); err != nil {
		t.Fatalf("delete record failed: %v", err)
	}
	if err := svc.DeleteMember(ctx, m.ID); err != nil {
		t.Errorf("delete member after record removal failed: %v", err)
	}
}

func TestAddRecordNormalizesSign(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	m, _ := svc.AddMember(ctx, "Ana", false)
	z, _ := svc.AddReason(ctx, "Comida", false, false)

	expense, err := svc.AddRecord(ctx, RecordInput{
		Date:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		MemberID: m.ID, ReasonID: z.ID,
		Movement: schema.MovementExpense,
		Amount:   decimal.RequireFromString("50"), // positive magnitude
	})
	if err != nil {
		t.Fatalf("add expense failed: %v", err)
	}
	if expense.Amount.Sign() >= 0 {
		t.Errorf("expense amount = %s, want negative", expense.Amount)
	}

	income, err := svc.AddRecord(ctx, RecordInput{
		Date:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		MemberID: m.ID, ReasonID: z.ID,
		Movement: schema.MovementIncome,
		Amount:   decimal.RequireFromString("-50"),
	})
	if err != nil {
		t.Fatalf("add income failed: %v", err)
	}
	if income.Amount.Sign() <= 0 {
		t.Errorf("income amount = %s, want positive", income.Amount)
	}
}

func TestAddRecordRejectsDanglingReferences(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	m, _ := svc.AddMember(ctx, "Ana", false)
	_, err := svc.AddRecord(ctx, RecordInput{
		Date:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		MemberID: m.ID, ReasonID: "missing",
		Movement: schema.MovementExpense,
		Amount:   decimal.NewFromInt(1),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound for missing reason", err)
	}
}

func TestUpdateRecordReNormalizesOnMovementChange(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t)

	m, _ := svc.AddMember(ctx, "Ana", false)
	z, _ := svc.AddReason(ctx, "Varios", false, false)
	rec, err := svc.AddRecord(ctx, RecordInput{
		Date:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		MemberID: m.ID, ReasonID: z.ID,
		Movement: schema.MovementExpense,
		Amount:   decimal.RequireFromString("30"),
	})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	income := schema.MovementIncome
	updated, err := svc.UpdateRecord(ctx, rec.ID, RecordChanges{Movement: &income})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Amount.Sign() <= 0 {
		t.Errorf("amount = %s after switch to income, want positive", updated.Amount)
	}
	if !updated.Amount.Abs().Equal(decimal.RequireFromString("30")) {
		t.Errorf("magnitude changed: %s", updated.Amount)
	}
}

func TestDeleteRecordLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	svc, db, q := setupService(t)

	m, _ := svc.AddMember(ctx, "Ana", false)
	z, _ := svc.AddReason(ctx, "Varios", false, false)
	rec, _ := svc.AddRecord(ctx, RecordInput{
		Date:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		MemberID: m.ID, ReasonID: z.ID,
		Movement: schema.MovementIncome,
		Amount:   decimal.NewFromInt(5),
	})
	before := queueLen(t, q)

	if err := svc.DeleteRecord(ctx, rec.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	got, err := db.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("tombstone missing: %v", err)
	}
	if !got.IsDeleted {
		t.Error("record not marked deleted")
	}
	listed, err := db.ListRecords(ctx, store.RecordFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("listed %d records after delete, want 0", len(listed))
	}
	if queueLen(t, q) != before+1 {
		t.Errorf("queue length = %d, want %d", queueLen(t, q), before+1)
	}
}

func TestRenameMemberQueuesPartialUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _, q := setupService(t)

	m, _ := svc.AddMember(ctx, "Ana", false)
	if _, err := svc.RenameMember(ctx, m.ID, "Ana María"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	ops, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("failed to read queue: %v", err)
	}
	last := ops[len(ops)-1]
	if last.Type != queue.OpUpdate {
		t.Fatalf("last op type = %s, want update", last.Type)
	}
	payload := string(last.Payload)
	if !strings.Contains(payload, `"name":"ANA MARÍA"`) || !strings.Contains(payload, `"updatedAt"`) {
		t.Errorf("update payload = %s, want name and updatedAt fields", payload)
	}
}

func TestTrackExpenseEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, db, q := setupService(t)

	m, err := svc.AddMember(ctx, "Ana", false)
	if err != nil {
		t.Fatalf("add member failed: %v", err)
	}
	z, err := svc.AddReason(ctx, "Comida", true, false)
	if err != nil {
		t.Fatalf("add reason failed: %v", err)
	}

	// Time-of-day on the input must not leak into the stored record.
	rec, err := svc.AddRecord(ctx, RecordInput{
		Date:        time.Date(2026, 3, 15, 18, 45, 12, 0, time.UTC),
		MemberID:    m.ID,
		ReasonID:    z.ID,
		Movement:    schema.MovementExpense,
		Amount:      decimal.RequireFromString("25.50"),
		Description: "mercado",
	})
	if err != nil {
		t.Fatalf("add record failed: %v", err)
	}
	if rec.Amount.Sign() >= 0 {
		t.Errorf("expense amount = %s, want negative", rec.Amount)
	}

	day := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	dates, err := db.RecordDates(ctx)
	if err != nil {
		t.Fatalf("RecordDates failed: %v", err)
	}
	if len(dates) != 1 || !dates[0].Equal(day) {
		t.Errorf("RecordDates = %v, want [%v]", dates, day)
	}

	// All three creates sit in the queue in write order.
	pending, err := q.Pending(ctx)
	if err != nil {
		t.Fatalf("failed to read queue: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("queue length = %d, want 3", len(pending))
	}
	wantCollections := []schema.Collection{
		schema.CollectionMembers, schema.CollectionReasons, schema.CollectionRecords,
	}
	for i, want := range wantCollections {
		if pending[i].Type != queue.OpCreate || pending[i].Collection != want {
			t.Errorf("queue[%d] = %s %s, want create %s", i, pending[i].Type, pending[i].Collection, want)
		}
	}
}
