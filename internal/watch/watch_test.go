package watch

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mvillega/finanzas/internal/ops"
	"github.com/mvillega/finanzas/internal/queue"
	"github.com/mvillega/finanzas/internal/store"
)

func setupWatcher(t *testing.T) (*Watcher, *ops.Service, string) {
	t.Helper()

	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "finanzas.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	svc := ops.NewService(db, queue.New(db.RawDB()), ops.Config{
		OwnerID: "owner-1",
		Logger:  log.New(io.Discard, "", 0),
	})

	inbox := filepath.Join(dir, "inbox")
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		t.Fatalf("failed to create inbox: %v", err)
	}

	w, err := New(svc, inbox, &Config{
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	return w, svc, inbox
}

func TestKindOf(t *testing.T) {
	cases := map[string]string{
		"members-2026.csv":  "members",
		"Records-marzo.CSV": "records",
		"reasons.csv":       "reasons",
		"members-2026.csv.20260301T000000.imported": "",
		"notes.txt":   "",
		"exports.csv": "",
	}
	for path, want := range cases {
		if got := kindOf(path); got != want {
			t.Errorf("kindOf(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestImportExistingProcessesPreDroppedFiles(t *testing.T) {
	w, svc, inbox := setupWatcher(t)
	defer w.Stop()

	path := filepath.Join(inbox, "members-enero.csv")
	if err := os.WriteFile(path, []byte("nombre\nAna\nLuis\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if err := w.importExisting(); err != nil {
		t.Fatalf("importExisting failed: %v", err)
	}

	members, err := svc.Store().ListMembers(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("got %d members, want 2", len(members))
	}

	// The file was renamed so it won't be imported twice.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("imported file still present under its original name")
	}
	entries, _ := os.ReadDir(inbox)
	found := false
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".imported") {
			found = true
		}
	}
	if !found {
		t.Error("no .imported file in inbox after processing")
	}
}

func TestMalformedFileSetAsideAsFailed(t *testing.T) {
	w, svc, inbox := setupWatcher(t)
	defer w.Stop()

	path := filepath.Join(inbox, "members-malos.csv")
	if err := os.WriteFile(path, []byte("wrongheader\nAna\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if err := w.importExisting(); err != nil {
		t.Fatalf("importExisting failed: %v", err)
	}

	members, err := svc.Store().ListMembers(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("got %d members from malformed file, want 0", len(members))
	}
	entries, _ := os.ReadDir(inbox)
	found := false
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".failed") {
			found = true
		}
	}
	if !found {
		t.Error("no .failed file in inbox after rejected import")
	}
}

func TestWatcherImportsDroppedFile(t *testing.T) {
	w, svc, inbox := setupWatcher(t)

	imported := make(chan struct{}, 1)
	w.config.AfterImport = func(context.Context) {
		select {
		case imported <- struct{}{}:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(inbox, "reasons-drop.csv")
	if err := os.WriteFile(path, []byte("descripcion\nComida\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	select {
	case <-imported:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dropped file to be imported")
	}

	reasons, err := svc.Store().ListReasons(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(reasons) != 1 || reasons[0].Description != "COMIDA" {
		t.Errorf("reasons = %v, want one COMIDA", reasons)
	}
}
