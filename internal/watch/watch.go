// Package watch provides the inbox watcher that imports dropped CSV files.
//
// The watcher:
//  1. Watches an inbox directory for members-*.csv, reasons-*.csv and
//     records-*.csv files
//  2. Imports settled files in add mode through the mutation service
//  3. Renames processed files to *.imported (or *.failed) so they are
//     handled exactly once
//  4. Triggers a sync pass after each successful import
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mvillega/finanzas/internal/csvio"
	"github.com/mvillega/finanzas/internal/ops"
)

// Config holds configuration for the watcher.
type Config struct {
	// DebounceInterval is how long a file must be quiet before import.
	// Batches the write events of a file still being copied in.
	DebounceInterval time.Duration

	// Logger for watcher activity
	Logger *log.Logger

	// AfterImport, if set, runs after each successful import. The sync
	// trigger hangs off this hook.
	AfterImport func(ctx context.Context)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

// Watcher imports CSV files dropped into the inbox directory.
type Watcher struct {
	svc      *ops.Service
	inboxDir string
	config   *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Watcher over an inbox directory.
func New(svc *ops.Service, inboxDir string, config *Config) (*Watcher, error) {
	if svc == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if inboxDir == "" {
		return nil, fmt.Errorf("inboxDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		svc:         svc,
		inboxDir:    inboxDir,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins watching. Files already sitting in the inbox are imported
// first, then filesystem events drive the rest. Blocks until ctx is
// cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.inboxDir, 0o755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	if err := w.importExisting(); err != nil {
		return err
	}

	if err := w.watcher.Add(w.inboxDir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}
	w.config.Logger.Printf("Watching: %s", w.inboxDir)

	w.wg.Add(2)
	go w.watchFileEvents()
	go w.processChangeQueue()

	select {
	case <-ctx.Done():
		w.config.Logger.Println("Shutdown signal received")
		return w.Stop()
	case <-w.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the watcher.
func (w *Watcher) Stop() error {
	w.cancel()
	if err := w.watcher.Close(); err != nil {
		w.config.Logger.Printf("Error closing watcher: %v", err)
	}
	w.wg.Wait()
	w.config.Logger.Println("Watcher stopped")
	return nil
}

// importExisting handles files that were dropped before the watcher started.
func (w *Watcher) importExisting() error {
	entries, err := os.ReadDir(w.inboxDir)
	if err != nil {
		return fmt.Errorf("failed to read inbox directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.inboxDir, entry.Name())
		if kindOf(path) == "" {
			continue
		}
		w.importFile(path)
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (w *Watcher) watchFileEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if kindOf(event.Name) == "" {
				continue
			}
			w.queueChange(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (w *Watcher) queueChange(path string) {
	w.changeQueueMu.Lock()
	defer w.changeQueueMu.Unlock()
	w.changeQueue[path] = time.Now()
}

// processChangeQueue imports files once their events have settled.
func (w *Watcher) processChangeQueue() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.processSettled()
		}
	}
}

func (w *Watcher) processSettled() {
	w.changeQueueMu.Lock()
	var ready []string
	now := time.Now()
	for path, queuedAt := range w.changeQueue {
		if now.Sub(queuedAt) < w.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(w.changeQueue, path)
	}
	w.changeQueueMu.Unlock()

	for _, path := range ready {
		w.importFile(path)
	}
}

// importFile imports one CSV file and renames it so it is not re-imported.
func (w *Watcher) importFile(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	result, err := w.runImport(path)
	if err != nil {
		w.config.Logger.Printf("Import failed for %s: %v", path, err)
		w.setAside(path, ".failed")
		return
	}

	w.config.Logger.Printf("Imported %s: created=%d skipped=%d", filepath.Base(path), result.Created, result.Skipped)
	w.setAside(path, ".imported")

	if w.config.AfterImport != nil {
		w.config.AfterImport(w.ctx)
	}
}

func (w *Watcher) runImport(path string) (*ops.ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	ctx := w.ctx
	switch kindOf(path) {
	case "members":
		entries, err := csvio.ParseMembers(f)
		if err != nil {
			return nil, err
		}
		return w.svc.ImportMembers(ctx, entries, ops.ModeAdd)
	case "reasons":
		entries, err := csvio.ParseReasons(f)
		if err != nil {
			return nil, err
		}
		return w.svc.ImportReasons(ctx, entries, ops.ModeAdd)
	case "records":
		entries, err := csvio.ParseRecords(f)
		if err != nil {
			return nil, err
		}
		return w.svc.ImportRecords(ctx, entries, ops.ModeAdd)
	}
	return nil, fmt.Errorf("unrecognized inbox file %s", path)
}

func (w *Watcher) setAside(path, suffix string) {
	// The new extension no longer matches *.csv, so the rename's own events
	// are ignored by the watcher.
	dest := fmt.Sprintf("%s.%s%s", path, time.Now().UTC().Format("20060102T150405"), suffix)
	if err := os.Rename(path, dest); err != nil {
		w.config.Logger.Printf("Failed to set aside %s: %v", path, err)
	}
}

// kindOf classifies an inbox file by name: members-*.csv, reasons-*.csv or
// records-*.csv (prefix match, case-insensitive). Returns "" for files the
// watcher does not handle.
func kindOf(path string) string {
	base := strings.ToLower(filepath.Base(path))
	if !strings.HasSuffix(base, ".csv") {
		return ""
	}
	for _, kind := range []string{"members", "reasons", "records"} {
		if strings.HasPrefix(base, kind) {
			return kind
		}
	}
	return ""
}
