// Command fz is a personal finance tracker with offline-first sync.
//
// All writes land in a local SQLite database immediately and queue for
// replay against a hosted libSQL document store. Run 'fz sync' (or 'fz
// watch' for continuous operation) to exchange changes with other devices.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mvillega/finanzas/internal/config"
	"github.com/mvillega/finanzas/internal/ops"
	"github.com/mvillega/finanzas/internal/queue"
	"github.com/mvillega/finanzas/internal/remote"
	"github.com/mvillega/finanzas/internal/store"
	syncpkg "github.com/mvillega/finanzas/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:   "fz",
	Short: "Offline-first personal finance tracker",
	Long: `fz tracks income, expenses and investments for the members of a
household, organized by reason.

Every change is written locally first and queued for synchronization, so the
tracker works fully offline. With a remote configured (see 'fz status'),
'fz sync' pushes queued changes and pulls what other devices did.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// app bundles everything an open command invocation needs.
type app struct {
	cfg    config.Config
	db     *store.DB
	queue  *queue.Queue
	svc    *ops.Service
	logger *log.Logger
}

// openApp loads config, opens the local database and wires the mutation
// service. Callers must Close.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}

	q := queue.New(db.RawDB())
	svc := ops.NewService(db, q, ops.Config{
		OwnerID: cfg.Owner.ID,
		Logger:  logger,
	})

	return &app{cfg: cfg, db: db, queue: q, svc: svc, logger: logger}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Printf("Error closing database: %v", err)
	}
}

// openRemote connects to the configured remote store. Returns an error when
// the remote is disabled or unreachable.
func (a *app) openRemote() (*remote.LibSQLStore, error) {
	if !a.cfg.Remote.Enabled {
		return nil, fmt.Errorf("remote sync is disabled (set FZ_REMOTE_ENABLED=true and FZ_REMOTE_URL)")
	}
	r, err := remote.OpenLibSQL(a.cfg.Remote.URL, a.cfg.Remote.Token)
	if err != nil {
		return nil, err
	}
	if err := r.InitSchema(context.Background()); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// newEngine builds a sync engine over an open remote connection.
func (a *app) newEngine(r remote.Store) *syncpkg.Engine {
	return syncpkg.New(a.db, a.queue, r, syncpkg.Config{
		OwnerID:     a.cfg.Owner.ID,
		BatchSize:   a.cfg.Sync.BatchSize,
		MaxAttempts: a.cfg.Sync.MaxAttempts,
		Logger:      a.logger,
	})
}

// newLogger logs to stderr, and additionally to a rotated file when
// configured.
func newLogger(cfg config.Config) *log.Logger {
	if cfg.Log.File == "" {
		return log.New(os.Stderr, "[fz] ", log.LstdFlags)
	}
	path := cfg.Log.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Data.Dir, path)
	}
	return log.New(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	}, "[fz] ", log.LstdFlags)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "entities", Title: "Entities:"},
		&cobra.Group{ID: "data", Title: "Data exchange:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
	)

	rootCmd.AddCommand(
		memberCmd,
		reasonCmd,
		recordCmd,
		importCmd,
		exportCmd,
		syncCmd,
		statusCmd,
		compactCmd,
		watchCmd,
		dashboardCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		fatalf("%v", err)
	}
}
