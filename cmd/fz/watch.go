package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvillega/finanzas/internal/dashboard"
	syncpkg "github.com/mvillega/finanzas/internal/sync"
	"github.com/mvillega/finanzas/internal/ui"
	"github.com/mvillega/finanzas/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "sync",
	Short:   "Watch the inbox directory and sync continuously",
	Long: `Run the inbox watcher until interrupted.

CSV files dropped into the inbox directory (members-*.csv, reasons-*.csv,
records-*.csv) are imported in add mode once their writes settle, then
renamed to *.imported (or *.failed). After each import, and at every sync
interval, a sync pass runs when the remote is enabled.

With --dashboard, a WebSocket server broadcasts import and sync events.`,
	Run: func(cmd *cobra.Command, args []string) {
		interval, _ := cmd.Flags().GetDuration("interval")
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var server *dashboard.Server
		if withDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Port:   a.cfg.Watch.DashboardPort,
				Logger: a.logger,
			})
			if err := server.Start(); err != nil {
				fatalf("%v", err)
			}
			defer server.Stop()
			fmt.Printf("Dashboard: ws://localhost%s/ws\n", server.Addr())
		}

		var engine *syncpkg.Engine
		if a.cfg.Remote.Enabled {
			r, err := a.openRemote()
			if err != nil {
				fatalf("%v", err)
			}
			defer r.Close()
			engine = syncpkg.New(a.db, a.queue, r, syncpkg.Config{
				OwnerID:     a.cfg.Owner.ID,
				BatchSize:   a.cfg.Sync.BatchSize,
				MaxAttempts: a.cfg.Sync.MaxAttempts,
				Logger:      a.logger,
				OnComplete: func(result *syncpkg.Result) {
					if server != nil {
						server.BroadcastSyncComplete(dashboard.SyncCompleteData{
							Pushed:   result.Pushed,
							Dropped:  result.Dropped,
							Pulled:   result.Pulled,
							Merged:   result.Merged,
							Duration: result.Duration.Round(time.Millisecond).String(),
						})
					}
				},
			})
		} else {
			fmt.Printf("%s Remote disabled: imports stay local\n", ui.RenderWarn("⚠"))
		}

		runSync := func(ctx context.Context) {
			if engine == nil {
				return
			}
			if _, err := engine.Sync(ctx); err != nil {
				a.logger.Printf("Sync failed: %v", err)
			}
		}

		watcher, err := watch.New(a.svc, a.cfg.Watch.InboxDir, &watch.Config{
			DebounceInterval: time.Duration(a.cfg.Watch.DebounceMS) * time.Millisecond,
			Logger:           a.logger,
			AfterImport: func(ctx context.Context) {
				if server != nil {
					broadcastStats(ctx, a, server)
				}
				runSync(ctx)
			},
		})
		if err != nil {
			fatalf("%v", err)
		}

		if interval > 0 && engine != nil {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						runSync(ctx)
					}
				}
			}()
		}

		fmt.Printf("%s Watching %s (Ctrl+C to stop)\n", ui.RenderAccent("👁"), a.cfg.Watch.InboxDir)
		if err := watcher.Start(ctx); err != nil {
			fatalf("%v", err)
		}
	},
}

func broadcastStats(ctx context.Context, a *app, server *dashboard.Server) {
	members, _ := a.db.MemberCount(ctx)
	reasons, _ := a.db.ReasonCount(ctx)
	records, _ := a.db.RecordCount(ctx)
	pending, _ := a.queue.Len(ctx)
	server.BroadcastStats(dashboard.StatsData{
		Members: members,
		Reasons: reasons,
		Records: records,
		Pending: pending,
	})
}

func init() {
	watchCmd.Flags().Duration("interval", 5*time.Minute, "periodic sync interval (0 disables)")
	watchCmd.Flags().Bool("dashboard", false, "serve the WebSocket dashboard while watching")
}
