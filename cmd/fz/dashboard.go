package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvillega/finanzas/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "sync",
	Short:   "Start the WebSocket dashboard server",
	Long: `Start a standalone WebSocket server that broadcasts tracker
activity to connected clients.

Messages:
  mutation       an entity was created, updated or deleted
  sync_complete  a sync pass finished
  stats          entity counts and pending queue depth

Connect with a WebSocket client:
  ws://localhost:7433/ws

'fz watch --dashboard' runs the same server alongside the inbox watcher;
this command is for serving the feed on its own. Stats are re-broadcast
periodically.`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		if port == 0 {
			port = a.cfg.Watch.DashboardPort
		}
		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Logger: a.logger,
		})
		if err := server.Start(); err != nil {
			fatalf("%v", err)
		}
		defer server.Stop()

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				broadcastStats(ctx, a, server)
			}
		}
	},
}

func init() {
	dashboardCmd.Flags().Int("port", 0, "port to listen on (default: config watch.dashboard_port)")
}
