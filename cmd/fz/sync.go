package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvillega/finanzas/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push queued changes and pull remote updates",
	Long: `Run one synchronization pass:
  1. Push the pending operation queue to the remote store, in order
  2. Pull documents updated since the last successful pass
  3. Merge them into the local database (remote wins)

Requires the remote to be configured; see 'fz status'.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		r, err := a.openRemote()
		if err != nil {
			fatalf("%v", err)
		}
		defer r.Close()

		engine := a.newEngine(r)
		fmt.Printf("%s Syncing...\n", ui.RenderAccent("⇅"))

		result, err := engine.Sync(cmd.Context())
		if err != nil {
			fatalf("sync failed: %v", err)
		}
		if result.InProgress {
			fmt.Printf("%s Another sync pass is already running\n", ui.RenderWarn("⚠"))
			return
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), result.Duration.Round(time.Millisecond))
		fmt.Printf("   Pushed:  %d\n", result.Pushed)
		fmt.Printf("   Pulled:  %d\n", result.Pulled)
		fmt.Printf("   Merged:  %d\n", result.Merged)
		if result.Dropped > 0 {
			fmt.Printf("   %s Dropped: %d\n", ui.RenderWarn("⚠"), result.Dropped)
		}
		for _, problem := range result.Problems {
			fmt.Printf("   %s %s\n", ui.RenderWarn("⚠"), problem)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local database and sync status",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		ctx := cmd.Context()
		members, _ := a.db.MemberCount(ctx)
		reasons, _ := a.db.ReasonCount(ctx)
		records, _ := a.db.RecordCount(ctx)
		pending, _ := a.queue.Len(ctx)
		watermark, _ := a.db.Watermark(ctx)

		fmt.Printf("Database: %s\n", a.cfg.DatabasePath())
		if info, err := os.Stat(a.cfg.DatabasePath()); err == nil {
			fmt.Printf("Size:     %d KB\n", info.Size()/1024)
		}
		fmt.Printf("Owner:    %s\n", a.cfg.Owner.ID)
		fmt.Println()
		fmt.Printf("Members:  %d\n", members)
		fmt.Printf("Reasons:  %d\n", reasons)
		fmt.Printf("Records:  %d\n", records)
		fmt.Println()

		if pending > 0 {
			fmt.Printf("Pending:  %s\n", ui.RenderWarn(fmt.Sprintf("%d operation(s) awaiting sync", pending)))
		} else {
			fmt.Printf("Pending:  %s\n", ui.RenderPass("queue empty"))
		}

		if !a.cfg.Remote.Enabled {
			fmt.Printf("Remote:   disabled\n")
			return
		}
		fmt.Printf("Remote:   %s\n", a.cfg.Remote.URL)
		if watermark.IsZero() {
			fmt.Printf("Last sync: %s\n", ui.RenderWarn("never"))
		} else {
			fmt.Printf("Last sync: %s\n", watermark.Local().Format(time.RFC1123))
		}
	},
}

var compactCmd = &cobra.Command{
	Use:     "compact",
	GroupID: "sync",
	Short:   "Remove old tombstones from the local database",
	Long: `Physically remove soft-deleted entities older than the retention
window. A tombstone only needs to live long enough for every device to have
pulled the deletion; the retention window (default 30 days) is configured by
sync.retention_days.`,
	Run: func(cmd *cobra.Command, args []string) {
		days, _ := cmd.Flags().GetInt("days")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		if days <= 0 {
			days = a.cfg.Sync.RetentionDays
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -days)

		removed, err := a.db.CompactTombstones(cmd.Context(), cutoff)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Removed %d tombstone(s) older than %d days\n", ui.RenderPass("✓"), removed, days)
	},
}

func init() {
	compactCmd.Flags().Int("days", 0, "retention window in days (default: config sync.retention_days)")
}
