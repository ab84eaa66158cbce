package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mvillega/finanzas/internal/ui"
)

var reasonCmd = &cobra.Command{
	Use:     "reason",
	GroupID: "entities",
	Short:   "Manage record reasons (categories)",
}

var reasonAddCmd = &cobra.Command{
	Use:   "add <description>",
	Short: "Add a reason",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		quick, _ := cmd.Flags().GetBool("quick")
		protected, _ := cmd.Flags().GetBool("protected")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		r, err := a.svc.AddReason(cmd.Context(), args[0], quick, protected)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Added reason %s\n", ui.RenderPass("✓"), ui.RenderAccent(r.Description))
	},
}

var reasonListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reasons",
	Run: func(cmd *cobra.Command, args []string) {
		quickOnly, _ := cmd.Flags().GetBool("quick")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		reasons, err := a.db.ListReasons(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}

		rows := make([][]string, 0, len(reasons))
		for _, r := range reasons {
			if quickOnly && !r.IsQuickReason {
				continue
			}
			rows = append(rows, []string{
				r.ID, r.Description,
				strconv.FormatBool(r.IsQuickReason),
				strconv.FormatBool(r.IsProtected),
			})
		}
		if len(rows) == 0 {
			fmt.Println("No reasons. Add one with 'fz reason add <description>'.")
			return
		}
		fmt.Print(ui.Table([]string{"ID", "DESCRIPTION", "QUICK", "PROTECTED"}, rows))
	},
}

var reasonRenameCmd = &cobra.Command{
	Use:   "rename <id> <new-description>",
	Short: "Rename a reason",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		r, err := a.svc.RenameReason(cmd.Context(), args[0], args[1])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Renamed reason to %s\n", ui.RenderPass("✓"), ui.RenderAccent(r.Description))
	},
}

var reasonQuickCmd = &cobra.Command{
	Use:   "quick <id> <true|false>",
	Short: "Flag or unflag a reason for quick entry",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		quick, err := strconv.ParseBool(args[1])
		if err != nil {
			fatalf("%q is not a boolean", args[1])
		}

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		r, err := a.svc.SetQuickReason(cmd.Context(), args[0], quick)
		if err != nil {
			fatalf("%v", err)
		}
		state := "no longer"
		if r.IsQuickReason {
			state = "now"
		}
		fmt.Printf("%s Reason %s is %s a quick reason\n", ui.RenderPass("✓"), ui.RenderAccent(r.Description), state)
	},
}

var reasonDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a reason",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		if !yes && !confirm(fmt.Sprintf("Delete reason %s?", args[0])) {
			fmt.Println("Aborted.")
			return
		}
		if err := a.svc.DeleteReason(cmd.Context(), args[0]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted reason %s\n", ui.RenderPass("✓"), args[0])
	},
}

var reasonProtectCmd = &cobra.Command{
	Use:   "protect <id>",
	Short: "Protect a reason from modification and deletion",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		r, err := a.svc.ProtectReason(cmd.Context(), args[0])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Reason %s is now protected\n", ui.RenderPass("✓"), ui.RenderAccent(r.Description))
	},
}

func init() {
	reasonAddCmd.Flags().Bool("quick", false, "flag for quick entry")
	reasonAddCmd.Flags().Bool("protected", false, "create the reason protected")
	reasonListCmd.Flags().Bool("quick", false, "show only quick reasons")
	reasonDeleteCmd.Flags().BoolP("yes", "y", false, "skip confirmation")
	reasonCmd.AddCommand(reasonAddCmd, reasonListCmd, reasonRenameCmd, reasonQuickCmd, reasonDeleteCmd, reasonProtectCmd)
}
