package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mvillega/finanzas/internal/ui"
)

var memberCmd = &cobra.Command{
	Use:     "member",
	GroupID: "entities",
	Short:   "Manage household members",
}

var memberAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a member",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		protected, _ := cmd.Flags().GetBool("protected")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		m, err := a.svc.AddMember(cmd.Context(), args[0], protected)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Added member %s\n", ui.RenderPass("✓"), ui.RenderAccent(m.Name))
	},
}

var memberListCmd = &cobra.Command{
	Use:   "list",
	Short: "List members",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		members, err := a.db.ListMembers(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		if len(members) == 0 {
			fmt.Println("No members yet. Add one with 'fz member add <name>'.")
			return
		}

		rows := make([][]string, 0, len(members))
		for _, m := range members {
			records, err := a.db.CountRecordsForMember(cmd.Context(), m.ID)
			if err != nil {
				fatalf("%v", err)
			}
			rows = append(rows, []string{m.ID, m.Name, strconv.FormatBool(m.IsProtected), strconv.Itoa(records)})
		}
		fmt.Print(ui.Table([]string{"ID", "NAME", "PROTECTED", "RECORDS"}, rows))
	},
}

var memberRenameCmd = &cobra.Command{
	Use:   "rename <id> <new-name>",
	Short: "Rename a member",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		m, err := a.svc.RenameMember(cmd.Context(), args[0], args[1])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Renamed member to %s\n", ui.RenderPass("✓"), ui.RenderAccent(m.Name))
	},
}

var memberDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a member",
	Long: `Delete a member. Protected members and members still referenced by
records are rejected. The deletion syncs to other devices.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		if !yes && !confirm(fmt.Sprintf("Delete member %s?", args[0])) {
			fmt.Println("Aborted.")
			return
		}
		if err := a.svc.DeleteMember(cmd.Context(), args[0]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted member %s\n", ui.RenderPass("✓"), args[0])
	},
}

var memberProtectCmd = &cobra.Command{
	Use:   "protect <id>",
	Short: "Protect a member from modification and deletion",
	Long: `Grant protection to a member. Protection is permanent: there is no
unprotect. Protected members survive replace-mode imports.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		m, err := a.svc.ProtectMember(cmd.Context(), args[0])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Member %s is now protected\n", ui.RenderPass("✓"), ui.RenderAccent(m.Name))
	},
}

func init() {
	memberAddCmd.Flags().Bool("protected", false, "create the member protected")
	memberDeleteCmd.Flags().BoolP("yes", "y", false, "skip confirmation")
	memberCmd.AddCommand(memberAddCmd, memberListCmd, memberRenameCmd, memberDeleteCmd, memberProtectCmd)
}
