package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mvillega/finanzas/internal/csvio"
	"github.com/mvillega/finanzas/internal/store"
	"github.com/mvillega/finanzas/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <members|reasons|records>",
	GroupID: "data",
	Short:   "Export entities to CSV",
	Long: `Export members, reasons or records as CSV, in the same format
'fz import' accepts. Writes to stdout unless --out is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		outPath, _ := cmd.Flags().GetString("out")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		var out io.Writer = os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				fatalf("%v", err)
			}
			defer f.Close()
			out = f
		}

		ctx := cmd.Context()
		var count int
		switch args[0] {
		case "members":
			members, lerr := a.db.ListMembers(ctx)
			if lerr != nil {
				fatalf("%v", lerr)
			}
			err = csvio.WriteMembers(out, members)
			count = len(members)
		case "reasons":
			reasons, lerr := a.db.ListReasons(ctx)
			if lerr != nil {
				fatalf("%v", lerr)
			}
			err = csvio.WriteReasons(out, reasons)
			count = len(reasons)
		case "records":
			records, lerr := a.db.ListRecords(ctx, store.RecordFilter{})
			if lerr != nil {
				fatalf("%v", lerr)
			}
			memberName, reasonName := nameLookups(ctx, a)
			err = csvio.WriteRecords(out, records,
				func(id string) (string, bool) { return memberName(id), true },
				func(id string) (string, bool) { return reasonName(id), true })
			count = len(records)
		default:
			fatalf("unknown export kind %q (want members, reasons or records)", args[0])
		}
		if err != nil {
			fatalf("%v", err)
		}

		if outPath != "" {
			fmt.Printf("%s Exported %d %s to %s\n", ui.RenderPass("✓"), count, args[0], outPath)
		}
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output file (default: stdout)")
}
