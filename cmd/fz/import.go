package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mvillega/finanzas/internal/csvio"
	"github.com/mvillega/finanzas/internal/ops"
	"github.com/mvillega/finanzas/internal/schema"
	"github.com/mvillega/finanzas/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <members|reasons|records> <file>",
	GroupID: "data",
	Short:   "Import entities from a CSV file",
	Long: `Import members, reasons or records from a CSV file.

Expected headers:
  members: nombre[,isprotected]
  reasons: descripcion[,isquickreason][,isprotected]
  records: fecha,integranteNombre,movimiento,razonDescripcion,descripcion,monto

Dates are dd/mm/yyyy. Record rows reference members and reasons by name;
every name must resolve before anything is created.

Modes:
  add      create what is new; existing entities are kept (default)
  replace  remove existing non-protected entities that are not in the
           file, then create what is new

In both modes an entity already present keeps its id, and the file's flags
still apply to it: isquickreason is set as given and isprotected can grant
protection, never revoke it.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		modeArg, _ := cmd.Flags().GetString("mode")
		yes, _ := cmd.Flags().GetBool("yes")

		mode, err := ops.ParseImportMode(modeArg)
		if err != nil {
			fatalf("%v", err)
		}

		kind := args[0]
		switch kind {
		case "members", "reasons", "records":
		default:
			fatalf("unknown import kind %q (want members, reasons or records)", kind)
		}

		if mode == ops.ModeReplace && !yes {
			warning := fmt.Sprintf("Replace mode removes all existing non-protected %s. Continue?", kind)
			if !confirm(warning) {
				fmt.Println("Aborted.")
				return
			}
		}

		f, err := os.Open(args[1])
		if err != nil {
			fatalf("%v", err)
		}
		defer f.Close()

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		ctx := cmd.Context()
		var result *ops.ImportResult
		switch kind {
		case "members":
			entries, perr := csvio.ParseMembers(f)
			if perr == nil {
				result, perr = a.svc.ImportMembers(ctx, entries, mode)
			}
			err = perr
		case "reasons":
			entries, perr := csvio.ParseReasons(f)
			if perr == nil {
				result, perr = a.svc.ImportReasons(ctx, entries, mode)
			}
			err = perr
		case "records":
			entries, perr := csvio.ParseRecords(f)
			if perr == nil {
				result, perr = a.svc.ImportRecords(ctx, entries, mode)
			}
			err = perr
		}
		if err != nil {
			reportImportError(err)
			os.Exit(1)
		}

		fmt.Printf("%s Imported %s: %s\n", ui.RenderPass("✓"), kind,
			ui.Summary(
				"created", fmt.Sprint(result.Created),
				"skipped", fmt.Sprint(result.Skipped),
				"removed", fmt.Sprint(result.Removed),
			))
	},
}

// reportImportError prints row-level problems one per line.
func reportImportError(err error) {
	var parseErr *schema.ImportParseError
	if !errors.As(err, &parseErr) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s Import rejected, %d problem(s):\n", ui.RenderErr("✗"), len(parseErr.Rows))
	for _, row := range parseErr.Rows {
		fmt.Fprintf(os.Stderr, "  line %d: %s\n", row.Line, row.Message)
	}
}

func init() {
	importCmd.Flags().String("mode", "add", "import mode: add or replace")
	importCmd.Flags().BoolP("yes", "y", false, "skip replace confirmation")
}
