package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mvillega/finanzas/internal/csvio"
	"github.com/mvillega/finanzas/internal/ops"
	"github.com/mvillega/finanzas/internal/schema"
	"github.com/mvillega/finanzas/internal/store"
	"github.com/mvillega/finanzas/internal/ui"
)

var recordCmd = &cobra.Command{
	Use:     "record",
	GroupID: "entities",
	Short:   "Manage financial records",
}

var recordAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a record",
	Long: `Add a financial record.

The amount is a magnitude; its sign is derived from the movement type
(income positive, expense and investment negative). Member and reason may be
given by ID or by name.

Dates accept dd/mm/yyyy or natural language:
  fz record add --member Ana --reason Comida --movement expense --amount 25.50
  fz record add --member Ana --reason Sueldo --movement income --amount 1200 --date "last friday"`,
	Run: func(cmd *cobra.Command, args []string) {
		memberArg, _ := cmd.Flags().GetString("member")
		reasonArg, _ := cmd.Flags().GetString("reason")
		movementArg, _ := cmd.Flags().GetString("movement")
		amountArg, _ := cmd.Flags().GetString("amount")
		dateArg, _ := cmd.Flags().GetString("date")
		description, _ := cmd.Flags().GetString("description")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		ctx := cmd.Context()
		memberID, err := resolveMember(ctx, a, memberArg)
		if err != nil {
			fatalf("%v", err)
		}
		reasonID, err := resolveReason(ctx, a, reasonArg)
		if err != nil {
			fatalf("%v", err)
		}
		movement, err := schema.ParseMovementType(movementArg)
		if err != nil {
			fatalf("%v", err)
		}
		amount, err := decimal.NewFromString(amountArg)
		if err != nil {
			fatalf("amount %q is not a number", amountArg)
		}
		date, err := parseDate(dateArg)
		if err != nil {
			fatalf("%v", err)
		}

		r, err := a.svc.AddRecord(ctx, ops.RecordInput{
			Date:        date,
			MemberID:    memberID,
			ReasonID:    reasonID,
			Movement:    movement,
			Amount:      amount,
			Description: description,
		})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Recorded %s %s on %s\n",
			ui.RenderPass("✓"), string(r.Movement), ui.Money(r.Movement, r.Amount), r.Date.Format(csvio.DateLayout))
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list",
	Short: "List records",
	Run: func(cmd *cobra.Command, args []string) {
		memberArg, _ := cmd.Flags().GetString("member")
		reasonArg, _ := cmd.Flags().GetString("reason")
		movementArg, _ := cmd.Flags().GetString("movement")
		fromArg, _ := cmd.Flags().GetString("from")
		toArg, _ := cmd.Flags().GetString("to")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		ctx := cmd.Context()
		filter := store.RecordFilter{Limit: limit}
		if memberArg != "" {
			if filter.MemberID, err = resolveMember(ctx, a, memberArg); err != nil {
				fatalf("%v", err)
			}
		}
		if reasonArg != "" {
			if filter.ReasonID, err = resolveReason(ctx, a, reasonArg); err != nil {
				fatalf("%v", err)
			}
		}
		if movementArg != "" {
			if filter.Movement, err = schema.ParseMovementType(movementArg); err != nil {
				fatalf("%v", err)
			}
		}
		if fromArg != "" {
			if filter.From, err = parseDate(fromArg); err != nil {
				fatalf("%v", err)
			}
		}
		if toArg != "" {
			if filter.To, err = parseDate(toArg); err != nil {
				fatalf("%v", err)
			}
		}

		records, err := a.db.ListRecords(ctx, filter)
		if err != nil {
			fatalf("%v", err)
		}
		if len(records) == 0 {
			fmt.Println("No records match.")
			return
		}

		memberNames, reasonNames := nameLookups(ctx, a)
		total := decimal.Zero
		rows := make([][]string, 0, len(records))
		for _, r := range records {
			total = total.Add(r.Amount)
			rows = append(rows, []string{
				r.ID,
				r.Date.Format(csvio.DateLayout),
				memberNames(r.MemberID),
				string(r.Movement),
				reasonNames(r.ReasonID),
				ui.Money(r.Movement, r.Amount),
				r.Description,
			})
		}
		fmt.Print(ui.Table([]string{"ID", "DATE", "MEMBER", "MOVEMENT", "REASON", "AMOUNT", "DESCRIPTION"}, rows))
		fmt.Printf("\n%d record(s), net %s\n", len(records), ui.RenderAccent(total.StringFixed(2)))
	},
}

var recordEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a record",
	Long: `Edit a record. Only the given flags change; the amount's sign is
re-derived from the (possibly updated) movement type.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		ctx := cmd.Context()
		changes, err := readRecordChanges(ctx, cmd, a)
		if err != nil {
			fatalf("%v", err)
		}

		r, err := a.svc.UpdateRecord(ctx, args[0], changes)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Updated record %s: %s %s\n",
			ui.RenderPass("✓"), r.ID, string(r.Movement), ui.Money(r.Movement, r.Amount))
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := openApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		if !yes && !confirm(fmt.Sprintf("Delete record %s?", args[0])) {
			fmt.Println("Aborted.")
			return
		}
		if err := a.svc.DeleteRecord(cmd.Context(), args[0]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Deleted record %s\n", ui.RenderPass("✓"), args[0])
	},
}

// readRecordChanges collects the edit flags that were actually set into a
// changes struct, resolving member and reason references.
func readRecordChanges(ctx context.Context, cmd *cobra.Command, a *app) (ops.RecordChanges, error) {
	var changes ops.RecordChanges

	if cmd.Flags().Changed("member") {
		arg, _ := cmd.Flags().GetString("member")
		id, err := resolveMember(ctx, a, arg)
		if err != nil {
			return changes, err
		}
		changes.MemberID = &id
	}
	if cmd.Flags().Changed("reason") {
		arg, _ := cmd.Flags().GetString("reason")
		id, err := resolveReason(ctx, a, arg)
		if err != nil {
			return changes, err
		}
		changes.ReasonID = &id
	}
	if cmd.Flags().Changed("movement") {
		arg, _ := cmd.Flags().GetString("movement")
		movement, err := schema.ParseMovementType(arg)
		if err != nil {
			return changes, err
		}
		changes.Movement = &movement
	}
	if cmd.Flags().Changed("amount") {
		arg, _ := cmd.Flags().GetString("amount")
		amount, err := decimal.NewFromString(arg)
		if err != nil {
			return changes, fmt.Errorf("amount %q is not a number", arg)
		}
		changes.Amount = &amount
	}
	if cmd.Flags().Changed("date") {
		arg, _ := cmd.Flags().GetString("date")
		date, err := parseDate(arg)
		if err != nil {
			return changes, err
		}
		changes.Date = &date
	}
	if cmd.Flags().Changed("description") {
		description, _ := cmd.Flags().GetString("description")
		changes.Description = &description
	}
	return changes, nil
}

// resolveMember accepts a member ID or name and returns the ID.
func resolveMember(ctx context.Context, a *app, arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("--member is required")
	}
	if m, err := a.db.FindMemberByName(ctx, arg); err == nil {
		return m.ID, nil
	}
	if m, err := a.db.GetMember(ctx, arg); err == nil && !m.IsDeleted {
		return m.ID, nil
	}
	return "", fmt.Errorf("no member named %q", arg)
}

// resolveReason accepts a reason ID or description and returns the ID.
func resolveReason(ctx context.Context, a *app, arg string) (string, error) {
	if arg == "" {
		return "", fmt.Errorf("--reason is required")
	}
	if r, err := a.db.FindReasonByDescription(ctx, arg); err == nil {
		return r.ID, nil
	}
	if r, err := a.db.GetReason(ctx, arg); err == nil && !r.IsDeleted {
		return r.ID, nil
	}
	return "", fmt.Errorf("no reason named %q", arg)
}

// parseDate accepts dd/mm/yyyy or natural language ("yesterday", "last
// friday"). Empty means today.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return schema.DateOnly(time.Now()), nil
	}
	if t, err := time.ParseInLocation(csvio.DateLayout, s, time.UTC); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	result, err := w.Parse(s, time.Now())
	if err == nil && result != nil {
		return schema.DateOnly(result.Time), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse date %q (want dd/mm/yyyy or natural language)", s)
}

// nameLookups returns memoized id-to-name resolvers that include tombstoned
// entities, so historical records always render.
func nameLookups(ctx context.Context, a *app) (func(string) string, func(string) string) {
	members := make(map[string]string)
	reasons := make(map[string]string)

	memberName := func(id string) string {
		if name, ok := members[id]; ok {
			return name
		}
		name := id
		if m, err := a.db.GetMember(ctx, id); err == nil {
			name = m.Name
		}
		members[id] = name
		return name
	}
	reasonName := func(id string) string {
		if name, ok := reasons[id]; ok {
			return name
		}
		name := id
		if r, err := a.db.GetReason(ctx, id); err == nil {
			name = r.Description
		}
		reasons[id] = name
		return name
	}
	return memberName, reasonName
}

func init() {
	recordAddCmd.Flags().String("member", "", "member name or ID")
	recordAddCmd.Flags().String("reason", "", "reason description or ID")
	recordAddCmd.Flags().String("movement", "", "income, expense or investment")
	recordAddCmd.Flags().String("amount", "", "amount (magnitude; sign follows movement)")
	recordAddCmd.Flags().String("date", "", "record date (default: today)")
	recordAddCmd.Flags().String("description", "", "free-text note")
	_ = recordAddCmd.MarkFlagRequired("member")
	_ = recordAddCmd.MarkFlagRequired("reason")
	_ = recordAddCmd.MarkFlagRequired("movement")
	_ = recordAddCmd.MarkFlagRequired("amount")

	recordListCmd.Flags().String("member", "", "filter by member name or ID")
	recordListCmd.Flags().String("reason", "", "filter by reason description or ID")
	recordListCmd.Flags().String("movement", "", "filter by movement type")
	recordListCmd.Flags().String("from", "", "earliest date (inclusive)")
	recordListCmd.Flags().String("to", "", "latest date (inclusive)")
	recordListCmd.Flags().Int("limit", 0, "maximum rows (0 = all)")

	recordEditCmd.Flags().String("member", "", "new member name or ID")
	recordEditCmd.Flags().String("reason", "", "new reason description or ID")
	recordEditCmd.Flags().String("movement", "", "new movement type")
	recordEditCmd.Flags().String("amount", "", "new amount")
	recordEditCmd.Flags().String("date", "", "new date")
	recordEditCmd.Flags().String("description", "", "new description")

	recordDeleteCmd.Flags().BoolP("yes", "y", false, "skip confirmation")

	recordCmd.AddCommand(recordAddCmd, recordListCmd, recordEditCmd, recordDeleteCmd)
}
