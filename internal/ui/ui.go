// Package ui holds terminal output styling shared by the fz commands.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"github.com/mvillega/finanzas/internal/schema"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

	incomeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	expenseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	investStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
)

// Plain disables all styling; set when stdout is not a terminal or the
// color profile is Ascii.
var Plain = !term.IsTerminal(int(os.Stdout.Fd())) ||
	termenv.ColorProfile() == termenv.Ascii

func render(style lipgloss.Style, s string) string {
	if Plain {
		return s
	}
	return style.Render(s)
}

// RenderPass formats a success message.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn formats a warning.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderErr formats an error message.
func RenderErr(s string) string { return render(errStyle, s) }

// RenderAccent formats an emphasized value.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderMuted formats secondary detail.
func RenderMuted(s string) string { return render(mutedStyle, s) }

// RenderHeader formats a table header cell.
func RenderHeader(s string) string { return render(headerStyle, s) }

// Money formats an amount to two decimal places, colored by movement type.
func Money(movement schema.MovementType, amount decimal.Decimal) string {
	s := amount.StringFixed(2)
	if Plain {
		return s
	}
	switch movement {
	case schema.MovementIncome:
		return incomeStyle.Render(s)
	case schema.MovementExpense:
		return expenseStyle.Render(s)
	case schema.MovementInvestment:
		return investStyle.Render(s)
	}
	return s
}

// Width returns the terminal width, or 80 when stdout is not a terminal.
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// Table renders rows under a header with left-aligned, space-padded columns.
// Styling is applied to the header only, so column widths stay stable.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range header {
		b.WriteString(RenderHeader(pad(h, widths[i])))
		if i < len(header)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			b.WriteString(pad(cell, widths[i]))
			if i < len(row)-1 {
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// Summary formats a one-line key=value listing, accenting the values.
func Summary(pairs ...string) string {
	if len(pairs)%2 != 0 {
		pairs = append(pairs, "")
	}
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%s", pairs[i], RenderAccent(pairs[i+1])))
	}
	return strings.Join(parts, " ")
}
