// Package csvio reads and writes the CSV interchange format for members,
// reasons and records.
//
// Each kind has a fixed header. Optional trailing columns may be omitted
// file-wide but not per-row:
//
//	nombre[,isprotected]
//	descripcion[,isquickreason][,isprotected]
//	fecha,integranteNombre,movimiento,razonDescripcion,descripcion,monto
//
// Dates use dd/mm/yyyy. Booleans are "true"/"false". Parsing is exhaustive:
// every malformed row is collected into a *schema.ImportParseError instead of
// stopping at the first, so a bad file can be fixed in one round.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mvillega/finanzas/internal/schema"
)

// DateLayout is the calendar-day format used in CSV files.
const DateLayout = "02/01/2006"

// MemberEntry is one parsed member row. Line is the 1-based source line,
// kept so later import stages can report problems against the file.
type MemberEntry struct {
	Line        int
	Name        string
	IsProtected bool
}

// ReasonEntry is one parsed reason row.
type ReasonEntry struct {
	Line          int
	Description   string
	IsQuickReason bool
	IsProtected   bool
}

// RecordEntry is one parsed record row. Member and reason are referenced by
// name; resolution against the store happens at import time, not here.
type RecordEntry struct {
	Line              int
	Date              time.Time
	MemberName        string
	ReasonDescription string
	Movement          schema.MovementType
	Amount            decimal.Decimal
	Description       string
}

var (
	memberHeader = []string{"nombre", "isprotected"}
	reasonHeader = []string{"descripcion", "isquickreason", "isprotected"}
	recordHeader = []string{"fecha", "integrantenombre", "movimiento", "razondescripcion", "descripcion", "monto"}
)

// ParseMembers parses a members CSV file.
func ParseMembers(r io.Reader) ([]MemberEntry, error) {
	rows, width, err := readAll(r, memberHeader, 1)
	if err != nil {
		return nil, err
	}

	var entries []MemberEntry
	var problems []schema.RowError
	for _, row := range rows {
		entry := MemberEntry{Line: row.line, Name: strings.TrimSpace(row.fields[0])}
		if entry.Name == "" {
			problems = append(problems, schema.RowError{Line: row.line, Message: "nombre is required"})
			continue
		}
		if width > 1 {
			v, err := parseBool(row.fields[1])
			if err != nil {
				problems = append(problems, schema.RowError{Line: row.line, Message: fmt.Sprintf("isprotected: %v", err)})
				continue
			}
			entry.IsProtected = v
		}
		entries = append(entries, entry)
	}
	if len(problems) > 0 {
		return nil, &schema.ImportParseError{Rows: problems}
	}
	return entries, nil
}

// ParseReasons parses a reasons CSV file.
func ParseReasons(r io.Reader) ([]ReasonEntry, error) {
	rows, width, err := readAll(r, reasonHeader, 1)
	if err != nil {
		return nil, err
	}

	var entries []ReasonEntry
	var problems []schema.RowError
	for _, row := range rows {
		entry := ReasonEntry{Line: row.line, Description: strings.TrimSpace(row.fields[0])}
		if entry.Description == "" {
			problems = append(problems, schema.RowError{Line: row.line, Message: "descripcion is required"})
			continue
		}
		bad := false
		if width > 1 {
			v, err := parseBool(row.fields[1])
			if err != nil {
				problems = append(problems, schema.RowError{Line: row.line, Message: fmt.Sprintf("isquickreason: %v", err)})
				bad = true
			}
			entry.IsQuickReason = v
		}
		if width > 2 {
			v, err := parseBool(row.fields[2])
			if err != nil {
				problems = append(problems, schema.RowError{Line: row.line, Message: fmt.Sprintf("isprotected: %v", err)})
				bad = true
			}
			entry.IsProtected = v
		}
		if !bad {
			entries = append(entries, entry)
		}
	}
	if len(problems) > 0 {
		return nil, &schema.ImportParseError{Rows: problems}
	}
	return entries, nil
}

// ParseRecords parses a records CSV file. All six columns are required.
func ParseRecords(r io.Reader) ([]RecordEntry, error) {
	rows, _, err := readAll(r, recordHeader, len(recordHeader))
	if err != nil {
		return nil, err
	}

	var entries []RecordEntry
	var problems []schema.RowError
	for _, row := range rows {
		entry, rowProblems := parseRecordRow(row)
		if len(rowProblems) > 0 {
			problems = append(problems, rowProblems...)
			continue
		}
		entries = append(entries, entry)
	}
	if len(problems) > 0 {
		return nil, &schema.ImportParseError{Rows: problems}
	}
	return entries, nil
}

func parseRecordRow(row csvRow) (RecordEntry, []schema.RowError) {
	entry := RecordEntry{Line: row.line}
	var problems []schema.RowError
	fail := func(format string, args ...any) {
		problems = append(problems, schema.RowError{Line: row.line, Message: fmt.Sprintf(format, args...)})
	}

	date, err := time.ParseInLocation(DateLayout, strings.TrimSpace(row.fields[0]), time.UTC)
	if err != nil {
		fail("fecha %q is not a dd/mm/yyyy date", row.fields[0])
	}
	entry.Date = schema.DateOnly(date)

	entry.MemberName = strings.TrimSpace(row.fields[1])
	if entry.MemberName == "" {
		fail("integranteNombre is required")
	}

	movement, err := schema.ParseMovementType(row.fields[2])
	if err != nil {
		fail("movimiento: %v", err)
	}
	entry.Movement = movement

	entry.ReasonDescription = strings.TrimSpace(row.fields[3])
	if entry.ReasonDescription == "" {
		fail("razonDescripcion is required")
	}

	entry.Description = strings.TrimSpace(row.fields[4])

	amount, err := decimal.NewFromString(strings.TrimSpace(row.fields[5]))
	if err != nil {
		fail("monto %q is not a number", row.fields[5])
	}
	entry.Amount = amount

	return entry, problems
}

// WriteMembers writes members with the full two-column header.
func WriteMembers(w io.Writer, members []*schema.Member) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"nombre", "isprotected"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, m := range members {
		if err := cw.Write([]string{m.Name, formatBool(m.IsProtected)}); err != nil {
			return fmt.Errorf("failed to write member row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReasons writes reasons with the full three-column header.
func WriteReasons(w io.Writer, reasons []*schema.Reason) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"descripcion", "isquickreason", "isprotected"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range reasons {
		if err := cw.Write([]string{r.Description, formatBool(r.IsQuickReason), formatBool(r.IsProtected)}); err != nil {
			return fmt.Errorf("failed to write reason row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteRecords writes records, resolving member and reason ids back to names
// through the lookup functions. A dangling id is an error: exports must stay
// re-importable.
func WriteRecords(w io.Writer, records []*schema.Record, memberName, reasonDescription func(id string) (string, bool)) error {
	cw := csv.NewWriter(w)
	header := []string{"fecha", "integranteNombre", "movimiento", "razonDescripcion", "descripcion", "monto"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		name, ok := memberName(r.MemberID)
		if !ok {
			return fmt.Errorf("record %s references unknown member %s", r.ID, r.MemberID)
		}
		description, ok := reasonDescription(r.ReasonID)
		if !ok {
			return fmt.Errorf("record %s references unknown reason %s", r.ID, r.ReasonID)
		}
		row := []string{
			r.Date.Format(DateLayout),
			name,
			string(r.Movement),
			description,
			r.Description,
			r.Amount.String(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write record row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

type csvRow struct {
	line   int
	fields []string
}

// readAll reads and validates the header, then returns all data rows with
// their 1-based line numbers. width is the number of header columns present;
// at least minWidth columns are required, and optional columns may only be
// dropped from the right.
func readAll(r io.Reader, header []string, minWidth int) ([]csvRow, int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	first, err := cr.Read()
	if err == io.EOF {
		return nil, 0, &schema.ImportParseError{Rows: []schema.RowError{{Line: 1, Message: "file is empty"}}}
	}
	if err != nil {
		return nil, 0, &schema.ImportParseError{Rows: []schema.RowError{{Line: 1, Message: err.Error()}}}
	}

	width := len(first)
	if width < minWidth || width > len(header) {
		return nil, 0, headerError(header, minWidth)
	}
	for i, col := range first {
		if strings.ToLower(strings.TrimSpace(col)) != header[i] {
			return nil, 0, headerError(header, minWidth)
		}
	}

	var rows []csvRow
	var problems []schema.RowError
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			problems = append(problems, schema.RowError{Line: errorLine(err), Message: err.Error()})
			continue
		}
		// FieldPos gives the physical line the row starts on, which stays
		// correct when a quoted field spans multiple lines.
		line, _ := cr.FieldPos(0)
		rows = append(rows, csvRow{line: line, fields: fields})
	}
	if len(problems) > 0 {
		return nil, 0, &schema.ImportParseError{Rows: problems}
	}
	return rows, width, nil
}

func errorLine(err error) int {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return pe.Line
	}
	return 0
}

func headerError(header []string, minWidth int) error {
	return &schema.ImportParseError{Rows: []schema.RowError{{
		Line:    1,
		Message: fmt.Sprintf("header must be %q (columns after the first %d are optional)", strings.Join(header, ","), minWidth),
	}}}
}

func parseBool(s string) (bool, error) {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("%q is not a boolean", s)
	}
	return v, nil
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}
