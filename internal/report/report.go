// Package report renders ticket exports as Excel workbooks.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	maxSheetName = 31
	dateLayout   = "02.01.2006"
	headerRow    = 1
	firstDataRow = 2
	linkColumn   = 3
	defaultSheet = "Sheet1"
)

// ErrNoRows is returned when there is nothing to export.
var ErrNoRows = errors.New("failed to generate report, 0 tickets were provided")

// ExcelRow holds the structured row for excel file.
type ExcelRow struct {
	ClientID    int64     `json:"client_id"`    // CRM client id
	ClientName  string    `json:"client_name"`  // Client full name, empty when the directory had none
	Link        string    `json:"link"`         // CRM card link, empty when not configured
	Status      string    `json:"status"`       // Human readable ticket status, also the sheet name
	Comment     string    `json:"comment"`      // Latest reviewer or appellant comment
	SubmittedAt time.Time `json:"submitted_at"` // Date when the client was sent for review
	UpdatedAt   time.Time `json:"updated_at"`   // Date of the last transition
}

// Labels are the texts of the workbook, so the export follows the reader's language.
type Labels struct {
	Summary string    // overview sheet name
	Count   string    // overview count column
	Total   string    // overview total row
	Columns [7]string // ticket sheet headers, in ExcelRow field order
}

// DefaultLabels returns English labels.
func DefaultLabels() Labels {
	return Labels{
		Summary: "Summary",
		Count:   "Clients",
		Total:   "Total",
		Columns: [7]string{"Client ID", "Client", "Link", "Status", "Comment", "Submitted", "Updated"},
	}
}

type generator struct {
	file        *excelize.File
	labels      Labels
	headerStyle int
	usedNames   map[string]bool
}

// GenerateExcelReport builds a workbook with an overview sheet followed by one sheet per ticket
// status. Status sheets are ordered by name so the same input always yields the same workbook.
//
// Returns:
// - A pointer to a bytes.Buffer containing the Excel report.
// - ErrNoRows when rows is empty, or an error if any operation fails during the report generation.
func GenerateExcelReport(rows []ExcelRow, labels Labels) (*bytes.Buffer, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	rowsByStatus := make(map[string][]ExcelRow)
	for _, row := range rows {
		rowsByStatus[row.Status] = append(rowsByStatus[row.Status], row)
	}
	statuses := slices.Sorted(maps.Keys(rowsByStatus))

	gen := &generator{file: excelize.NewFile(), labels: labels, usedNames: map[string]bool{}}
	defer gen.file.Close()

	var err error
	if gen.headerStyle, err = gen.file.NewStyle(headerStyle()); err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err = gen.addSummary(statuses, rowsByStatus); err != nil {
		return nil, fmt.Errorf("failed to add summary: %w", err)
	}
	for idx, status := range statuses {
		if err = gen.addStatusSheet(idx, status, rowsByStatus[status]); err != nil {
			return nil, fmt.Errorf("failed to add sheet for %q: %w", status, err)
		}
	}

	if !gen.usedNames[strings.ToLower(defaultSheet)] {
		if err = gen.file.DeleteSheet(defaultSheet); err != nil {
			return nil, fmt.Errorf("failed to delete default sheet: %w", err)
		}
	}
	gen.file.SetActiveSheet(0)

	buffer, err := gen.file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buffer, nil
}

func headerStyle() *excelize.Style {
	border := func(side string) excelize.Border {
		return excelize.Border{Type: side, Color: "000000", Style: 1}
	}
	return &excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4F81BD"}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "center", Horizontal: "center"},
		Border:    []excelize.Border{border("left"), border("top"), border("bottom"), border("right")},
	}
}

// addSummary writes the per-status counts and their total.
func (g *generator) addSummary(statuses []string, rowsByStatus map[string][]ExcelRow) error {
	sheet, err := g.newSheet(g.labels.Summary)
	if err != nil {
		return err
	}
	if err = g.writeHeader(sheet, []any{g.labels.Columns[3], g.labels.Count}); err != nil {
		return err
	}

	total := 0
	for i, status := range statuses {
		count := len(rowsByStatus[status])
		total += count
		cell, _ := excelize.CoordinatesToCellName(1, firstDataRow+i)
		if err = g.file.SetSheetRow(sheet, cell, &[]any{status, count}); err != nil {
			return fmt.Errorf("failed to write count of %q: %w", status, err)
		}
	}

	totalCell, _ := excelize.CoordinatesToCellName(1, firstDataRow+len(statuses))
	if err = g.file.SetSheetRow(sheet, totalCell, &[]any{g.labels.Total, total}); err != nil {
		return fmt.Errorf("failed to write total: %w", err)
	}
	return g.setWidths(sheet, []float64{30, 12}) //nolint:mnd // column widths
}

// addStatusSheet writes every ticket of one status under a styled header inside a table.
func (g *generator) addStatusSheet(idx int, status string, rows []ExcelRow) error {
	sheet, err := g.newSheet(status)
	if err != nil {
		return err
	}

	header := make([]any, 0, len(g.labels.Columns))
	for _, column := range g.labels.Columns {
		header = append(header, column)
	}
	if err = g.writeHeader(sheet, header); err != nil {
		return err
	}

	for i, row := range rows {
		if err = g.addRow(sheet, firstDataRow+i, row); err != nil {
			return fmt.Errorf("failed to add row %d: %w", firstDataRow+i, err)
		}
	}

	if err = g.setWidths(sheet, []float64{12, 35, 45, 22, 50, 14, 14}); err != nil { //nolint:mnd // column widths
		return err
	}

	lastCell, _ := excelize.CoordinatesToCellName(len(g.labels.Columns), len(rows)+headerRow)
	if err = g.file.AddTable(sheet, &excelize.Table{
		Range:     "A1:" + lastCell,
		Name:      fmt.Sprintf("tickets_%d", idx+1),
		StyleName: "TableStyleMedium9",
	}); err != nil {
		return fmt.Errorf("failed to add table: %w", err)
	}
	return nil
}

func (g *generator) newSheet(name string) (string, error) {
	sheet := g.sheetName(name)
	if _, err := g.file.NewSheet(sheet); err != nil {
		return "", fmt.Errorf("failed to create sheet %q: %w", sheet, err)
	}
	return sheet, nil
}

func (g *generator) writeHeader(sheet string, values []any) error {
	if err := g.file.SetRowHeight(sheet, headerRow, 20); err != nil { //nolint:mnd // header height
		return fmt.Errorf("failed to set header height: %w", err)
	}
	if err := g.file.SetSheetRow(sheet, "A1", &values); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	lastCell, _ := excelize.CoordinatesToCellName(len(values), headerRow)
	if err := g.file.SetCellStyle(sheet, "A1", lastCell, g.headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	return nil
}

func (g *generator) setWidths(sheet string, widths []float64) error {
	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := g.file.SetColWidth(sheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set width of column %s: %w", col, err)
		}
	}
	return nil
}

// addRow writes one ticket at rowNum. The link cell becomes a hyperlink when a link is known.
func (g *generator) addRow(sheet string, rowNum int, row ExcelRow) error {
	values := []any{
		row.ClientID,
		row.ClientName,
		row.Link,
		row.Status,
		row.Comment,
		row.SubmittedAt.Format(dateLayout),
		row.UpdatedAt.Format(dateLayout),
	}
	cell, _ := excelize.CoordinatesToCellName(1, rowNum)
	if err := g.file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to set sheet row: %w", err)
	}

	if row.Link != "" {
		linkCell, _ := excelize.CoordinatesToCellName(linkColumn, rowNum)
		if err := g.file.SetCellHyperLink(sheet, linkCell, row.Link, "External"); err != nil {
			return fmt.Errorf("failed to set hyperlink: %w", err)
		}
	}
	return nil
}

// sheetName makes name a legal, unused sheet name: forbidden characters are dropped, the result
// is cut to 31 runes and a clash gets a numeric suffix.
func (g *generator) sheetName(name string) string {
	base := strings.Trim(strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return -1
		}
		return r
	}, name), "' ")
	if base == "" {
		base = "-"
	}

	candidate := truncate(base, maxSheetName)
	for n := 2; g.usedNames[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		candidate = truncate(base, maxSheetName-utf8.RuneCountInString(suffix)) + suffix
	}
	g.usedNames[strings.ToLower(candidate)] = true
	return candidate
}

func truncate(name string, limit int) string {
	if utf8.RuneCountInString(name) <= limit {
		return name
	}
	return string([]rune(name)[:limit])
}
