// Package xlsx converts size tables to and from spreadsheet files.
package xlsx

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"sizeseg/internal/core"
)

const (
	SizesSheet  = "Sizes"
	GroupsSheet = "Groups"

	indexHeader      = "#"
	calculatedHeader = "Calculated"
	totalLabel       = "Total"
)

var (
	ErrEmptyFile       = errors.New("empty file")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNoKnownColumns  = errors.New("no known columns in header")
)

// Imported is the content of a spreadsheet file. Groups is empty unless the
// file carried a Groups sheet.
type Imported struct {
	Rows   []core.Row
	Groups []core.ColumnGroup
}

// Export writes the sheet as an xlsx workbook with a Sizes sheet (rows and a
// totals line) and a Groups sheet.
func Export(s core.Sheet) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SizesSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	header := []any{indexHeader}
	for _, c := range s.Columns {
		header = append(header, c)
	}
	header = append(header, calculatedHeader)
	if err := setRow(f, SizesSheet, 1, header); err != nil {
		return nil, err
	}

	for i, r := range s.Rows {
		line := []any{i + 1}
		for _, c := range s.Columns {
			line = append(line, cellValue(r.Value(c)))
		}
		line = append(line, core.RowSum(r, s.Columns).InexactFloat64())
		if err := setRow(f, SizesSheet, i+2, line); err != nil {
			return nil, err
		}
	}

	totals := []any{totalLabel}
	for _, c := range s.Columns {
		totals = append(totals, core.ColumnSum(s.Rows, c).InexactFloat64())
	}
	totals = append(totals, core.GrandTotal(s.Rows, s.Columns).InexactFloat64())
	totalRow := len(s.Rows) + 2
	if err := setRow(f, SizesSheet, totalRow, totals); err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(SizesSheet, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}
	if err := f.SetRowStyle(SizesSheet, totalRow, totalRow, bold); err != nil {
		return nil, fmt.Errorf("style totals: %w", err)
	}

	if _, err := f.NewSheet(GroupsSheet); err != nil {
		return nil, fmt.Errorf("create groups sheet: %w", err)
	}
	if err := setRow(f, GroupsSheet, 1, []any{"Name", "Enabled", "Columns"}); err != nil {
		return nil, err
	}
	for i, g := range s.Groups {
		line := []any{g.Name, g.Enabled, strings.Join(g.Ordered(s.Columns), ", ")}
		if err := setRow(f, GroupsSheet, i+2, line); err != nil {
			return nil, err
		}
	}
	if err := f.SetRowStyle(GroupsSheet, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("style groups header: %w", err)
	}

	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf, nil
}

// ReadRows parses an .xlsx or .csv file. Header cells are matched to columns
// case-insensitively; unmatched columns are ignored and blank headers are
// named Column_N. Blank lines and the exported totals line are skipped.
func ReadRows(r io.Reader, filename string, columns []string) (Imported, error) {
	var (
		records [][]string
		groups  [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		records, err = readCSV(r)
	case ".xlsx":
		records, groups, err = readExcel(r)
	default:
		return Imported{}, fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(filename))
	}
	if err != nil {
		return Imported{}, err
	}
	if len(records) == 0 {
		return Imported{}, ErrEmptyFile
	}

	headers := normalizeHeaders(records[0])
	index := map[string]int{}
	for i, h := range headers {
		for _, c := range columns {
			if strings.EqualFold(h, c) {
				index[c] = i
			}
		}
	}
	if len(index) == 0 {
		return Imported{}, fmt.Errorf("%w: %v", ErrNoKnownColumns, headers)
	}
	labelCol := indexOf(headers, indexHeader)

	var out Imported
	for _, rec := range records[1:] {
		if labelCol >= 0 && strings.EqualFold(safeGet(rec, labelCol), totalLabel) {
			continue
		}
		row := core.NewRow("", columns)
		blank := true
		for c, i := range index {
			v := safeGet(rec, i)
			row.Values[c] = v
			if v != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		row.Calculated = core.RowSum(row, columns)
		out.Rows = append(out.Rows, row)
	}
	if len(out.Rows) == 0 {
		return Imported{}, ErrEmptyFile
	}

	out.Groups = parseGroups(groups, columns)
	return out, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

func readExcel(r io.Reader) (sizes, groups [][]string, err error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, nil, ErrEmptyFile
	}
	sizes, err = f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if idx, _ := f.GetSheetIndex(GroupsSheet); idx >= 0 {
		groups, err = f.GetRows(GroupsSheet)
		if err != nil {
			return nil, nil, fmt.Errorf("read sheet %s: %w", GroupsSheet, err)
		}
	}
	return sizes, groups, nil
}

// parseGroups reads Name, Enabled, Columns lines. Unknown column names are
// dropped so that the result always validates against columns.
func parseGroups(records [][]string, columns []string) []core.ColumnGroup {
	if len(records) < 2 {
		return nil
	}
	var out []core.ColumnGroup
	for _, rec := range records[1:] {
		name := safeGet(rec, 0)
		if name == "" {
			continue
		}
		var members []string
		for _, c := range strings.Split(safeGet(rec, 2), ",") {
			c = strings.TrimSpace(c)
			for _, known := range columns {
				if strings.EqualFold(c, known) {
					members = append(members, known)
				}
			}
		}
		g := core.NewColumnGroup("", name, members...)
		if enabled, err := strconv.ParseBool(safeGet(rec, 1)); err == nil {
			g.Enabled = enabled
		}
		out = append(out, g)
	}
	return out
}

func normalizeHeaders(in []string) []string {
	headers := make([]string, len(in))
	for i, h := range in {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("Column_%d", i+1)
		}
		headers[i] = h
	}
	return headers
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

// cellValue writes every finite number as a numeric cell and keeps other
// text verbatim.
func cellValue(raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if d, ok := core.ParseNumber(raw); ok {
		return d.InexactFloat64()
	}
	return raw
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return strings.TrimSpace(arr[idx])
}
