package core

import (
	"errors"

	"github.com/shopspring/decimal"
)

// DisabledHint is shown on cells locked by the single-entry rule.
const DisabledHint = "Clear other fields to enable"

type (
	// CellView is the derived state of one cell.
	CellView struct {
		Column   string
		Value    string
		Filled   bool
		Editable bool
		Hint     string
	}

	// RowView is the derived state of one row.
	RowView struct {
		ID            string
		Index         int // 1-based display position
		Cells         []CellView
		Calculated    decimal.Decimal
		Valid         bool
		InvalidGroups []string // IDs of enabled groups the row breaches
	}

	// ColumnTotal is a per-column aggregate.
	ColumnTotal struct {
		Column string
		Total  decimal.Decimal
	}

	// View is everything a renderer needs, derived from one snapshot.
	View struct {
		Version      uint64
		Rows         []RowView
		ColumnTotals []ColumnTotal
		GrandTotal   decimal.Decimal
		RuleActive   bool
		Failure      *ValidationFailure
	}
)

// BuildView derives editability, validity and totals from a snapshot. It
// never mutates the sheet.
func BuildView(s Sheet) View {
	v := View{
		Version:    s.Version,
		Rows:       make([]RowView, 0, len(s.Rows)),
		GrandTotal: GrandTotal(s.Rows, s.Columns),
		RuleActive: s.RuleActive(),
	}

	for i, r := range s.Rows {
		rv := RowView{
			ID:         r.ID,
			Index:      i + 1,
			Cells:      make([]CellView, 0, len(s.Columns)),
			Calculated: RowSum(r, s.Columns),
			Valid:      true,
		}
		for _, c := range s.Columns {
			cell := CellView{
				Column:   c,
				Value:    r.Value(c),
				Filled:   r.Filled(c),
				Editable: IsEditable(r, c, s.Groups),
			}
			if !cell.Editable {
				cell.Hint = DisabledHint
			}
			rv.Cells = append(rv.Cells, cell)
		}
		for _, g := range s.Groups {
			if g.Enabled && !IsRowValid(r, g) {
				rv.Valid = false
				rv.InvalidGroups = append(rv.InvalidGroups, g.ID)
			}
		}
		v.Rows = append(v.Rows, rv)
	}

	for _, c := range s.Columns {
		v.ColumnTotals = append(v.ColumnTotals, ColumnTotal{Column: c, Total: ColumnSum(s.Rows, c)})
	}

	var failure *ValidationFailure
	if err := ValidateAll(s.Rows, s.Groups); errors.As(err, &failure) {
		v.Failure = failure
	}
	return v
}

// Valid reports whether the snapshot passes the save-gate.
func (v View) Valid() bool {
	return v.Failure == nil
}
