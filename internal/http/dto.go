package http

import (
	"github.com/shopspring/decimal"

	"sizeseg/internal/core"
)

type cellJSON struct {
	Column   string `json:"column"`
	Value    string `json:"value"`
	Filled   bool   `json:"filled"`
	Editable bool   `json:"editable"`
	Hint     string `json:"hint,omitempty"`
}

type rowJSON struct {
	ID            string          `json:"id"`
	Index         int             `json:"index"`
	Cells         []cellJSON      `json:"cells"`
	Calculated    decimal.Decimal `json:"calculated"`
	Valid         bool            `json:"valid"`
	InvalidGroups []string        `json:"invalid_groups,omitempty"`
}

type groupJSON struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Columns []string `json:"columns"`
}

type columnTotalJSON struct {
	Column string          `json:"column"`
	Total  decimal.Decimal `json:"total"`
}

type violationJSON struct {
	RowID         string   `json:"row_id"`
	RowIndex      int      `json:"row_index"`
	GroupID       string   `json:"group_id"`
	GroupName     string   `json:"group_name"`
	FilledColumns []string `json:"filled_columns"`
}

// sheetJSON is the full derived state of the table.
type sheetJSON struct {
	Version      uint64            `json:"version"`
	Columns      []string          `json:"columns"`
	Rows         []rowJSON         `json:"rows"`
	Groups       []groupJSON       `json:"groups"`
	ColumnTotals []columnTotalJSON `json:"column_totals"`
	GrandTotal   decimal.Decimal   `json:"grand_total"`
	RuleActive   bool              `json:"rule_active"`
	Valid        bool              `json:"valid"`
	Violations   []violationJSON   `json:"violations,omitempty"`
}

// mutationJSON is returned by every successful mutation.
type mutationJSON struct {
	Notice *Notice    `json:"notice"`
	Sheet  sheetJSON  `json:"sheet"`
	Row    *rowJSON   `json:"row,omitempty"`
	Group  *groupJSON `json:"group,omitempty"`
}

func newSheetJSON(s core.Sheet, v core.View) sheetJSON {
	out := sheetJSON{
		Version:    v.Version,
		Columns:    s.Columns,
		Rows:       make([]rowJSON, 0, len(v.Rows)),
		Groups:     make([]groupJSON, 0, len(s.Groups)),
		GrandTotal: v.GrandTotal,
		RuleActive: v.RuleActive,
		Valid:      v.Valid(),
	}
	for _, r := range v.Rows {
		out.Rows = append(out.Rows, newRowJSON(r))
	}
	for _, g := range s.Groups {
		out.Groups = append(out.Groups, newGroupJSON(g, s.Columns))
	}
	for _, t := range v.ColumnTotals {
		out.ColumnTotals = append(out.ColumnTotals, columnTotalJSON{Column: t.Column, Total: t.Total})
	}
	if v.Failure != nil {
		out.Violations = violationsJSON(v.Failure)
	}
	return out
}

func newRowJSON(r core.RowView) rowJSON {
	out := rowJSON{
		ID:            r.ID,
		Index:         r.Index,
		Cells:         make([]cellJSON, 0, len(r.Cells)),
		Calculated:    r.Calculated,
		Valid:         r.Valid,
		InvalidGroups: r.InvalidGroups,
	}
	for _, c := range r.Cells {
		out.Cells = append(out.Cells, cellJSON(c))
	}
	return out
}

func newGroupJSON(g core.ColumnGroup, columns []string) groupJSON {
	return groupJSON{
		ID:      g.ID,
		Name:    g.Name,
		Enabled: g.Enabled,
		Columns: g.Ordered(columns),
	}
}

func violationsJSON(f *core.ValidationFailure) []violationJSON {
	out := make([]violationJSON, 0, len(f.Violations))
	for _, v := range f.Violations {
		out = append(out, violationJSON(v))
	}
	return out
}
