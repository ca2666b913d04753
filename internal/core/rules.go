package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Violation is a single breach of the single-entry rule: a row holding more
// than one value among the columns of an enabled group.
type Violation struct {
	RowID         string
	RowIndex      int // zero-based position in the table
	GroupID       string
	GroupName     string
	FilledColumns []string
}

// ValidationFailure is returned by ValidateAll when at least one enabled
// group is breached. It is an expected outcome, never fatal.
type ValidationFailure struct {
	Violations []Violation
}

func (f *ValidationFailure) Error() string {
	names := f.GroupNames()
	return fmt.Sprintf("only one column entry allowed per row in group %s (%d offending row(s))",
		strings.Join(quoteAll(names), ", "), len(f.RowIDs()))
}

// GroupNames returns the names of the offending groups, in group order,
// without duplicates.
func (f *ValidationFailure) GroupNames() []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range f.Violations {
		if seen[v.GroupID] {
			continue
		}
		seen[v.GroupID] = true
		out = append(out, v.GroupName)
	}
	return out
}

// RowIDs returns the identities of the offending rows, in row order,
// without duplicates.
func (f *ValidationFailure) RowIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range f.Violations {
		if seen[v.RowID] {
			continue
		}
		seen[v.RowID] = true
		out = append(out, v.RowID)
	}
	return out
}

// ForGroup returns the violations raised by one group.
func (f *ValidationFailure) ForGroup(groupID string) []Violation {
	var out []Violation
	for _, v := range f.Violations {
		if v.GroupID == groupID {
			out = append(out, v)
		}
	}
	return out
}

// IsEditable reports whether column accepts input for row. A column is
// disabled iff some enabled group containing it already has a value in
// another of its columns. Constraints of overlapping groups are OR-ed.
func IsEditable(row Row, column string, groups []ColumnGroup) bool {
	for _, g := range groups {
		if !g.Enabled || !g.Has(column) {
			continue
		}
		for _, other := range g.Columns.Slice() {
			if other != column && row.Filled(other) {
				return false
			}
		}
	}
	return true
}

// IsRowValid reports whether row holds at most one value among the columns
// of group. Enablement is the caller's concern.
func IsRowValid(row Row, group ColumnGroup) bool {
	return len(filledIn(row, group)) <= 1
}

// ValidateAll is the save-gate. Only enabled groups are checked, and every
// violating (row, group) pair is reported. It returns nil or a
// *ValidationFailure.
func ValidateAll(rows []Row, groups []ColumnGroup) error {
	var failure ValidationFailure
	for _, g := range groups {
		if !g.Enabled {
			continue
		}
		for i, r := range rows {
			filled := filledIn(r, g)
			if len(filled) <= 1 {
				continue
			}
			failure.Violations = append(failure.Violations, Violation{
				RowID:         r.ID,
				RowIndex:      i,
				GroupID:       g.ID,
				GroupName:     g.Name,
				FilledColumns: filled,
			})
		}
	}
	if len(failure.Violations) == 0 {
		return nil
	}
	return &failure
}

// RowSum totals every column of the fixed set, regardless of grouping.
func RowSum(row Row, columns []string) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range columns {
		sum = sum.Add(ParseNumberOrZero(row.Values[c]))
	}
	return sum
}

// ColumnSum totals one column across all rows.
func ColumnSum(rows []Row, column string) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(ParseNumberOrZero(r.Values[column]))
	}
	return sum
}

// GrandTotal is the sum of every row's RowSum.
func GrandTotal(rows []Row, columns []string) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(RowSum(r, columns))
	}
	return sum
}

// filledIn lists the group's columns holding a value in row, sorted by name.
func filledIn(row Row, group ColumnGroup) []string {
	if group.Columns == nil {
		return nil
	}
	var out []string
	for _, c := range group.Columns.Slice() {
		if row.Filled(c) {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func quoteAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = fmt.Sprintf("%q", s)
	}
	return out
}
