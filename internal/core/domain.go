// Package core provides the size table domain: rows, column groups and the
// pure validation and aggregation rules evaluated over a sheet snapshot.
package core

import (
	"errors"
	"strings"

	"github.com/hashicorp/go-set/v2"
	"github.com/shopspring/decimal"
)

// DefaultColumns is the fixed column set of a size table.
var DefaultColumns = []string{"size1", "size2", "size3", "size4", "size5"}

// DefaultGroupName names the group a new table starts with.
const DefaultGroupName = "Single-entry rule"

type (
	// Row is one line of the size table.
	Row struct {
		ID         string
		Values     map[string]string // column -> raw text, "" means unset
		Calculated decimal.Decimal   // derived, always RowSum of Values
	}

	// ColumnGroup is a named, toggleable subset of columns to which the
	// single-entry rule applies.
	ColumnGroup struct {
		ID      string
		Name    string
		Enabled bool
		Columns *set.Set[string]
	}

	// Sheet is an immutable snapshot of a table.
	Sheet struct {
		Columns []string
		Rows    []Row
		Groups  []ColumnGroup
		Version uint64
	}
)

var (
	ErrInvariantViolation = errors.New("invariant violation")
	ErrUnknownColumn      = errors.New("unknown column")
	ErrEmptyID            = errors.New("empty id")
)

// NewRow returns a row with every column unset.
func NewRow(id string, columns []string) Row {
	values := make(map[string]string, len(columns))
	for _, c := range columns {
		values[c] = ""
	}
	return Row{ID: id, Values: values, Calculated: decimal.Zero}
}

// Value returns the raw text held by column, "" when unset.
func (r Row) Value(column string) string {
	return r.Values[column]
}

// Filled reports whether column holds a non-blank value.
func (r Row) Filled(column string) bool {
	return strings.TrimSpace(r.Values[column]) != ""
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	values := make(map[string]string, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return Row{ID: r.ID, Values: values, Calculated: r.Calculated}
}

// NewColumnGroup returns an enabled group over the given columns.
func NewColumnGroup(id, name string, columns ...string) ColumnGroup {
	return ColumnGroup{
		ID:      id,
		Name:    name,
		Enabled: true,
		Columns: set.From(columns),
	}
}

// Has reports whether column is a member of the group.
func (g ColumnGroup) Has(column string) bool {
	return g.Columns != nil && g.Columns.Contains(column)
}

// Size returns the number of member columns.
func (g ColumnGroup) Size() int {
	if g.Columns == nil {
		return 0
	}
	return g.Columns.Size()
}

// Ordered returns the member columns in the order of the fixed column set.
func (g ColumnGroup) Ordered(columns []string) []string {
	out := make([]string, 0, g.Size())
	for _, c := range columns {
		if g.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns a deep copy of the group.
func (g ColumnGroup) Clone() ColumnGroup {
	cp := g
	if g.Columns != nil {
		cp.Columns = g.Columns.Copy()
	} else {
		cp.Columns = set.New[string](0)
	}
	return cp
}

// Validate checks that the group only references known columns.
func (g ColumnGroup) Validate(columns []string) error {
	if strings.TrimSpace(g.ID) == "" {
		return ErrEmptyID
	}
	if g.Columns == nil {
		return nil
	}
	for _, c := range g.Columns.Slice() {
		if !IsColumn(columns, c) {
			return ErrUnknownColumn
		}
	}
	return nil
}

// IsColumn reports whether name belongs to the fixed column set.
func IsColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the sheet.
func (s Sheet) Clone() Sheet {
	out := Sheet{
		Columns: append([]string(nil), s.Columns...),
		Rows:    make([]Row, len(s.Rows)),
		Groups:  make([]ColumnGroup, len(s.Groups)),
		Version: s.Version,
	}
	for i, r := range s.Rows {
		out.Rows[i] = r.Clone()
	}
	for i, g := range s.Groups {
		out.Groups[i] = g.Clone()
	}
	return out
}

// RuleActive reports whether at least one group enforces the single-entry rule.
func (s Sheet) RuleActive() bool {
	for _, g := range s.Groups {
		if g.Enabled {
			return true
		}
	}
	return false
}
