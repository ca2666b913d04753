// Package table holds the mutable size table: an ordered list of rows and
// the column groups constraining them. Every mutation is atomic and bumps
// the table version; derived values are recomputed from the rows.
package table

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-set/v2"

	"sizeseg/internal/core"
)

var (
	ErrLastRow       = fmt.Errorf("%w: at least one row must remain", core.ErrInvariantViolation)
	ErrLastGroup     = fmt.Errorf("%w: at least one group must remain", core.ErrInvariantViolation)
	ErrRowNotFound   = errors.New("row not found")
	ErrGroupNotFound = errors.New("group not found")
	ErrNoColumns     = errors.New("column set is empty")
)

// IDFunc generates identities for new rows and groups.
type IDFunc func() string

// Store is the single writer of a size table. It is safe for concurrent use;
// mutations are serialized.
type Store struct {
	mu       sync.Mutex
	columns  []string
	rows     []core.Row
	groups   []core.ColumnGroup
	version  uint64
	groupSeq int
	newID    IDFunc
}

// Option customizes a Store.
type Option func(*Store)

// WithIDFunc overrides the identity generator (UUIDs by default).
func WithIDFunc(fn IDFunc) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// New returns a table over the given fixed columns holding one empty row and
// one enabled group covering every column.
func New(columns []string, opts ...Option) (*Store, error) {
	if len(columns) == 0 {
		return nil, ErrNoColumns
	}
	if set.From(columns).Size() != len(columns) {
		return nil, fmt.Errorf("duplicate column in %v", columns)
	}
	s := &Store{
		columns: append([]string(nil), columns...),
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	s.rows = []core.Row{core.NewRow(s.newID(), s.columns)}
	s.groups = []core.ColumnGroup{core.NewColumnGroup(s.newID(), core.DefaultGroupName, s.columns...)}
	return s, nil
}

// Columns returns the fixed column set.
func (s *Store) Columns() []string {
	return append([]string(nil), s.columns...)
}

// Version returns the number of successful mutations applied so far.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Snapshot returns a deep copy of the current table.
func (s *Store) Snapshot() core.Sheet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.Sheet{
		Columns: s.columns,
		Rows:    s.rows,
		Groups:  s.groups,
		Version: s.version,
	}.Clone()
}

// AddRow appends an empty row and returns it.
func (s *Store) AddRow() core.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := core.NewRow(s.newID(), s.columns)
	s.rows = append(s.rows, r)
	s.version++
	return r.Clone()
}

// RemoveRow deletes the row with the given id. The last row cannot be
// removed.
func (s *Store) RemoveRow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.rowIndex(id)
	if i < 0 {
		return ErrRowNotFound
	}
	if len(s.rows) == 1 {
		return ErrLastRow
	}
	s.rows = append(s.rows[:i:i], s.rows[i+1:]...)
	s.version++
	return nil
}

// UpdateCell stores raw text in a cell and recomputes the row's calculated
// sum. No numeric validation is performed.
func (s *Store) UpdateCell(id, column, value string) (core.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !core.IsColumn(s.columns, column) {
		return core.Row{}, core.ErrUnknownColumn
	}
	i := s.rowIndex(id)
	if i < 0 {
		return core.Row{}, ErrRowNotFound
	}
	r := &s.rows[i]
	r.Values[column] = value
	r.Calculated = core.RowSum(*r, s.columns)
	s.version++
	return r.Clone(), nil
}

// Replace swaps every row at once, e.g. after an import. Missing columns are
// unset, unknown ones are dropped and ids are assigned when blank or repeated.
func (s *Store) Replace(rows []core.Row) error {
	if len(rows) == 0 {
		return ErrLastRow
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Row, 0, len(rows))
	taken := set.New[string](len(rows))
	for _, in := range rows {
		id := s.uniqueID(in.ID, taken)
		r := core.NewRow(id, s.columns)
		for _, c := range s.columns {
			r.Values[c] = in.Values[c]
		}
		r.Calculated = core.RowSum(r, s.columns)
		out = append(out, r)
	}
	s.rows = out
	s.version++
	return nil
}

// AddGroup appends an enabled group with no columns and a generated name.
func (s *Store) AddGroup() core.ColumnGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupSeq++
	g := core.NewColumnGroup(s.newID(), fmt.Sprintf("Group %d", s.groupSeq))
	s.groups = append(s.groups, g)
	s.version++
	return g.Clone()
}

// RemoveGroup deletes a group. The last group cannot be removed.
func (s *Store) RemoveGroup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.groupIndex(id)
	if i < 0 {
		return ErrGroupNotFound
	}
	if len(s.groups) == 1 {
		return ErrLastGroup
	}
	s.groups = append(s.groups[:i:i], s.groups[i+1:]...)
	s.version++
	return nil
}

// ToggleGroupEnabled flips whether a group enforces the single-entry rule.
func (s *Store) ToggleGroupEnabled(id string) (core.ColumnGroup, error) {
	return s.mutateGroup(id, func(g *core.ColumnGroup) error {
		g.Enabled = !g.Enabled
		return nil
	})
}

// RenameGroup sets a group's display name. Names may repeat.
func (s *Store) RenameGroup(id, name string) (core.ColumnGroup, error) {
	return s.mutateGroup(id, func(g *core.ColumnGroup) error {
		g.Name = name
		return nil
	})
}

// ToggleColumnInGroup adds column to the group, or removes it when present.
func (s *Store) ToggleColumnInGroup(id, column string) (core.ColumnGroup, error) {
	if !core.IsColumn(s.columns, column) {
		return core.ColumnGroup{}, core.ErrUnknownColumn
	}
	return s.mutateGroup(id, func(g *core.ColumnGroup) error {
		if g.Columns == nil {
			g.Columns = set.New[string](1)
		}
		if !g.Columns.Remove(column) {
			g.Columns.Insert(column)
		}
		return nil
	})
}

// SetGroups replaces the whole group configuration. Blank or repeated ids
// are replaced by fresh ones.
func (s *Store) SetGroups(groups []core.ColumnGroup) error {
	if len(groups) == 0 {
		return ErrLastGroup
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.ColumnGroup, 0, len(groups))
	taken := set.New[string](len(groups))
	for _, g := range groups {
		g = g.Clone()
		g.ID = s.uniqueID(g.ID, taken)
		if err := g.Validate(s.columns); err != nil {
			return fmt.Errorf("group %q: %w", g.Name, err)
		}
		out = append(out, g)
	}
	s.groups = out
	s.version++
	return nil
}

func (s *Store) mutateGroup(id string, fn func(*core.ColumnGroup) error) (core.ColumnGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.groupIndex(id)
	if i < 0 {
		return core.ColumnGroup{}, ErrGroupNotFound
	}
	if err := fn(&s.groups[i]); err != nil {
		return core.ColumnGroup{}, err
	}
	s.version++
	return s.groups[i].Clone(), nil
}

// uniqueID returns id, or a fresh one when id is blank or already in taken,
// and records the result in taken.
func (s *Store) uniqueID(id string, taken *set.Set[string]) string {
	for strings.TrimSpace(id) == "" || taken.Contains(id) {
		id = s.newID()
	}
	taken.Insert(id)
	return id
}

func (s *Store) rowIndex(id string) int {
	for i, r := range s.rows {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) groupIndex(id string) int {
	for i, g := range s.groups {
		if g.ID == id {
			return i
		}
	}
	return -1
}
