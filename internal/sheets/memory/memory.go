package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"sizeseg/internal/core"
	ports "sizeseg/internal/sheets"
)

// Store keeps committed snapshots in memory.
type Store struct {
	mu    sync.Mutex
	items []entry
	now   func() time.Time
}

type entry struct {
	sheet   core.Sheet
	savedAt time.Time
}

var (
	_ ports.SnapshotWriter = (*Store)(nil)
	_ ports.SnapshotReader = (*Store)(nil)
	_ ports.SnapshotLister = (*Store)(nil)
)

func New() *Store {
	return &Store{now: time.Now}
}

// Commit stores a copy of the sheet and returns a synthetic reference.
func (s *Store) Commit(_ context.Context, sh core.Sheet) (string, error) {
	if len(sh.Rows) == 0 {
		return "", fmt.Errorf("commit: %w", core.ErrInvariantViolation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, entry{sheet: sh.Clone(), savedAt: s.now()})
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Snapshot returns a copy of a committed sheet.
func (s *Store) Snapshot(_ context.Context, ref string) (core.Sheet, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(ref, "mem:"))
	if err != nil || !strings.HasPrefix(ref, "mem:") {
		return core.Sheet{}, ports.ErrSnapshotNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.items) {
		return core.Sheet{}, ports.ErrSnapshotNotFound
	}
	return s.items[n-1].sheet.Clone(), nil
}

// ListSnapshots returns up to limit snapshots, newest first.
func (s *Store) ListSnapshots(_ context.Context, limit int) ([]ports.SnapshotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ports.SnapshotInfo
	for i := len(s.items) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := s.items[i]
		out = append(out, ports.SnapshotInfo{
			Ref:        fmt.Sprintf("mem:%d", i+1),
			Version:    e.sheet.Version,
			RowCount:   len(e.sheet.Rows),
			GrandTotal: core.GrandTotal(e.sheet.Rows, e.sheet.Columns).String(),
			SavedAt:    e.savedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}
