package sheets

import (
	"context"
	"errors"

	"sizeseg/internal/core"
)

// ErrSnapshotNotFound is returned by readers for unknown references.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Ports for outbound adapters.
type (
	// SnapshotWriter commits a validated sheet and returns a reference to it.
	SnapshotWriter interface {
		Commit(ctx context.Context, s core.Sheet) (ref string, err error)
	}

	// SnapshotReader loads a previously committed sheet.
	SnapshotReader interface {
		Snapshot(ctx context.Context, ref string) (core.Sheet, error)
	}

	// SnapshotLister lists committed snapshots, newest first.
	SnapshotLister interface {
		ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error)
	}
)

// SnapshotInfo describes a committed snapshot without its rows.
type SnapshotInfo struct {
	Ref        string
	Version    uint64
	RowCount   int
	GrandTotal string
	SavedAt    string // RFC 3339
}
