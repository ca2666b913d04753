package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sizeseg/internal/amqp"
	"sizeseg/internal/sheets"
)

// ExportWorker copies committed snapshots to an external spreadsheet.
type ExportWorker struct {
	snapshots sheets.SnapshotReader
	exporter  sheets.SnapshotWriter
}

func NewExportWorker(snapshots sheets.SnapshotReader, exporter sheets.SnapshotWriter) *ExportWorker {
	return &ExportWorker{
		snapshots: snapshots,
		exporter:  exporter,
	}
}

// HandleSavedMessage processes a single sheet saved message from AMQP.
// A returned error requeues the message; references that no longer resolve
// are dropped.
func (w *ExportWorker) HandleSavedMessage(ctx context.Context, msg *amqp.SheetSavedMessage) error {
	slog.InfoContext(ctx, "Processing sheet saved message",
		"ref", msg.Ref,
		"version", msg.Version)

	sheet, err := w.snapshots.Snapshot(ctx, msg.Ref)
	if errors.Is(err, sheets.ErrSnapshotNotFound) {
		slog.WarnContext(ctx, "Snapshot not found, dropping message", "ref", msg.Ref)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", msg.Ref, err)
	}

	if sheet.Version != msg.Version {
		slog.WarnContext(ctx, "Snapshot version differs from message",
			"ref", msg.Ref,
			"snapshot_version", sheet.Version,
			"message_version", msg.Version)
	}

	exported, err := w.exporter.Commit(ctx, sheet)
	if err != nil {
		return fmt.Errorf("export snapshot %s: %w", msg.Ref, err)
	}

	slog.InfoContext(ctx, "Successfully exported snapshot",
		"ref", msg.Ref,
		"export_ref", exported,
		"rows", len(sheet.Rows))

	return nil
}
