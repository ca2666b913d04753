package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sizeseg/internal/amqp"
	"sizeseg/internal/core"
	"sizeseg/internal/sheets"
)

// SheetSource yields the current state of the table.
type SheetSource interface {
	Snapshot() core.Sheet
}

// Publisher announces committed snapshots.
type Publisher interface {
	PublishSheetSaved(ctx context.Context, msg *amqp.SheetSavedMessage) error
}

// SaveResult describes a successful save.
type SaveResult struct {
	Ref        string
	Version    uint64
	Rows       int
	RuleActive bool
}

// Message is the confirmation shown to the user.
func (r SaveResult) Message() string {
	state := "disabled"
	if r.RuleActive {
		state = "enabled"
	}
	return fmt.Sprintf("%d row(s) saved with segregation rule %s.", r.Rows, state)
}

// SaveService gates commits on the single-entry rule and hands valid
// snapshots to the configured sink.
type SaveService struct {
	source    SheetSource
	writer    sheets.SnapshotWriter
	publisher Publisher
}

// NewSaveService wires a save service. publisher may be nil.
func NewSaveService(source SheetSource, writer sheets.SnapshotWriter, publisher Publisher) *SaveService {
	return &SaveService{
		source:    source,
		writer:    writer,
		publisher: publisher,
	}
}

// Save validates the current snapshot and commits it. A breached rule is
// returned as *core.ValidationFailure and nothing is written.
func (s *SaveService) Save(ctx context.Context) (SaveResult, error) {
	sheet := s.source.Snapshot()

	if err := core.ValidateAll(sheet.Rows, sheet.Groups); err != nil {
		var failure *core.ValidationFailure
		if errors.As(err, &failure) {
			slog.InfoContext(ctx, "Save rejected by single-entry rule",
				"version", sheet.Version,
				"groups", failure.GroupNames(),
				"rows", len(failure.RowIDs()))
		}
		return SaveResult{}, err
	}

	ref, err := s.writer.Commit(ctx, sheet)
	if err != nil {
		return SaveResult{}, fmt.Errorf("commit snapshot: %w", err)
	}

	res := SaveResult{
		Ref:        ref,
		Version:    sheet.Version,
		Rows:       len(sheet.Rows),
		RuleActive: sheet.RuleActive(),
	}

	// The snapshot is committed; a lost notification is not a failed save.
	if err := s.publish(ctx, res); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sheet saved message",
			"ref", ref, "error", err)
	}

	slog.InfoContext(ctx, "Sheet saved",
		"ref", ref,
		"version", res.Version,
		"rows", res.Rows,
		"rule_active", res.RuleActive)

	return res, nil
}

func (s *SaveService) publish(ctx context.Context, res SaveResult) error {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP publisher not configured, skipping sheet saved message")
		return nil
	}
	return s.publisher.PublishSheetSaved(ctx,
		amqp.NewSheetSavedMessage(res.Ref, res.Version, res.Rows, res.RuleActive))
}
