package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sizeseg/internal/amqp"
	"sizeseg/internal/core"
	"sizeseg/internal/sheets/memory"
	"sizeseg/internal/table"
)

type recordingPublisher struct {
	msgs []*amqp.SheetSavedMessage
	err  error
}

func (p *recordingPublisher) PublishSheetSaved(_ context.Context, msg *amqp.SheetSavedMessage) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

type failingWriter struct{}

func (failingWriter) Commit(context.Context, core.Sheet) (string, error) {
	return "", errors.New("disk full")
}

func newTable(t *testing.T) *table.Store {
	t.Helper()
	st, err := table.New(core.DefaultColumns)
	require.NoError(t, err)
	return st
}

func TestSaveCommitsValidSheet(t *testing.T) {
	st := newTable(t)
	rows := st.Snapshot().Rows
	_, err := st.UpdateCell(rows[0].ID, "size1", "10")
	require.NoError(t, err)
	st.AddRow()

	sink := memory.New()
	pub := &recordingPublisher{}
	svc := NewSaveService(st, sink, pub)

	res, err := svc.Save(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Rows)
	assert.True(t, res.RuleActive)
	assert.Equal(t, "2 row(s) saved with segregation rule enabled.", res.Message())

	saved, err := sink.Snapshot(context.Background(), res.Ref)
	require.NoError(t, err)
	assert.Len(t, saved.Rows, 2)
	assert.Equal(t, "10", saved.Rows[0].Value("size1"))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, res.Ref, pub.msgs[0].Ref)
	assert.Equal(t, res.Version, pub.msgs[0].Version)
}

func TestSaveRejectsViolation(t *testing.T) {
	st := newTable(t)
	id := st.Snapshot().Rows[0].ID
	_, err := st.UpdateCell(id, "size1", "1")
	require.NoError(t, err)
	_, err = st.UpdateCell(id, "size2", "2")
	require.NoError(t, err)

	sink := memory.New()
	pub := &recordingPublisher{}
	svc := NewSaveService(st, sink, pub)

	_, err = svc.Save(context.Background())
	var failure *core.ValidationFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, []string{id}, failure.RowIDs())
	assert.Equal(t, []string{core.DefaultGroupName}, failure.GroupNames())

	list, err := sink.ListSnapshots(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, pub.msgs)
}

func TestSaveWithRuleDisabled(t *testing.T) {
	st := newTable(t)
	sheet := st.Snapshot()
	id := sheet.Rows[0].ID
	_, err := st.ToggleGroupEnabled(sheet.Groups[0].ID)
	require.NoError(t, err)
	_, err = st.UpdateCell(id, "size1", "1")
	require.NoError(t, err)
	_, err = st.UpdateCell(id, "size2", "2")
	require.NoError(t, err)

	res, err := NewSaveService(st, memory.New(), nil).Save(context.Background())
	require.NoError(t, err)
	assert.False(t, res.RuleActive)
	assert.Equal(t, "1 row(s) saved with segregation rule disabled.", res.Message())
}

func TestSaveIgnoresPublishFailure(t *testing.T) {
	st := newTable(t)
	pub := &recordingPublisher{err: errors.New("broker down")}

	res, err := NewSaveService(st, memory.New(), pub).Save(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, res.Ref)
	assert.Len(t, pub.msgs, 1)
}

func TestSaveWrapsCommitError(t *testing.T) {
	st := newTable(t)
	pub := &recordingPublisher{}

	_, err := NewSaveService(st, failingWriter{}, pub).Save(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, pub.msgs)
}
