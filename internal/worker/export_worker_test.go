package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sizeseg/internal/amqp"
	"sizeseg/internal/core"
	"sizeseg/internal/sheets/memory"
)

type recordingExporter struct {
	got []core.Sheet
	err error
}

func (e *recordingExporter) Commit(_ context.Context, s core.Sheet) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	e.got = append(e.got, s)
	return "Sizes!A1:H3", nil
}

func committed(t *testing.T, store *memory.Store) (string, core.Sheet) {
	t.Helper()
	row := core.NewRow("r1", core.DefaultColumns)
	row.Values["size2"] = "7"
	sheet := core.Sheet{
		Columns: core.DefaultColumns,
		Rows:    []core.Row{row},
		Groups:  []core.ColumnGroup{core.NewColumnGroup("g1", core.DefaultGroupName, core.DefaultColumns...)},
		Version: 3,
	}
	ref, err := store.Commit(context.Background(), sheet)
	require.NoError(t, err)
	return ref, sheet
}

func TestHandleSavedMessageExportsSnapshot(t *testing.T) {
	store := memory.New()
	ref, _ := committed(t, store)
	exp := &recordingExporter{}

	err := NewExportWorker(store, exp).HandleSavedMessage(context.Background(),
		amqp.NewSheetSavedMessage(ref, 3, 1, true))
	require.NoError(t, err)

	require.Len(t, exp.got, 1)
	assert.Equal(t, "7", exp.got[0].Rows[0].Value("size2"))
	assert.Equal(t, uint64(3), exp.got[0].Version)
}

func TestHandleSavedMessageDropsUnknownRef(t *testing.T) {
	exp := &recordingExporter{}

	err := NewExportWorker(memory.New(), exp).HandleSavedMessage(context.Background(),
		amqp.NewSheetSavedMessage("mem:99", 1, 1, true))
	require.NoError(t, err)
	assert.Empty(t, exp.got)
}

func TestHandleSavedMessageReturnsExportError(t *testing.T) {
	store := memory.New()
	ref, _ := committed(t, store)
	exp := &recordingExporter{err: errors.New("quota exceeded")}

	err := NewExportWorker(store, exp).HandleSavedMessage(context.Background(),
		amqp.NewSheetSavedMessage(ref, 3, 1, true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}
