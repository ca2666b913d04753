package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"sizeseg/internal/core"
	applog "sizeseg/internal/log"
	"sizeseg/internal/xlsx"
)

var errMissingFile = errors.New("missing file")

const (
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 200
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleGetSheet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sheet())
}

func (s *Server) handleAddRow(w http.ResponseWriter, r *http.Request) {
	row := s.store.AddRow()
	sheet := s.sheet()
	applog.LogMutation(r.Context(), applog.OpAddRow, sheet.Version, applog.NewFields().WithRow(row.ID, ""))

	resp := mutationJSON{
		Notice: successNotice("Row added", "New size entry row has been added."),
		Sheet:  sheet,
	}
	if rv, ok := findRow(sheet, row.ID); ok {
		resp.Row = &rv
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleRemoveRow(w http.ResponseWriter, r *http.Request) {
	rowID := chi.URLParam(r, "rowID")
	if err := s.store.RemoveRow(rowID); err != nil {
		respondError(w, r, err)
		return
	}
	sheet := s.sheet()
	applog.LogMutation(r.Context(), applog.OpRemoveRow, sheet.Version, applog.NewFields().WithRow(rowID, ""))
	writeJSON(w, http.StatusOK, mutationJSON{
		Notice: successNotice("Row removed", "Size entry row has been removed."),
		Sheet:  sheet,
	})
}

func (s *Server) handleUpdateCell(w http.ResponseWriter, r *http.Request) {
	rowID := chi.URLParam(r, "rowID")
	column := chi.URLParam(r, "column")

	p := NewRequestBodyParser(w, r, maxFormBytes)
	if err := p.Parse(); err != nil {
		respondError(w, r, err)
		return
	}
	if !p.Has("value") {
		respondError(w, r, fmt.Errorf("%w: value is required", errBadBody))
		return
	}

	row, err := s.store.UpdateCell(rowID, column, p.Raw("value"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	sheet := s.sheet()
	applog.LogMutation(r.Context(), applog.OpUpdateCell, sheet.Version, applog.NewFields().WithRow(rowID, column))

	resp := mutationJSON{
		Notice: successNotice("Cell updated", fmt.Sprintf("Row total is %s.", row.Calculated.String())),
		Sheet:  sheet,
	}
	if rv, ok := findRow(sheet, rowID); ok {
		resp.Row = &rv
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddGroup(w http.ResponseWriter, r *http.Request) {
	g := s.store.AddGroup()
	sheet := s.sheet()
	applog.LogMutation(r.Context(), applog.OpAddGroup, sheet.Version, applog.NewFields().WithGroup(g.ID))

	gj := newGroupJSON(g, sheet.Columns)
	writeJSON(w, http.StatusCreated, mutationJSON{
		Notice: successNotice("Group added", fmt.Sprintf("%q has been added.", g.Name)),
		Sheet:  sheet,
		Group:  &gj,
	})
}

func (s *Server) handleRemoveGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if err := s.store.RemoveGroup(groupID); err != nil {
		respondError(w, r, err)
		return
	}
	sheet := s.sheet()
	applog.LogMutation(r.Context(), applog.OpRemoveGroup, sheet.Version, applog.NewFields().WithGroup(groupID))
	writeJSON(w, http.StatusOK, mutationJSON{
		Notice: successNotice("Group removed", "Column group has been removed."),
		Sheet:  sheet,
	})
}

func (s *Server) handleToggleGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	g, err := s.store.ToggleGroupEnabled(groupID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sheet := s.sheet()
	applog.LogMutation(r.Context(), applog.OpToggleGroup, sheet.Version, applog.NewFields().WithGroup(groupID))

	state := "disabled"
	if g.Enabled {
		state = "enabled"
	}
	gj := newGroupJSON(g, sheet.Columns)
	writeJSON(w, http.StatusOK, mutationJSON{
		Notice: successNotice("Group updated", fmt.Sprintf("Single-entry rule %s for %q.", state, g.Name)),
		Sheet:  sheet,
		Group:  &gj,
	})
}

func (s *Server) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	p := NewRequestBodyParser(w, r, maxFormBytes)
	if err := p.Parse(); err != nil {
		respondError(w, r, err)
		return
	}
	if !p.Has("name") {
		respondError(w, r, fmt.Errorf("%w: name is required", errBadBody))
		return
	}

	g, err := s.store.RenameGroup(groupID, p.Get("name"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	sheet := s.sheet()
	applog.LogMutation(r.Context(), applog.OpRenameGroup, sheet.Version, applog.NewFields().WithGroup(groupID))

	gj := newGroupJSON(g, sheet.Columns)
	writeJSON(w, http.StatusOK, mutationJSON{
		Notice: successNotice("Group renamed", fmt.Sprintf("Group is now called %q.", g.Name)),
		Sheet:  sheet,
		Group:  &gj,
	})
}

func (s *Server) handleToggleColumn(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	column := chi.URLParam(r, "column")

	g, err := s.store.ToggleColumnInGroup(groupID, column)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sheet := s.sheet()
	fields := applog.NewFields().WithGroup(groupID)
	fields[applog.FieldColumn] = column
	applog.LogMutation(r.Context(), applog.OpToggleColumn, sheet.Version, fields)

	verb := "removed from"
	if g.Has(column) {
		verb = "added to"
	}
	gj := newGroupJSON(g, sheet.Columns)
	writeJSON(w, http.StatusOK, mutationJSON{
		Notice: successNotice("Group updated", fmt.Sprintf("%s %s %q.", column, verb, g.Name)),
		Sheet:  sheet,
		Group:  &gj,
	})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.saver == nil {
		respondError(w, r, errors.New("save is not configured"))
		return
	}
	res, err := s.saver.Save(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	fields := applog.NewFields()
	fields[applog.FieldSnapshotRef] = res.Ref
	fields[applog.FieldRows] = res.Rows
	applog.LogMutation(r.Context(), applog.OpSave, res.Version, fields)

	writeJSON(w, http.StatusOK, struct {
		Notice *Notice   `json:"notice"`
		Ref    string    `json:"ref"`
		Sheet  sheetJSON `json:"sheet"`
	}{
		Notice: successNotice("Data saved successfully", res.Message()),
		Ref:    res.Ref,
		Sheet:  s.sheet(),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	buf, err := xlsx.Export(snap)
	if err != nil {
		applog.LogError(r.Context(), "Export failed", err, applog.OpExport, applog.NewFields().WithTable(snap.Version))
		respondError(w, r, err)
		return
	}

	filename := fmt.Sprintf("sizes-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, err)
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", errBadBody, err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errMissingFile)
		return
	}
	defer file.Close()

	imported, err := xlsx.ReadRows(file, header.Filename, s.store.Columns())
	if err != nil {
		if !errors.Is(err, xlsx.ErrEmptyFile) && !errors.Is(err, xlsx.ErrUnsupportedType) &&
			!errors.Is(err, xlsx.ErrNoKnownColumns) {
			err = fmt.Errorf("%w: %v", errBadBody, err)
		}
		respondError(w, r, err)
		return
	}
	if len(imported.Groups) > 0 {
		if err := s.store.SetGroups(imported.Groups); err != nil {
			respondError(w, r, err)
			return
		}
	}
	if err := s.store.Replace(imported.Rows); err != nil {
		respondError(w, r, err)
		return
	}

	sheet := s.sheet()
	fields := applog.NewFields()
	fields[applog.FieldRows] = len(imported.Rows)
	fields["filename"] = header.Filename
	applog.LogMutation(r.Context(), applog.OpImport, sheet.Version, fields)

	writeJSON(w, http.StatusOK, mutationJSON{
		Notice: successNotice("Import complete", fmt.Sprintf("%d row(s) imported from %s.", len(imported.Rows), header.Filename)),
		Sheet:  sheet,
	})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := defaultSnapshotLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, r, fmt.Errorf("%w: invalid limit %q", errBadBody, v))
			return
		}
		limit = min(n, maxSnapshotLimit)
	}

	infos, err := s.snapshots.ListSnapshots(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}

	type snapshotJSON struct {
		Ref        string `json:"ref"`
		Version    uint64 `json:"version"`
		Rows       int    `json:"rows"`
		GrandTotal string `json:"grand_total"`
		SavedAt    string `json:"saved_at"`
	}
	out := make([]snapshotJSON, 0, len(infos))
	for _, in := range infos {
		out = append(out, snapshotJSON{
			Ref:        in.Ref,
			Version:    in.Version,
			Rows:       in.RowCount,
			GrandTotal: in.GrandTotal,
			SavedAt:    in.SavedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": out})
}

// sheet returns the current table with its derived view, memoized by version.
func (s *Server) sheet() sheetJSON {
	snap := s.store.Snapshot()
	view := s.views.Get(snap.Version, func() core.View {
		return core.BuildView(snap)
	})
	return newSheetJSON(snap, view)
}

func findRow(s sheetJSON, id string) (rowJSON, bool) {
	for _, r := range s.Rows {
		if r.ID == id {
			return r, true
		}
	}
	return rowJSON{}, false
}
