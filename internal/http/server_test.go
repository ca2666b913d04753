package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sizeseg/internal/core"
	applog "sizeseg/internal/log"
	"sizeseg/internal/services"
	"sizeseg/internal/sheets/memory"
	"sizeseg/internal/table"
)

type testEnv struct {
	srv   *Server
	store *table.Store
	sink  *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	n := 0
	st, err := table.New(core.DefaultColumns, table.WithIDFunc(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}))
	require.NoError(t, err)

	sink := memory.New()
	logger := applog.New(applog.Config{Output: io.Discard, Component: applog.ComponentHTTP})
	srv := NewServer(":0", st, services.NewSaveService(st, sink, nil), Options{
		Logger:    logger,
		Snapshots: sink,
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, store: st, sink: sink}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetSheetInitialState(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/sheet", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	sheet := decode[sheetJSON](t, rec)
	assert.Equal(t, core.DefaultColumns, sheet.Columns)
	require.Len(t, sheet.Rows, 1)
	assert.Equal(t, 1, sheet.Rows[0].Index)
	require.Len(t, sheet.Groups, 1)
	assert.Equal(t, core.DefaultColumns, sheet.Groups[0].Columns)
	assert.True(t, sheet.RuleActive)
	assert.True(t, sheet.Valid)
	assert.True(t, sheet.GrandTotal.IsZero())
	for _, c := range sheet.Rows[0].Cells {
		assert.True(t, c.Editable, c.Column)
	}
}

func TestAddAndRemoveRow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/rows", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	added := decode[mutationJSON](t, rec)
	require.NotNil(t, added.Notice)
	assert.Equal(t, "Row added", added.Notice.Title)
	assert.Equal(t, "New size entry row has been added.", added.Notice.Message)
	require.NotNil(t, added.Row)
	assert.Equal(t, 2, added.Row.Index)
	assert.Len(t, added.Sheet.Rows, 2)

	rec = env.do(t, http.MethodDelete, "/api/rows/"+added.Row.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	removed := decode[mutationJSON](t, rec)
	assert.Equal(t, "Row removed", removed.Notice.Title)
	assert.Len(t, removed.Sheet.Rows, 1)
}

func TestRemoveLastRowIsRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.store.Snapshot().Rows[0].ID
	before := env.store.Version()

	rec := env.do(t, http.MethodDelete, "/api/rows/"+id, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decode[errorBody](t, rec)
	require.NotNil(t, body.Notice)
	assert.Equal(t, NoticeDestructive, body.Notice.Type)
	assert.Equal(t, "Cannot remove", body.Notice.Title)
	assert.Equal(t, "At least one row must remain.", body.Notice.Message)
	assert.NotEmpty(t, body.RequestID)

	assert.Equal(t, before, env.store.Version())
	assert.Len(t, env.store.Snapshot().Rows, 1)
}

func TestRemoveUnknownRow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/api/rows/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateCellLocksSiblings(t *testing.T) {
	env := newTestEnv(t)
	id := env.store.Snapshot().Rows[0].ID

	rec := env.do(t, http.MethodPut, "/api/rows/"+id+"/cells/size2", `{"value":" 12.5 "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[mutationJSON](t, rec)
	require.NotNil(t, resp.Row)
	assert.True(t, resp.Row.Calculated.Equal(decimal.RequireFromString("12.5")))
	for _, c := range resp.Row.Cells {
		if c.Column == "size2" {
			assert.True(t, c.Editable)
			assert.Equal(t, " 12.5 ", c.Value)
			continue
		}
		assert.False(t, c.Editable, c.Column)
		assert.Equal(t, core.DisabledHint, c.Hint)
	}
	assert.True(t, resp.Sheet.GrandTotal.Equal(decimal.RequireFromString("12.5")))
}

func TestUpdateCellAcceptsNonNumericText(t *testing.T) {
	env := newTestEnv(t)
	id := env.store.Snapshot().Rows[0].ID

	rec := env.do(t, http.MethodPut, "/api/rows/"+id+"/cells/size1", `{"value":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[mutationJSON](t, rec)
	assert.True(t, resp.Row.Calculated.IsZero())
	assert.Equal(t, "abc", env.store.Snapshot().Rows[0].Value("size1"))
}

func TestUpdateCellErrors(t *testing.T) {
	env := newTestEnv(t)
	id := env.store.Snapshot().Rows[0].ID

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown column", "/api/rows/" + id + "/cells/size9", `{"value":"1"}`, http.StatusBadRequest},
		{"unknown row", "/api/rows/nope/cells/size1", `{"value":"1"}`, http.StatusNotFound},
		{"malformed json", "/api/rows/" + id + "/cells/size1", `{"value":`, http.StatusBadRequest},
		{"missing value", "/api/rows/" + id + "/cells/size1", `{"other":"1"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, env.store.Version())
}

func TestGroupLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/groups", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	added := decode[mutationJSON](t, rec)
	require.NotNil(t, added.Group)
	assert.Equal(t, "Group 1", added.Group.Name)
	assert.True(t, added.Group.Enabled)
	assert.Empty(t, added.Group.Columns)
	gid := added.Group.ID

	rec = env.do(t, http.MethodPut, "/api/groups/"+gid+"/name", `{"name":"Pair"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Pair", decode[mutationJSON](t, rec).Group.Name)

	rec = env.do(t, http.MethodPost, "/api/groups/"+gid+"/columns/size4/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/groups/"+gid+"/columns/size1/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"size1", "size4"}, decode[mutationJSON](t, rec).Group.Columns)

	rec = env.do(t, http.MethodPost, "/api/groups/"+gid+"/columns/size1/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"size4"}, decode[mutationJSON](t, rec).Group.Columns)

	rec = env.do(t, http.MethodPost, "/api/groups/"+gid+"/columns/bogus/toggle", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/groups/"+gid+"/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[mutationJSON](t, rec).Group.Enabled)

	rec = env.do(t, http.MethodDelete, "/api/groups/"+gid, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[mutationJSON](t, rec).Sheet.Groups, 1)
}

func TestRemoveLastGroupIsRejected(t *testing.T) {
	env := newTestEnv(t)
	gid := env.store.Snapshot().Groups[0].ID

	rec := env.do(t, http.MethodDelete, "/api/groups/"+gid, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Cannot remove", decode[errorBody](t, rec).Notice.Title)
	assert.Len(t, env.store.Snapshot().Groups, 1)

	rec = env.do(t, http.MethodDelete, "/api/groups/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisabledGroupUnlocksCells(t *testing.T) {
	env := newTestEnv(t)
	snap := env.store.Snapshot()
	_, err := env.store.UpdateCell(snap.Rows[0].ID, "size1", "5")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/groups/"+snap.Groups[0].ID+"/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[mutationJSON](t, rec)
	assert.False(t, resp.Sheet.RuleActive)
	for _, c := range resp.Sheet.Rows[0].Cells {
		assert.True(t, c.Editable, c.Column)
	}
}

func TestSaveValidSheet(t *testing.T) {
	env := newTestEnv(t)
	id := env.store.Snapshot().Rows[0].ID
	_, err := env.store.UpdateCell(id, "size3", "7")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/sheet/save", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Notice Notice `json:"notice"`
		Ref    string `json:"ref"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Data saved successfully", resp.Notice.Title)
	assert.Equal(t, "1 row(s) saved with segregation rule enabled.", resp.Notice.Message)
	assert.Equal(t, "mem:1", resp.Ref)

	saved, err := env.sink.Snapshot(context.Background(), resp.Ref)
	require.NoError(t, err)
	assert.Equal(t, "7", saved.Rows[0].Value("size3"))

	rec = env.do(t, http.MethodGet, "/api/snapshots?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ref":"mem:1"`)
}

func TestSaveReportsEveryViolation(t *testing.T) {
	env := newTestEnv(t)
	first := env.store.Snapshot().Rows[0].ID
	second := env.store.AddRow().ID
	for _, id := range []string{first, second} {
		_, err := env.store.UpdateCell(id, "size1", "1")
		require.NoError(t, err)
		_, err = env.store.UpdateCell(id, "size2", "2")
		require.NoError(t, err)
	}

	rec := env.do(t, http.MethodPost, "/api/sheet/save", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decode[errorBody](t, rec)
	assert.Equal(t, "Validation Error", body.Notice.Title)
	require.Len(t, body.Violations, 2)
	assert.Equal(t, first, body.Violations[0].RowID)
	assert.Equal(t, second, body.Violations[1].RowID)
	assert.Equal(t, []string{"size1", "size2"}, body.Violations[0].FilledColumns)

	infos, err := env.sink.ListSnapshots(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestSaveWithRuleDisabled(t *testing.T) {
	env := newTestEnv(t)
	snap := env.store.Snapshot()
	_, err := env.store.UpdateCell(snap.Rows[0].ID, "size1", "1")
	require.NoError(t, err)
	_, err = env.store.UpdateCell(snap.Rows[0].ID, "size2", "2")
	require.NoError(t, err)
	_, err = env.store.ToggleGroupEnabled(snap.Groups[0].ID)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/sheet/save", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "1 row(s) saved with segregation rule disabled.")
}

func TestExportImportRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	id := env.store.Snapshot().Rows[0].ID
	_, err := env.store.UpdateCell(id, "size1", "3")
	require.NoError(t, err)
	second := env.store.AddRow().ID
	_, err = env.store.UpdateCell(second, "size5", "4.5")
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/sheet/export.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	exported := rec.Body.Bytes()

	fresh := newTestEnv(t)
	rec = upload(t, fresh, "sizes.xlsx", exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[mutationJSON](t, rec)
	assert.Equal(t, "Import complete", resp.Notice.Title)
	require.Len(t, resp.Sheet.Rows, 2)
	assert.True(t, resp.Sheet.GrandTotal.Equal(decimal.RequireFromString("7.5")))
	assert.Equal(t, core.DefaultGroupName, resp.Sheet.Groups[0].Name)
}

func TestImportRejectsBadFiles(t *testing.T) {
	env := newTestEnv(t)

	rec := upload(t, env, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, env, "empty.csv", []byte("a,b\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/sheet/import", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, env.store.Version())
}

func TestImportCSV(t *testing.T) {
	env := newTestEnv(t)

	rec := upload(t, env, "sizes.csv", []byte("SIZE1,size2\n1,\n,2\n"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[mutationJSON](t, rec)
	require.Len(t, resp.Sheet.Rows, 2)
	assert.True(t, resp.Sheet.Valid)
}

func upload(t *testing.T, env *testEnv, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/sheet/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterThrottlesMutations(t *testing.T) {
	rl := newRateLimiter(2, time.Minute)
	h := rl.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(method string) int {
		req := httptest.NewRequest(method, "/api/rows", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send(http.MethodPost))
	assert.Equal(t, http.StatusNoContent, send(http.MethodPost))
	assert.Equal(t, http.StatusTooManyRequests, send(http.MethodPost))
	assert.Equal(t, http.StatusNoContent, send(http.MethodGet))
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct", "203.0.113.9:1234", "", "203.0.113.9"},
		{"untrusted proxy ignored", "203.0.113.9:1234", "198.51.100.1", "203.0.113.9"},
		{"trusted proxy honoured", "10.0.0.2:80", "198.51.100.1, 10.0.0.2", "198.51.100.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, extractClientIP(req))
		})
	}
}

func TestRequestBodyParserForm(t *testing.T) {
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader("value=+4%00x"))
	p := NewRequestBodyParser(httptest.NewRecorder(), req, 1024)
	require.NoError(t, p.Parse())
	assert.True(t, p.Has("value"))
	assert.Equal(t, " 4x", p.Raw("value"))
	assert.Equal(t, "4x", p.Get("value"))
	assert.False(t, p.Has("name"))
}

func TestIsSuspicious(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		agent  string
		want   bool
	}{
		{"plain api call", http.MethodGet, "/api/sheet", "", false},
		{"dotenv probe", http.MethodGet, "/.env", "", true},
		{"traversal in query", http.MethodGet, "/api/sheet?f=../../etc/passwd", "", true},
		{"scanner agent", http.MethodGet, "/api/sheet", "sqlmap/1.7", true},
		{"trace method", "TRACE", "/api/sheet", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.agent != "" {
				req.Header.Set("User-Agent", tt.agent)
			}
			assert.Equal(t, tt.want, isSuspicious(req))
		})
	}
}
