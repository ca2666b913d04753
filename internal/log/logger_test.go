package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func jsonLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	return New(Config{Level: level, Format: "json", Component: ComponentHTTP, Output: buf})
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSONLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, slog.LevelInfo)
	l.Info("hello", FieldRowID, "r1")
	l.Debug("hidden")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0][FieldComponent] != ComponentHTTP || lines[0][FieldRowID] != "r1" {
		t.Errorf("unexpected line: %v", lines[0])
	}
	if l.Component() != ComponentHTTP {
		t.Errorf("Component() = %s", l.Component())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(&buf, slog.LevelInfo).WithComponent(ComponentTable)
	l.Info("changed")

	line := decodeLines(t, &buf)[0]
	if l.Component() != ComponentTable || line["parent"] != ComponentHTTP {
		t.Errorf("unexpected line: %v", line)
	}
}

func TestFromContextFallback(t *testing.T) {
	l := FromContext(context.Background())
	if l == nil || l.Component() != "unknown" {
		t.Fatalf("unexpected fallback logger: %+v", l)
	}
}

func TestMiddlewareAndAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := jsonLogger(&buf, slog.LevelInfo)

	h := middleware.RequestID(Middleware(logger)(AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		LogMutation(r.Context(), OpAddRow, 3, NewFields().WithRow("r1", ""))
		w.WriteHeader(http.StatusConflict)
	}))))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rows", nil))

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	mutation, access := lines[0], lines[1]
	if mutation[FieldOperation] != OpAddRow || mutation[FieldVersion] != float64(3) {
		t.Errorf("unexpected mutation line: %v", mutation)
	}
	if mutation[FieldRequestID] == nil || mutation[FieldRequestID] == "" {
		t.Errorf("request id missing: %v", mutation)
	}
	if access["level"] != "WARN" || access[FieldStatusCode] != float64(http.StatusConflict) {
		t.Errorf("unexpected access line: %v", access)
	}
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.WithValue(context.Background(), LoggerContextKey, jsonLogger(&buf, slog.LevelInfo))

	LogError(ctx, "save failed", errors.New("boom"), OpSave, nil)

	line := decodeLines(t, &buf)[0]
	if line["level"] != "ERROR" || line[FieldError] != "boom" || line[FieldOperation] != OpSave {
		t.Errorf("unexpected line: %v", line)
	}
}
