package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"sizeseg/internal/core"
	applog "sizeseg/internal/log"
	"sizeseg/internal/sheets"
	"sizeseg/internal/table"
	"sizeseg/internal/xlsx"
)

// NoticeType is the severity of a user-facing notice.
type NoticeType string

const (
	NoticeSuccess     NoticeType = "success"
	NoticeDestructive NoticeType = "destructive"
)

// Notice is a short message for the user describing the outcome of a request.
type Notice struct {
	Type    NoticeType `json:"type"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

func successNotice(title, message string) *Notice {
	return &Notice{Type: NoticeSuccess, Title: title, Message: message}
}

func errorNotice(title, message string) *Notice {
	return &Notice{Type: NoticeDestructive, Title: title, Message: message}
}

type errorBody struct {
	Error      string          `json:"error"`
	Code       string          `json:"code,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Notice     *Notice         `json:"notice,omitempty"`
	Violations []violationJSON `json:"violations,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// respondError maps err to a status code and a JSON body with a notice. The
// technical error is logged with the request id.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := mapError(err)
	body.RequestID = middleware.GetReqID(r.Context())

	fields := applog.NewFields().WithError(err).WithRequestID(body.RequestID)
	fields["status"] = status
	fields["code"] = body.Code
	if status >= 500 {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "request error", fields.ToSlice()...)
	} else {
		applog.FromContext(r.Context()).InfoContext(r.Context(), "request rejected", fields.ToSlice()...)
	}

	writeJSON(w, status, body)
}

func mapError(err error) (int, errorBody) {
	var (
		failure  *core.ValidationFailure
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &failure):
		return http.StatusUnprocessableEntity, errorBody{
			Error:      failure.Error(),
			Code:       "validation_failed",
			Notice:     errorNotice("Validation Error", validationMessage(failure)),
			Violations: violationsJSON(failure),
		}
	case errors.Is(err, table.ErrLastRow):
		return http.StatusConflict, errorBody{
			Error:  err.Error(),
			Code:   "last_row",
			Notice: errorNotice("Cannot remove", "At least one row must remain."),
		}
	case errors.Is(err, table.ErrLastGroup):
		return http.StatusConflict, errorBody{
			Error:  err.Error(),
			Code:   "last_group",
			Notice: errorNotice("Cannot remove", "At least one group must remain."),
		}
	case errors.Is(err, core.ErrInvariantViolation):
		return http.StatusConflict, errorBody{
			Error:  err.Error(),
			Code:   "invariant_violation",
			Notice: errorNotice("Not allowed", err.Error()),
		}
	case errors.Is(err, table.ErrRowNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "row_not_found",
			Notice: errorNotice("Not found", "Row not found.")}
	case errors.Is(err, table.ErrGroupNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "group_not_found",
			Notice: errorNotice("Not found", "Group not found.")}
	case errors.Is(err, sheets.ErrSnapshotNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "snapshot_not_found",
			Notice: errorNotice("Not found", "Snapshot not found.")}
	case errors.Is(err, core.ErrUnknownColumn):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "unknown_column",
			Notice: errorNotice("Invalid request", "Unknown column.")}
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large", Code: "too_large",
			Notice: errorNotice("Upload failed", "The file is too large.")}
	case errors.Is(err, errBadBody),
		errors.Is(err, xlsx.ErrEmptyFile),
		errors.Is(err, xlsx.ErrUnsupportedType),
		errors.Is(err, xlsx.ErrNoKnownColumns),
		errors.Is(err, errMissingFile):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "bad_request",
			Notice: errorNotice("Invalid request", capitalize(err.Error())+".")}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal",
			Notice: errorNotice("Something went wrong", "Please try again.")}
	}
}

func validationMessage(f *core.ValidationFailure) string {
	names := f.GroupNames()
	if len(names) == 1 {
		return "Only one column entry allowed per row in group \"" + names[0] + "\"."
	}
	return "Only one column entry allowed per row in groups \"" + strings.Join(names, "\", \"") + "\"."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
