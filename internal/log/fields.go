package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldQuery       = "query"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldUserAgent   = "user_agent"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldVersion     = "version"
	FieldRowID       = "row_id"
	FieldGroupID     = "group_id"
	FieldColumn      = "column"
	FieldRows        = "rows"
	FieldSnapshotRef = "snapshot_ref"
	FieldViolations  = "violations"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentTable   = "table"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentSheets  = "sheets"
	ComponentCache   = "cache"
	ComponentImport  = "import"
)

// Operations defines standard operation names
const (
	OpAddRow       = "add_row"
	OpRemoveRow    = "remove_row"
	OpUpdateCell   = "update_cell"
	OpAddGroup     = "add_group"
	OpRemoveGroup  = "remove_group"
	OpToggleGroup  = "toggle_group"
	OpRenameGroup  = "rename_group"
	OpToggleColumn = "toggle_column"
	OpSave         = "save"
	OpImport       = "import"
	OpExport       = "export"
	OpStartup      = "startup"
	OpShutdown     = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	if requestID != "" {
		f[FieldRequestID] = requestID
	}
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field, skipping nil errors
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTable adds the table version a mutation produced
func (f LogFields) WithTable(version uint64) LogFields {
	f[FieldVersion] = version
	return f
}

// WithRow adds row identity and, when set, the touched column
func (f LogFields) WithRow(rowID, column string) LogFields {
	f[FieldRowID] = rowID
	if column != "" {
		f[FieldColumn] = column
	}
	return f
}

func (f LogFields) WithGroup(groupID string) LogFields {
	f[FieldGroupID] = groupID
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	if query != "" {
		f[FieldQuery] = query
	}
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
