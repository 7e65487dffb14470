package logging

import "log/slog"

// Common field names for consistent logging across the connector.
const (
	FieldService      = "service"
	FieldRequestID    = "request_id"
	FieldIP           = "ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldStatus       = "status"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
	FieldTarget       = "target"
	FieldKind         = "kind"
	FieldFormID       = "form_id"
	FieldSubmissionID = "submission_id"
	FieldHost         = "host"
	FieldTable        = "table"
	FieldDatabase     = "database"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// IP returns a slog attribute for the client IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Target returns a slog attribute for a delivery target name.
func Target(name string) slog.Attr {
	return slog.String(FieldTarget, name)
}

// Kind returns a slog attribute for a storage adapter kind.
func Kind(kind string) slog.Attr {
	return slog.String(FieldKind, kind)
}

// FormID returns a slog attribute for a form ID.
func FormID(id string) slog.Attr {
	return slog.String(FieldFormID, id)
}

// SubmissionID returns a slog attribute for a submission ID.
func SubmissionID(id string) slog.Attr {
	return slog.String(FieldSubmissionID, id)
}

// Host returns a slog attribute for a backend host. Never pass credentials.
func Host(host string) slog.Attr {
	return slog.String(FieldHost, host)
}

// Table returns a slog attribute for a relational table name.
func Table(name string) slog.Attr {
	return slog.String(FieldTable, name)
}

// Database returns a slog attribute for a database name.
func Database(name string) slog.Attr {
	return slog.String(FieldDatabase, name)
}
