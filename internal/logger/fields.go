package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Standard tracing fields propagated through the call chain via context.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldRunID identifies one batch coordinator run
	FieldRunID = "run_id"

	// FieldConsultationNo is the consultation number of the record in flight
	FieldConsultationNo = "consultation_no"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// Standard metric fields attached at the log-entry level for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldSize is the response size in bytes
	FieldSize = "size"
)
