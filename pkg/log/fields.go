package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldRoute     = "route"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor, stored under the same gin keys by the auth middleware
	FieldUserID = "user_id"

	// Messaging
	FieldConversationID = "conversation_id"
	FieldMessageID      = "message_id"
	FieldConnID         = "conn_id"
	FieldEventType      = "event_type"
	FieldTargetUserID   = "target_user_id"

	// Service
	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
