package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/dm-service/pkg/log"
)

// Audit actions for dm-service.
const (
	ActionIdentify           = "dm.identify"
	ActionIdentifyFailed     = "dm.identify_failed"
	ActionDisconnect         = "dm.disconnect"
	ActionCreateConversation = "dm.create_conversation"
	ActionSendMessage        = "dm.send_message"
	ActionSharePost          = "dm.share_post"
	ActionSetReaction        = "dm.set_reaction"
	ActionClearReaction      = "dm.clear_reaction"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogTarget emits an audit log naming the affected resource.
func LogTarget(ctx context.Context, action string, userID string, targetID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
