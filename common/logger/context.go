package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where pipeline
// context (conversation_id, plan_id, phase, etc.) is automatically included in all log
// statements emitted beneath the call that set them.
type LogFields struct {
	ConversationID *string // opaque conversation id
	SessionID      *string // research session id (shares the plan id)
	PlanID         *string // research plan id
	PaperID        *string // paper identity being processed
	Phase          *string // active pipeline phase name
	UserID         *string // user id (memory fabric scoping only, never auth)
	Component      string  // component name, OTel semantic-convention style, e.g. "scholarpilot.pipeline.screening"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.ConversationID != nil {
		result.ConversationID = new.ConversationID
	}
	if new.SessionID != nil {
		result.SessionID = new.SessionID
	}
	if new.PlanID != nil {
		result.PlanID = new.PlanID
	}
	if new.PaperID != nil {
		result.PaperID = new.PaperID
	}
	if new.Phase != nil {
		result.Phase = new.Phase
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{PlanID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like queries or extracted snippets.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
