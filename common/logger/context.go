package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Handlers set them once per request so service code logs with proposal and
// client context without passing it around.
type LogFields struct {
	ProposalNo *int    // Proposal the request is scoped to
	BotKey     *string // {site-host}/{bot-id}
	ClientKind *string // "scoped" or "admin"
	RequestID  *int64  // Snowflake request id
	Component  string  // Component name, e.g. "zwop.service.bot"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
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

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.ProposalNo != nil {
		result.ProposalNo = new.ProposalNo
	}
	if new.BotKey != nil {
		result.BotKey = new.BotKey
	}
	if new.ClientKind != nil {
		result.ClientKind = new.ClientKind
	}
	if new.RequestID != nil {
		result.RequestID = new.RequestID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{ProposalNo: logger.Ptr(no)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Used for upstream response bodies in error logs.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
