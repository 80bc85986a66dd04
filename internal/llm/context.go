package llm

import "context"

type ctxKey int

const (
	purposeKey ctxKey = iota
	singleAttemptKey
)

// WithPurpose labels the calls made under ctx in the request log.
func WithPurpose(ctx context.Context, purpose string) context.Context {
	return context.WithValue(ctx, purposeKey, purpose)
}

// PurposeFrom returns the label set by WithPurpose, or "unknown".
func PurposeFrom(ctx context.Context) string {
	if v, ok := ctx.Value(purposeKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// WithSingleAttempt limits a RetryProvider to one call for requests made
// under ctx, whatever its configured MaxAttempts.
func WithSingleAttempt(ctx context.Context) context.Context {
	return context.WithValue(ctx, singleAttemptKey, true)
}

func singleAttempt(ctx context.Context) bool {
	v, _ := ctx.Value(singleAttemptKey).(bool)
	return v
}
