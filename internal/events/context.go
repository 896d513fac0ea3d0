package events

import (
	"context"
	"os"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
	userIDKey
	householdIDKey
)

// FromContext extracts the logger from ctx, falling back to the package
// default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return defaultLogger
}

// WithLogger attaches a logger to ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithRequestID scopes ctx and its logger to one batch request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("request_id", id)
	ctx = context.WithValue(ctx, requestIDKey, id)
	return WithLogger(ctx, logger)
}

// WithUserID scopes ctx and its logger to the signed-in user.
func WithUserID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("user_id", id)
	ctx = context.WithValue(ctx, userIDKey, id)
	return WithLogger(ctx, logger)
}

// WithHouseholdID scopes ctx and its logger to a household.
func WithHouseholdID(ctx context.Context, id string) context.Context {
	logger := FromContext(ctx).WithField("household_id", id)
	ctx = context.WithValue(ctx, householdIDKey, id)
	return WithLogger(ctx, logger)
}

// GetRequestID retrieves the batch request id from ctx.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetUserID retrieves the user id from ctx.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// GetHouseholdID retrieves the household id from ctx.
func GetHouseholdID(ctx context.Context) string {
	if id, ok := ctx.Value(householdIDKey).(string); ok {
		return id
	}
	return ""
}

var defaultLogger = NewTestLogger(InfoLevel, "text", os.Stdout)

// SetDefault sets the logger FromContext falls back to.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}
