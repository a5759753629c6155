// Package driverctx carries the ids that tag errors and log lines of a result set.
package driverctx

import (
	"context"
)

type contextKey int

const (
	CorrelationIdContextKey contextKey = iota
	ConnIdContextKey
	QueryIdContextKey
	QueryIdCallbackKey
)

type IdCallbackFunc func(string)

// NewContextWithCorrelationId tags ctx with a caller supplied correlation id, logged as corrId.
func NewContextWithCorrelationId(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, CorrelationIdContextKey, correlationId)
}

func CorrelationIdFromContext(ctx context.Context) string {
	return stringValue(ctx, CorrelationIdContextKey)
}

// NewContextWithConnId tags ctx with the id of the session the result belongs to, logged as connId.
func NewContextWithConnId(ctx context.Context, connId string) context.Context {
	return context.WithValue(ctx, ConnIdContextKey, connId)
}

func ConnIdFromContext(ctx context.Context) string {
	return stringValue(ctx, ConnIdContextKey)
}

// NewContextWithQueryId creates a new context with the id of the statement whose
// result is being read. A callback registered with NewContextWithQueryIdCallback
// is invoked with the id.
func NewContextWithQueryId(ctx context.Context, queryId string) context.Context {
	if callback, ok := ctx.Value(QueryIdCallbackKey).(IdCallbackFunc); ok {
		callback(queryId)
	}

	return context.WithValue(ctx, QueryIdContextKey, queryId)
}

func QueryIdFromContext(ctx context.Context) string {
	return stringValue(ctx, QueryIdContextKey)
}

func NewContextWithQueryIdCallback(ctx context.Context, callback IdCallbackFunc) context.Context {
	return context.WithValue(ctx, QueryIdCallbackKey, callback)
}

// NewContextFromBackground copies the ids of ctx onto a context that is never cancelled.
// Used for background work that must outlive the caller, e.g. the download workers of a result set.
func NewContextFromBackground(ctx context.Context) context.Context {
	newCtx := NewContextWithConnId(context.Background(), ConnIdFromContext(ctx))
	newCtx = NewContextWithCorrelationId(newCtx, CorrelationIdFromContext(ctx))
	return context.WithValue(newCtx, QueryIdContextKey, QueryIdFromContext(ctx))
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}

	v, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return v
}
