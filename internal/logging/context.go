package logging

import (
	"context"

	"go.uber.org/zap"
)

// Context key types
type scopeCtxKey struct{}
type operationCtxKey struct{}
type requestCtxKey struct{}

// Scope identifies the (project, dataset) pair an entry belongs to.
type Scope struct {
	Project string
	Dataset string
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if scope := ScopeFromContext(ctx); scope != nil {
		fields = append(fields, zap.String("project", scope.Project))
		if scope.Dataset != "" {
			fields = append(fields, zap.String("dataset", scope.Dataset))
		}
	}

	if opID := OperationIDFromContext(ctx); opID != "" {
		fields = append(fields, zap.String("operation.id", opID))
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// WithScope adds the (project, dataset) scope to context.
func WithScope(ctx context.Context, scope *Scope) context.Context {
	if scope == nil {
		return ctx
	}
	return context.WithValue(ctx, scopeCtxKey{}, scope)
}

// ScopeFromContext extracts the scope from context, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	if s, ok := ctx.Value(scopeCtxKey{}).(*Scope); ok {
		return s
	}
	return nil
}

// WithOperationID adds a long-running operation id to context.
func WithOperationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, operationCtxKey{}, id)
}

// OperationIDFromContext extracts the operation id from context.
func OperationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(operationCtxKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRequestID adds an HTTP request id to context.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, id)
}

// RequestIDFromContext extracts the request id from context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return id
	}
	return ""
}
