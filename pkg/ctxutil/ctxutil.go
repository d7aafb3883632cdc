package ctxutil

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type ctxKey string

const (
	actorKey       ctxKey = "actor"
	operationIDKey ctxKey = "operation_id"
)

// WithActor stores the operator name recorded on finalizations.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, strings.TrimSpace(actor))
}

// ActorFromCtx extracts the actor from the context.
// Returns "" and false if the value is missing or blank.
func ActorFromCtx(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorKey).(string)
	if !ok || actor == "" {
		return "", false
	}
	return actor, true
}

// WithOperationID stores the id correlating all log lines of one engine
// operation (one CLI command or one watcher-triggered import).
func WithOperationID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, operationIDKey, id)
}

// OperationIDFromCtx extracts the operation id from the context.
// Returns uuid.Nil and false if the value is missing, nil UUID, or wrong type.
func OperationIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(operationIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// EnsureOperationID returns ctx unchanged when it already carries an
// operation id, otherwise a child context with a fresh one.
func EnsureOperationID(ctx context.Context) context.Context {
	if _, ok := OperationIDFromCtx(ctx); ok {
		return ctx
	}
	return WithOperationID(ctx, uuid.New())
}
