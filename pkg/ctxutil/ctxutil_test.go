package ctxutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestWithActor_And_ActorFromCtx(t *testing.T) {
	t.Parallel()

	ctx := WithActor(context.Background(), "  dr.muster ")

	got, ok := ActorFromCtx(ctx)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != "dr.muster" {
		t.Fatalf("expected trimmed actor, got %q", got)
	}
}

func TestActorFromCtx_Missing(t *testing.T) {
	t.Parallel()

	if _, ok := ActorFromCtx(context.Background()); ok {
		t.Fatal("expected ok=false for empty context")
	}
	if _, ok := ActorFromCtx(WithActor(context.Background(), "   ")); ok {
		t.Fatal("expected ok=false for blank actor")
	}
}

func TestWithOperationID_And_OperationIDFromCtx(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	ctx := WithOperationID(context.Background(), id)

	got, ok := OperationIDFromCtx(ctx)
	if !ok {
		t.Fatal("expected ok=true for valid UUID")
	}
	if got != id {
		t.Fatalf("expected %s, got %s", id, got)
	}
}

func TestOperationIDFromCtx_NilUUID(t *testing.T) {
	t.Parallel()

	ctx := WithOperationID(context.Background(), uuid.Nil)

	if _, ok := OperationIDFromCtx(ctx); ok {
		t.Fatal("expected ok=false for uuid.Nil")
	}
}

func TestEnsureOperationID(t *testing.T) {
	t.Parallel()

	ctx := EnsureOperationID(context.Background())
	first, ok := OperationIDFromCtx(ctx)
	if !ok {
		t.Fatal("expected a generated operation id")
	}

	again, _ := OperationIDFromCtx(EnsureOperationID(ctx))
	if again != first {
		t.Fatalf("existing id must be kept: %s != %s", again, first)
	}
}
