package correlation

import (
	"context"
	"testing"
)

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if id == "" {
		t.Fatal("Expected a generated id")
	}
	if FromContext(ctx) != id {
		t.Errorf("Expected context to carry %s, got %s", id, FromContext(ctx))
	}

	same, again := Ensure(ctx)
	if again != id || FromContext(same) != id {
		t.Errorf("Expected existing id %s kept, got %s", id, again)
	}
}

func TestFromContext_Empty(t *testing.T) {
	if id := FromContext(context.Background()); id != "" {
		t.Errorf("Expected empty id, got %q", id)
	}
}
