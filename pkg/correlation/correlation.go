// Package correlation carries the request correlation id through contexts.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header a caller may use to supply its own id.
const Header = "X-Correlation-ID"

type contextKey struct{}

func NewContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the id stored in ctx, or "" if there is none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Ensure returns ctx carrying an id, generating one when absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.New().String()
	return NewContext(ctx, id), id
}
