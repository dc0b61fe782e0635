package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/hyperengineering/cardvault/internal/collection"
)

// handleContextKey is the context key for the resolved collection handle.
type handleContextKey struct{}

// ErrNoHandleInContext indicates no collection handle was found in the context.
var ErrNoHandleInContext = errors.New("no collection handle in context")

// WithHandle returns a new context with the handle attached.
func WithHandle(ctx context.Context, h *collection.Handle) context.Context {
	return context.WithValue(ctx, handleContextKey{}, h)
}

// HandleFromContext extracts the handle from the context.
// Returns ErrNoHandleInContext if not present or nil.
func HandleFromContext(ctx context.Context) (*collection.Handle, error) {
	h, ok := ctx.Value(handleContextKey{}).(*collection.Handle)
	if !ok || h == nil {
		return nil, ErrNoHandleInContext
	}
	return h, nil
}

// MustHandleFromContext extracts the handle or panics.
// Use only when middleware guarantees handle presence.
func MustHandleFromContext(ctx context.Context) *collection.Handle {
	h, err := HandleFromContext(ctx)
	if err != nil {
		panic("collection handle not in context: middleware misconfiguration")
	}
	return h
}

// CatalogMiddleware opens the collection (once) and attaches the handle to
// the request context. An unreachable catalog is a 503.
func CatalogMiddleware(opener Opener) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h, err := opener.Open(r.Context())
			if err != nil {
				MapStoreError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithHandle(r.Context(), h)))
		})
	}
}
