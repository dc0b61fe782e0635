package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperengineering/cardvault/internal/collection"
	"github.com/hyperengineering/cardvault/internal/store"
)

func TestWithHandle_HandleFromContext_RoundTrip(t *testing.T) {
	h := &collection.Handle{}
	ctx := WithHandle(context.Background(), h)

	got, err := HandleFromContext(ctx)
	if err != nil {
		t.Fatalf("HandleFromContext returned error: %v", err)
	}
	if got != h {
		t.Error("got different handle instance, want same instance")
	}
}

func TestHandleFromContext_Missing(t *testing.T) {
	if _, err := HandleFromContext(context.Background()); !errors.Is(err, ErrNoHandleInContext) {
		t.Errorf("error = %v, want ErrNoHandleInContext", err)
	}

	ctx := WithHandle(context.Background(), nil)
	if _, err := HandleFromContext(ctx); !errors.Is(err, ErrNoHandleInContext) {
		t.Errorf("nil handle: error = %v, want ErrNoHandleInContext", err)
	}
}

func TestMustHandleFromContext_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustHandleFromContext did not panic")
		}
	}()
	MustHandleFromContext(context.Background())
}

type openerFunc func(ctx context.Context) (*collection.Handle, error)

func (f openerFunc) Open(ctx context.Context) (*collection.Handle, error) { return f(ctx) }

func TestCatalogMiddleware_AttachesHandle(t *testing.T) {
	want := &collection.Handle{}
	opener := openerFunc(func(context.Context) (*collection.Handle, error) { return want, nil })

	var got *collection.Handle
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = MustHandleFromContext(r.Context())
	})

	CatalogMiddleware(opener)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if got != want {
		t.Error("handler did not receive the opened handle")
	}
}

func TestCatalogMiddleware_Unavailable(t *testing.T) {
	opener := openerFunc(func(context.Context) (*collection.Handle, error) {
		return nil, store.ErrStorageUnavailable
	})
	handler, called := mockHandler()

	w := httptest.NewRecorder()
	CatalogMiddleware(opener)(handler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	if *called {
		t.Error("handler should not run without a catalog")
	}
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}
