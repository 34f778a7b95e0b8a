package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func noContent(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestNewRouterProbesAndFallbacks(t *testing.T) {
	router := NewRouter()

	rr := serve(router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/readyz").Code)

	rr = serve(router, http.MethodGet, "/api/v1/orders")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "route_not_found", decodeBody(t, rr)["error"])

	rr = serve(router, http.MethodPost, "/healthz")
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	require.Equal(t, "method_not_allowed", decodeBody(t, rr)["error"])
}

func TestNewRouterOrderMiddlewaresStayInGroup(t *testing.T) {
	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Group", "orders")
			next.ServeHTTP(w, r)
		})
	}
	router := NewRouter(
		WithOrderRoutes(noContent),
		WithOrderMiddlewares(tag),
		WithAdminRoutes(noContent),
	)

	rr := serve(router, http.MethodGet, "/api/v1/orders")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "orders", rr.Header().Get("X-Group"))

	rr = serve(router, http.MethodGet, "/api/v1/admin")
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Empty(t, rr.Header().Get("X-Group"))

	require.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/api/v1/internal").Code)
}
