package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsWithRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"65f1a2b3c4d5e6f7a8b9c0d1", "65f1a2b3c4d5e6f7a8b9c0d2"} {
		req := httptest.NewRequest(http.MethodGet, "/items/"+id, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	// Both requests collapse into the one pattern label; raw ids never
	// become label values.
	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/items/{id}", "200"))
	if got != 2 {
		t.Fatalf("expected 2 requests under the pattern label, got %v", got)
	}
	leaked := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/items/65f1a2b3c4d5e6f7a8b9c0d1", "200"))
	if leaked != 0 {
		t.Fatalf("expected no raw-path label, got %v", leaked)
	}
}
