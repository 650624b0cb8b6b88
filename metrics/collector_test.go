package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/wordcheck/points-engine/points"
)

func TestCollector_Recorders(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ObserveMutation("debit", points.CategoryAIUsage, "ok", 5*time.Millisecond)
	c.ObserveMutation("debit", points.CategoryAIUsage, "ok", time.Millisecond)
	c.StorageRetry("credit")
	c.ObserveSignIn("already_signed")
	c.CacheRequest("redis", "hit")
	c.TaskDropped("carousel.view")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.mutations.WithLabelValues("debit", "ai_usage", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storageRetries.WithLabelValues("credit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.signIns.WithLabelValues("already_signed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheRequests.WithLabelValues("redis", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksDropped.WithLabelValues("carousel.view")))
}

func TestCollector_MiddlewareUsesRoutePattern(t *testing.T) {
	c := New(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/api/carousels/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", c.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/carousels/7", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/carousels/8", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("/api/carousels/{id}", "GET", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "points_http_requests_total")
}
