package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/sales/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sales/sale-42", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/api/v1/sales/{id}", "404")))
}

func TestRecordOperationIsExposed(t *testing.T) {
	m := NewMetrics()
	m.RecordOperation("complete_sale", "ok")
	m.RecordOperation("complete_sale", "ok")
	m.RecordOperation("complete_sale", "rejected")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `kasastok_operations_total{operation="complete_sale",outcome="ok"} 2`))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordOperation("complete_sale", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
