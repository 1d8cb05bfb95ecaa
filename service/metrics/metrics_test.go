package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTransferOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransferOutcome("succeeded", "")
	m.RecordTransferOutcome("failed", "expired")
	m.RecordTransferOutcome("failed", "expired")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transferOutcomesTotal.WithLabelValues("succeeded", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transferOutcomesTotal.WithLabelValues("failed", "expired")))
}

func TestTransfersInFlight(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransferStarted()
	m.RecordTransferStarted()
	m.RecordTransferFinished()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transfersInFlight))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/transfers")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/transfers", "POST", "4xx")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	called := false
	handler := HTTPMetricsMiddleware(nil, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, called)
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(202))
	assert.Equal(t, "4xx", statusCodeToString(409))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(99))
}
