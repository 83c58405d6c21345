package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/hospital-backoffice/backoffice/internal/jobs"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobCollectors(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	_ = jobs.Track("ledger:reconcile").End(nil)
	jobs.AddDiscrepancies("inventory", 2)

	body := scrape(t, metrics)
	assert.Contains(t, body, `backoffice_jobs_total{job="ledger:reconcile",status="success"} 1`)
	assert.Contains(t, body, `backoffice_ledger_discrepancies_total{ledger="inventory"} 2`)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `backoffice_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `backoffice_http_request_duration_seconds_bucket{route="/test"`)
}

func TestObservePosting(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObservePosting("shop", "income", decimal.RequireFromString("150.50"))
	metrics.ObservePosting("shop", "income", decimal.RequireFromString("49.50"))

	body := scrape(t, metrics)
	assert.Contains(t, body, `backoffice_ledger_postings_total{ledger="shop",type="income"} 2`)
	assert.Contains(t, body, `backoffice_ledger_posted_amount_total{ledger="shop",type="income"} 200`)

	var none *Metrics
	assert.NotPanics(t, func() { none.ObservePosting("shop", "income", decimal.NewFromInt(1)) })
}

func TestNilMetricsIsUnavailable(t *testing.T) {
	var metrics *Metrics
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	assert.NotNil(t, metrics.Middleware(next))
}
