package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesCheckCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveCheck(true)
	metrics.ObserveCheck(false)
	metrics.ObserveCheck(false)

	body := scrape(t, metrics)
	if !strings.Contains(body, `accessd_rbac_checks_total{result="allow"} 1`) {
		t.Fatalf("expected allow counter, got: %s", body)
	}
	if !strings.Contains(body, `accessd_rbac_checks_total{result="deny"} 2`) {
		t.Fatalf("expected deny counter, got: %s", body)
	}
}

func TestMetricsCacheEvents(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveCacheEvent("check_hit")
	metrics.ObserveCacheEvent("check_miss")
	metrics.ObserveCacheEvent("check_miss")

	body := scrape(t, metrics)
	if !strings.Contains(body, `accessd_rbac_cache_events_total{event="check_hit"} 1`) {
		t.Fatalf("expected hit counter, got: %s", body)
	}
	if !strings.Contains(body, `accessd_rbac_cache_events_total{event="check_miss"} 2`) {
		t.Fatalf("expected miss counter, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/check")

	req := httptest.NewRequest(http.MethodPost, "/check", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `accessd_http_requests_total{code="418",route="/check"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `accessd_http_request_duration_seconds_bucket{route="/check"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveCheck(true)
	metrics.ObserveCacheEvent("check_hit")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rr := httptest.NewRecorder()
	metrics.Middleware(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("nil metrics middleware must pass through, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil metrics handler should 503, got %d", rr.Code)
	}
}
