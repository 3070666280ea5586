package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/epieczko/claude-code-riskexec/internal/logging"
	"github.com/epieczko/claude-code-riskexec/internal/telemetry"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	m := NewHTTPMetrics(tel.Meter(httpInstrumentationName), logging.Nop())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/features/:feature/validation", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "no")
	})

	for _, target := range []string{"/api/v1/features/a/validation", "/api/v1/features/b/validation", "/boom"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	}

	rm, err := tel.Collect(context.Background())
	require.NoError(t, err)

	requests, ok := telemetry.FindMetric(rm, "speckit.http.requests_total")
	require.True(t, ok)
	sum, ok := requests.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byRoute := map[string]int64{}
	statuses := map[int64]bool{}
	for _, dp := range sum.DataPoints {
		route, _ := dp.Attributes.Value("endpoint")
		status, _ := dp.Attributes.Value("status")
		byRoute[route.AsString()] += dp.Value
		statuses[status.AsInt64()] = true
	}
	assert.Equal(t, int64(2), byRoute["/api/v1/features/:feature/validation"])
	assert.Equal(t, int64(1), byRoute["/boom"])
	assert.True(t, statuses[http.StatusTeapot])

	duration, ok := telemetry.FindMetric(rm, "speckit.http.request_duration_seconds")
	require.True(t, ok)
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	_, ok = telemetry.FindMetric(rm, "speckit.http.response_size_bytes")
	assert.True(t, ok)
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "unmatched", routeLabel(""))
	assert.Equal(t, "/health", routeLabel("/health"))
}
