package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/blockundo/internal/logging"
)

func TestMain(m *testing.M) {
	logging.LogDir = ""
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func TestPrometheusMiddleware_CountsRequestsAndErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := gin.New()

	promMw := NewPrometheusMiddleware("test", registry, registry)
	r.Use(promMw.Handler())
	r.GET("/ok", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/fail", func(c *gin.Context) { c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"}) })

	for _, path := range []string{"/ok", "/fail"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := registry.Gather()
	require.NoError(t, err)

	var durationFound, errorsFound bool
	for _, mf := range families {
		switch mf.GetName() {
		case "test_http_request_duration_seconds":
			durationFound = true
			assert.Len(t, mf.Metric, 2, "по серии на каждый путь")
		case "test_http_request_errors_total":
			errorsFound = true
			require.Len(t, mf.Metric, 1)
			assert.Equal(t, 1.0, mf.Metric[0].GetCounter().GetValue())
		}
	}
	assert.True(t, durationFound)
	assert.True(t, errorsFound)
}

func TestPrometheusMiddleware_MetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := gin.New()

	promMw := NewPrometheusMiddleware("undo_api", registry, registry)
	r.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(r)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "undo_api_http_request_duration_seconds"))
}

func TestRequestLogger_SetsTraceID(t *testing.T) {
	r := gin.New()
	r.Use(NewRequestLogger(nil).Handler())

	var traceID string
	r.GET("/x", func(c *gin.Context) {
		traceID = c.GetString("trace_id")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Len(t, traceID, 36, "без активного спана используется UUID")
}
