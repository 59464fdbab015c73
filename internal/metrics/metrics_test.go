package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_Ingestion(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.AddRecords(StageFetched, 40)
	m.AddRecords(StageFetched, 10)
	m.AddRecords(StageSaved, 0)
	m.IncReject("price_out_of_range")
	m.IncReject("price_out_of_range")
	m.IncPartitionError()
	m.ObserveRun(OutcomePartial, 3*time.Second)
	m.SetSchedulerRunning(true)

	assert.Equal(t, 50.0, testutil.ToFloat64(m.records.WithLabelValues(StageFetched)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.records.WithLabelValues(StageSaved)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rejects.WithLabelValues("price_out_of_range")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partitionErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(OutcomePartial)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.schedulerRunning))

	m.SetSchedulerRunning(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.schedulerRunning))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddRecords(StageFetched, 1)
		m.IncReject("x")
		m.IncPartitionError()
		m.ObserveRun(OutcomeSuccess, time.Second)
		m.SetSchedulerRunning(true)
	})
}

func TestMetrics_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/stats/market", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(Handler(reg)))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats/market?city=Paris", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/stats/market", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "immostats_http_requests_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(m.httpRequests))
}
