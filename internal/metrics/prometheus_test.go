package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware("test-service"))
	router.POST("/api/v1/attendance/check_in", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	router.GET("/missing", func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not Found")
	})
	router.GET("/metrics", Handler())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/v1/attendance/check_in", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))

	body := scrape(t, router)
	assert.Contains(t, body, `presensi_http_requests_total`)
	assert.Contains(t, body, `presensi_http_request_duration_seconds_bucket`)
	assert.Contains(t, body, `service="test-service"`)
	assert.Contains(t, body, `path="/api/v1/attendance/check_in"`)
	assert.Contains(t, body, `status="404"`)
	assert.Contains(t, body, `method="POST"`)
}

func TestHandler_ContentType(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

func TestRecordVerdict(t *testing.T) {
	before := testutil.ToFloat64(verdictsTotal.WithLabelValues("check_in", "high", "blocked"))

	RecordVerdict("check_in", "high", "blocked", 80)
	RecordVerdict("check_in", "high", "blocked", 70)

	after := testutil.ToFloat64(verdictsTotal.WithLabelValues("check_in", "high", "blocked"))
	assert.Equal(t, before+2, after)
}

func TestCounters(t *testing.T) {
	inconclusive := testutil.ToFloat64(travelInconclusiveTotal)
	IncTravelInconclusive()
	assert.Equal(t, inconclusive+1, testutil.ToFloat64(travelInconclusiveTotal))

	dup := testutil.ToFloat64(duplicateSubmissionsTotal.WithLabelValues("check_out"))
	IncDuplicateSubmission("check_out")
	assert.Equal(t, dup+1, testutil.ToFloat64(duplicateSubmissionsTotal.WithLabelValues("check_out")))

	sink := testutil.ToFloat64(sinkFailuresTotal.WithLabelValues("search"))
	IncSinkFailure("search")
	assert.Equal(t, sink+1, testutil.ToFloat64(sinkFailuresTotal.WithLabelValues("search")))

	hits := testutil.ToFloat64(cacheOperationsTotal.WithLabelValues("zone", "get", "hit"))
	RecordCacheOperation("zone", "get", "hit")
	assert.Equal(t, hits+1, testutil.ToFloat64(cacheOperationsTotal.WithLabelValues("zone", "get", "hit")))
}

func TestHistogramsDoNotPanic(t *testing.T) {
	RecordZoneLookup("found", 3*time.Millisecond)
	RecordZoneLookup("timeout", 5*time.Second)
	RecordDBQuery("select", "work_locations", 2*time.Millisecond)
	RecordDBQuery("insert", "location_risk_verdicts", 4*time.Millisecond)
}

func TestHandler_ServeHTTP(t *testing.T) {
	handler := Handler()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := gin.CreateTestContext(w)
		c.Request = r
		handler(c)
	}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "presensi_travel_inconclusive_total")
}
