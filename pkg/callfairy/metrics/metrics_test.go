package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInstrumentCountsByRoute(t *testing.T) {
	Init()
	Init()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Instrument())
	r.GET("/things/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/things/:id", "200"))
	for _, id := range []string{"1", "2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/"+id, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, before+2, testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "/things/:id", "200")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(HTTPRequests.WithLabelValues("GET", "unmatched", "404")), 1.0)
}

func TestObserveGate(t *testing.T) {
	before := testutil.ToFloat64(GateDecisions.WithLabelValues("superadmin", "denied"))
	ObserveGate("superadmin", false)
	assert.Equal(t, before+1, testutil.ToFloat64(GateDecisions.WithLabelValues("superadmin", "denied")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	Init()
	AgentEvents.WithLabelValues("assigned").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "callfairy_agent_events_total"))
}
