package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/api/chat":                "/api/chat",
		"/api/cancel/abc":          "/api/cancel",
		"/api/magic/cancel/abc":    "/api/magic/cancel",
		"/api/chat_session/abc":    "/api/chat_session",
		"/api/canvas/c1/sessions":  "/api/canvas/sessions",
		"/api/sessions/abc/events": "/api/sessions/events",
		"/metrics":                 "/metrics",
		"/something/else":          "other",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/health", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues(http.MethodGet, "/health", "418"))
	assert.Equal(t, before+1, after)
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(ToolCalls.WithLabelValues("sample_tool", "error"))
	RecordToolCall("sample_tool", errors.New("x"))
	assert.Equal(t, before+1, testutil.ToFloat64(ToolCalls.WithLabelValues("sample_tool", "error")))

	RecordRunStart("sample")
	assert.Equal(t, 1.0, testutil.ToFloat64(ActiveRuns.WithLabelValues("sample")))
	RecordRunEnd("sample", "done", time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(ActiveRuns.WithLabelValues("sample")))

	p := testutil.ToFloat64(PersistedMessages)
	RecordPersisted(3)
	assert.Equal(t, p+3, testutil.ToFloat64(PersistedMessages))
}
