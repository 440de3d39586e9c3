package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthyByDefault(t *testing.T) {
	hm := NewHealthMonitor()
	rec := get(t, hm.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestRecordRun(t *testing.T) {
	hm := NewHealthMonitor()
	hm.RecordRun(RunInfo{RunID: "a", Task: "reverse", Verified: true})
	assert.Equal(t, "healthy", hm.Status().Status)
	assert.Empty(t, hm.Status().Alerts)

	hm.RecordRun(RunInfo{RunID: "b", Task: "proportion", Verified: false})
	st := hm.Status()
	assert.Equal(t, "healthy", st.Status)
	require.Len(t, st.Alerts, 1)
	assert.Equal(t, "warning", st.Alerts[0].Level)

	hm.RecordRun(RunInfo{RunID: "c", Task: "reverse", Error: "equivalence check failed"})
	st = hm.Status()
	assert.Equal(t, "degraded", st.Status)
	assert.Equal(t, 3, st.Runs)
	assert.Equal(t, "c", st.LastRun.RunID)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, hm.Handler(), "/health").Code)
}

func TestStatusEndpoint(t *testing.T) {
	hm := NewHealthMonitor()
	hm.RecordRun(RunInfo{RunID: "x", Task: "reverse", Verified: true})

	rec := get(t, hm.Handler(), "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var st HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "reverse", st.LastRun.Task)
	assert.NotEmpty(t, st.System.GoVersion)
}

func TestAlertsAreBounded(t *testing.T) {
	hm := NewHealthMonitor()
	for i := 0; i < maxAlerts+5; i++ {
		hm.AddAlert("warning", "test", "x")
	}
	assert.Len(t, hm.Status().Alerts, maxAlerts)
}

func TestMetricsRoute(t *testing.T) {
	rec := get(t, NewHealthMonitor().Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
