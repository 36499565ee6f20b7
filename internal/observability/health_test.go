package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadiness_RequiresReadyAndChecks(t *testing.T) {
	h := NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	h.SetCheck("database", true)
	h.SetCheck("nats", false)
	assert.False(t, h.IsReady())

	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "failing", body.Checks["nats"])
	assert.Equal(t, "ok", body.Checks["database"])

	h.SetCheck("nats", true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLiveness_AlwaysOK(t *testing.T) {
	h := NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "debug",
		"":        "info",
		"warning": "warn",
		"bogus":   "info",
		"off":     "disabled",
		"TRACE":   "trace",
		"error":   "error",
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLogLevel(in).String(), in)
	}
}

func TestNewLoggerWithOptions_Formats(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOptions("core", LogOptions{Level: "warn", Out: &buf})
	logger.Info().Msg("hidden")
	logger.Warn().Int64("sequence", 7).Msg("shown")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "core", line["component"])
	assert.Equal(t, "shown", line["message"])
	assert.EqualValues(t, 7, line["sequence"])

	buf.Reset()
	console := NewLoggerWithOptions("core", LogOptions{Format: "console", Out: &buf})
	console.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), `"message"`)
}
