package monitor

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestMetricsHandlerIncludesRegisteredGauges(t *testing.T) {
	m := NewMetrics()
	m.sensorQueueDepth.Set(3)

	body := scrape(t, m)
	assert.Contains(t, body, "gateway_sensor_queue_depth")
	assert.Contains(t, body, "3")
}

func TestSetSecurityStatsIsMonotonic(t *testing.T) {
	m := NewMetrics()

	m.SetSecurityStats(5, 5, 1, 0)
	assert.Contains(t, scrape(t, m), "gateway_security_messages_encrypted_total 5")

	// A lower "cumulative total" must never move the counter backwards.
	m.SetSecurityStats(2, 2, 1, 0)
	assert.Contains(t, scrape(t, m), "gateway_security_messages_encrypted_total 5")

	m.SetSecurityStats(9, 9, 2, 1)
	assert.Contains(t, scrape(t, m), "gateway_security_messages_encrypted_total 9")
}
