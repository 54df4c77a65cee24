package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementTransaction("Complete")
		m.IncrementOTPIssued("email", "ok")
		m.IncrementOTPValidation("valid")
		m.IncrementFallbackWrite("ok")
		m.IncrementNotification("email", "ok")
		m.ObserveSigningLatency(time.Second)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := New()

	m.IncrementTransaction("Complete")
	m.IncrementTransaction("Complete")
	m.IncrementTransaction("OtpRejected")
	m.IncrementFallbackWrite("error")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransactionOutcome.WithLabelValues("Complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransactionOutcome.WithLabelValues("OtpRejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackWrites.WithLabelValues("error")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "esign_signing_transactions_total")
}

// TestMetrics_Independent tests that two instances do not collide on registration
func TestMetrics_Independent(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
