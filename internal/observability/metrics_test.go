package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCall(t *testing.T) {
	m := NewMetrics("test")

	m.ObserveCall(time.Now(), 7, "", nil)
	m.ObserveCall(time.Now(), 0, "unauthorized", errors.New("nope"))
	m.ObserveCall(time.Now(), 0, "", errors.New("nope"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues(OutcomeCommitted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues(OutcomeReverted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RevertsTotal.WithLabelValues("unauthorized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RevertsTotal.WithLabelValues("other")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.LastBlock))
}

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics("")
	b := NewMetrics("")
	a.Burned()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.BurnEventsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.BurnEventsTotal))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCall(time.Now(), 1, "", nil)
	m.FeeGathered("0x1")
	m.Burned()
	m.Swept(true)
	assert.Nil(t, m.Registry())
}

func TestHandlerServesText(t *testing.T) {
	m := NewMetrics("feeledger")
	m.Swept(true)
	m.Swept(false)
	m.FeeGathered("0xabc")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `feeledger_aggregator_sweep_conversions_total{outcome="converted"} 1`))
	assert.True(t, strings.Contains(body, `feeledger_aggregator_fee_events_total{token="0xabc"} 1`))
}
