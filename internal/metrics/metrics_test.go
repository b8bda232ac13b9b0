package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveRefresh(t *testing.T) {
	m := NewMetrics("credhub")

	m.ObserveRefresh("slack", true)
	m.ObserveRefresh("slack", true)
	m.ObserveRefresh("slack", false)
	m.ObserveRefresh("hubspot", false)

	assert.Equal(t, float64(2), testutil.ToFloat64(
		m.RefreshAttempts.WithLabelValues("slack", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.RefreshAttempts.WithLabelValues("slack", OutcomeFailed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.RefreshAttempts.WithLabelValues("hubspot", OutcomeFailed)))
	assert.Equal(t, float64(0), testutil.ToFloat64(
		m.RefreshAttempts.WithLabelValues("hubspot", OutcomeSuccess)))
}

func TestObserveExchange(t *testing.T) {
	m := NewMetrics("credhub")

	m.ObserveExchange("salesforce", true)
	m.ObserveExchange("salesforce", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.ExchangeAttempts.WithLabelValues("salesforce", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		m.ExchangeAttempts.WithLabelValues("salesforce", OutcomeFailed)))
}

func TestHandler(t *testing.T) {
	m := NewMetrics("credhub")
	assert.NotNil(t, m.Handler())
}
