// Package metrics exposes Prometheus metrics for the credential manager.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh attempt outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Metrics holds all Prometheus metrics for the credential manager
type Metrics struct {
	// RefreshAttempts counts token refresh attempts by provider kind and outcome
	RefreshAttempts *prometheus.CounterVec
	// SweepCredentialsDue tracks how many credentials each sweep found due
	SweepCredentialsDue prometheus.Gauge
	// ExchangeAttempts counts initial token exchanges by provider kind and outcome
	ExchangeAttempts *prometheus.CounterVec
	// WebhookValidations counts inbound webhook signature checks by result
	WebhookValidations *prometheus.CounterVec
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RefreshAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refresh_attempts_total",
				Help:      "Total number of token refresh attempts",
			},
			[]string{"provider_kind", "outcome"},
		),
		SweepCredentialsDue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sweep_credentials_due",
				Help:      "Credentials found due for refresh by the last sweep",
			},
		),
		ExchangeAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_exchange_attempts_total",
				Help:      "Total number of initial token exchange attempts",
			},
			[]string{"provider_kind", "outcome"},
		),
		WebhookValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_validations_total",
				Help:      "Total number of inbound webhook signature validations",
			},
			[]string{"provider_kind", "result"},
		),
	}

	registry.MustRegister(
		m.RefreshAttempts,
		m.SweepCredentialsDue,
		m.ExchangeAttempts,
		m.WebhookValidations,
	)

	return m
}

// ObserveRefresh increments the refresh counter once per attempt
func (m *Metrics) ObserveRefresh(providerKind string, success bool) {
	outcome := OutcomeFailed
	if success {
		outcome = OutcomeSuccess
	}
	m.RefreshAttempts.WithLabelValues(providerKind, outcome).Inc()
}

// ObserveExchange increments the exchange counter once per attempt
func (m *Metrics) ObserveExchange(providerKind string, success bool) {
	outcome := OutcomeFailed
	if success {
		outcome = OutcomeSuccess
	}
	m.ExchangeAttempts.WithLabelValues(providerKind, outcome).Inc()
}

// Handler returns an HTTP handler serving this instance's registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
