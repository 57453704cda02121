// Package metrics holds the Prometheus instrumentation for the directory
// service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates all service metrics. A nil *Metrics is valid and
// records nothing, so tests can run without touching the default registry.
type Metrics struct {
	RegistrationsTotal   *prometheus.CounterVec
	RegistrationDuration prometheus.Histogram
	VerificationProbes   *prometheus.CounterVec
	SponsorBalanceWei    prometheus.Gauge
	CapabilityWrites     *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		RegistrationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentdir_registrations_total",
				Help: "Registration pipeline outcomes",
			},
			[]string{"outcome"}, // confirmed, rejected, rate_limited, conflict, underfunded, unavailable, chain_error
		),
		RegistrationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentdir_registration_duration_seconds",
				Help:    "End-to-end duration of sponsored registrations",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		VerificationProbes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentdir_verification_probes_total",
				Help: "Platform verification outcomes per platform",
			},
			[]string{"platform", "result"}, // valid, invalid, unverified
		),
		SponsorBalanceWei: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentdir_sponsor_balance_wei",
				Help: "Sponsor wallet balance observed at the last fee check",
			},
		),
		CapabilityWrites: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentdir_capability_writes_total",
				Help: "Capability index write outcomes",
			},
			[]string{"result"}, // ok, invalid, unknown_agent, error
		),
	}
}

// RecordRegistration counts a pipeline outcome and its duration.
func (m *Metrics) RecordRegistration(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RegistrationsTotal.WithLabelValues(outcome).Inc()
	m.RegistrationDuration.Observe(seconds)
}

// RecordProbe counts one platform verification result.
func (m *Metrics) RecordProbe(platform, result string) {
	if m == nil {
		return
	}
	m.VerificationProbes.WithLabelValues(platform, result).Inc()
}

// ObserveSponsorBalance updates the sponsor balance gauge.
func (m *Metrics) ObserveSponsorBalance(wei float64) {
	if m == nil {
		return
	}
	m.SponsorBalanceWei.Set(wei)
}

// RecordCapabilityWrite counts a capability index write outcome.
func (m *Metrics) RecordCapabilityWrite(result string) {
	if m == nil {
		return
	}
	m.CapabilityWrites.WithLabelValues(result).Inc()
}
