// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the passkey
// service: ceremony counters, validation failure breakdowns, and HTTP
// request metrics.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all passkey metrics.
	Namespace = "passkey"

	// Label names
	LabelCeremony   = "ceremony"
	LabelStatus     = "status"
	LabelKind       = "kind"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Ceremony values
	CeremonyRegistration   = "registration"
	CeremonyAuthentication = "authentication"
)

var (
	// CeremoniesTotal counts completed ceremony operations by type and
	// outcome.
	CeremoniesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ceremonies_total",
			Help:      "Total number of WebAuthn ceremony operations by type and status",
		},
		[]string{LabelCeremony, LabelStatus},
	)

	// CeremonyDuration tracks ceremony operation latency in seconds.
	CeremonyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ceremony_duration_seconds",
			Help:      "Duration of WebAuthn ceremony operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{LabelCeremony},
	)

	// ValidationFailuresTotal breaks rejected ceremonies down by failure
	// kind (challenge_mismatch, signature_invalid, counter_regression, ...).
	ValidationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "validation_failures_total",
			Help:      "Total number of rejected ceremony responses by failure kind",
		},
		[]string{LabelCeremony, LabelKind},
	)

	// CredentialsTotal gauges the number of stored credential records.
	CredentialsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "credentials_total",
			Help:      "Total number of stored credential records",
		},
	)

	// HTTPRequestsTotal counts HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks HTTP request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// enabled tracks whether metrics collection is active.
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordCeremony records a completed ceremony operation.
func RecordCeremony(ceremony, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	CeremoniesTotal.WithLabelValues(ceremony, status).Inc()
	CeremonyDuration.WithLabelValues(ceremony).Observe(duration)
}

// RecordValidationFailure records a rejected ceremony response.
func RecordValidationFailure(ceremony, kind string) {
	if !enabled.Load() {
		return
	}
	ValidationFailuresTotal.WithLabelValues(ceremony, kind).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// SetCredentialsTotal sets the stored credential gauge.
func SetCredentialsTotal(count float64) {
	if !enabled.Load() {
		return
	}
	CredentialsTotal.Set(count)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection. Useful for tests.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
