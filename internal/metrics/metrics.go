// Package metrics содержит счётчики Prometheus портала.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Исходы попытки загрузки.
const (
	OutcomeRecorded          = "recorded"
	OutcomeLimitReached      = "limit_reached"
	OutcomeAlreadyDownloaded = "already_downloaded"
	OutcomeLocked            = "locked"
	OutcomeUnavailable       = "unavailable"
	OutcomeAckRequired       = "ack_required"
	OutcomeArtifactNotFound  = "not_found"
)

// Metrics набор счётчиков. Методы безопасны для nil-получателя,
// чтобы сервисы в тестах можно было собирать без регистрации метрик.
type Metrics struct {
	downloadAttempts *prometheus.CounterVec
	assignments      *prometheus.CounterVec
	accessFailures   prometheus.Counter
	billingEvents    *prometheus.CounterVec
}

// New создаёт счётчики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		downloadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "download_attempts_total",
			Help:      "Download attempts by outcome.",
		}, []string{"outcome"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "product_assignments_total",
			Help:      "Created product assignments by product code and source.",
		}, []string{"product_code", "source"}),
		accessFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "access_resolution_failures_total",
			Help:      "Access level resolutions that failed closed.",
		}),
		billingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "billing_events_total",
			Help:      "Billing webhook events by type and result.",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(m.downloadAttempts, m.assignments, m.accessFailures, m.billingEvents)
	return m
}

// DownloadAttempt учитывает исход попытки загрузки.
func (m *Metrics) DownloadAttempt(outcome string) {
	if m == nil {
		return
	}
	m.downloadAttempts.WithLabelValues(outcome).Inc()
}

// AssignmentCreated учитывает новую выдачу продукта.
func (m *Metrics) AssignmentCreated(productCode, source string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(productCode, source).Inc()
}

// AccessResolutionFailed учитывает отказ вычисления уровня доступа.
func (m *Metrics) AccessResolutionFailed() {
	if m == nil {
		return
	}
	m.accessFailures.Inc()
}

// BillingEvent учитывает событие биллинга.
func (m *Metrics) BillingEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.billingEvents.WithLabelValues(eventType, result).Inc()
}
