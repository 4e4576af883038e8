package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: обработка действия целиком (лимит + запись + детект-хук)
	ActionDuration *prometheus.HistogramVec

	// Traffic: принятые действия по бакетам
	ActionsTotal *prometheus.CounterVec

	// Отказы лимитера
	RateLimitDenied *prometheus.CounterVec

	// Алерты, прошедшие дедупликацию
	AlertsDispatched *prometheus.CounterVec

	// Размер блок-листа в RAM-кэше
	BlockedAddresses prometheus.Gauge

	// Audit: заполненность буфера асинхронной записи (backpressure)
	AuditBufferFill prometheus.Gauge

	// Состояние предохранителя канала уведомлений (1 = разомкнут)
	NotifierBreakerOpen prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ActionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "secwatch_action_duration_seconds",
			Help:    "Histogram of action processing latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"bucket", "outcome"}),

		ActionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "secwatch_actions_total",
			Help: "Total number of processed actions.",
		}, []string{"bucket"}),

		RateLimitDenied: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "secwatch_rate_limit_denied_total",
			Help: "Total number of rate-limited actions.",
		}, []string{"bucket"}),

		AlertsDispatched: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "secwatch_alerts_dispatched_total",
			Help: "Security alerts that passed deduplication.",
		}, []string{"type", "severity"}),

		BlockedAddresses: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "secwatch_blocked_addresses",
			Help: "Addresses currently in the local block list cache.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "secwatch_audit_buffer_utilization",
			Help: "Current number of events in the audit write buffer.",
		}),

		NotifierBreakerOpen: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "secwatch_notifier_breaker_open",
			Help: "Whether the notification circuit breaker is open (1) or closed (0).",
		}),
	}
}
