package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lyb88999/gns/internal/domain"
	"github.com/lyb88999/gns/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	JobsSubmitted   *prometheus.CounterVec
	JobsRejected    *prometheus.CounterVec
	JobsDelivered   *prometheus.CounterVec
	JobsFailed      *prometheus.CounterVec
	JobsRetried     *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
	AgingPromotions *prometheus.CounterVec
}

// DepthFunc reports the current queue length per priority tier.
type DepthFunc func() map[domain.Priority]int

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct. depths feeds one queue depth gauge per
// tier, evaluated at scrape time.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer, depths DepthFunc) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gns_jobs_submitted_total",
			Help: "Total number of accepted submissions.",
		}, []string{"priority"}),

		JobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gns_jobs_rejected_total",
			Help: "Submissions refused before a job was created, by error code.",
		}, []string{"code"}),

		JobsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gns_jobs_delivered_total",
			Help: "Total number of successfully delivered jobs.",
		}, []string{"channel"}),

		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gns_jobs_failed_total",
			Help: "Total number of jobs that ended Failed.",
		}, []string{"channel"}),

		JobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gns_jobs_retried_total",
			Help: "Total number of transient failures scheduled for retry.",
		}, []string{"channel"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gns_delivery_seconds",
			Help:    "Processing latency from dequeue to channel ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),

		AgingPromotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gns_queue_aging_promotions_total",
			Help: "Queued jobs promoted to a higher tier after waiting too long.",
		}, []string{"from", "to"}),
	}

	reg.MustRegister(
		m.JobsSubmitted,
		m.JobsRejected,
		m.JobsDelivered,
		m.JobsFailed,
		m.JobsRetried,
		m.DeliveryLatency,
		m.AgingPromotions,
	)

	if depths != nil {
		for _, p := range domain.Priorities {
			p := p
			reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name:        "gns_queue_depth",
				Help:        "Current number of items in the priority queue tier.",
				ConstLabels: prometheus.Labels{"priority": string(p)},
			}, func() float64 { return float64(depths()[p]) }))
		}
	}

	return m
}

// WorkerHooks returns the metric callbacks expected by worker.MetricHooks.
// Centralises the prometheus observation calls so worker.go stays import-free.
func (m *Metrics) WorkerHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnDelivered: func(ch domain.Channel, latency time.Duration) {
			m.JobsDelivered.WithLabelValues(string(ch)).Inc()
			m.DeliveryLatency.WithLabelValues(string(ch)).Observe(latency.Seconds())
		},
		OnFailed: func(ch domain.Channel) {
			m.JobsFailed.WithLabelValues(string(ch)).Inc()
		},
		OnRetry: func(ch domain.Channel) {
			m.JobsRetried.WithLabelValues(string(ch)).Inc()
		},
	}
}

// OnPromotion matches queue.WithPromotionHook.
func (m *Metrics) OnPromotion(from, to domain.Priority) {
	m.AgingPromotions.WithLabelValues(string(from), string(to)).Inc()
}
