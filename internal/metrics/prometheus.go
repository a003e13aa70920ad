package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink keeps its own registry so tests and multiple engines don't collide
type PrometheusSink struct {
	registry *prometheus.Registry

	costByType      *prometheus.CounterVec
	costPerUnit     *prometheus.GaugeVec
	thresholdBreach *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
	alertDelivery   *prometheus.CounterVec
	mitigation      *prometheus.CounterVec
	workerRuns      *prometheus.CounterVec
	workerDuration  *prometheus.HistogramVec
	workerLastRun   *prometheus.GaugeVec
}

// NewPrometheusSink creates and registers every metric family under namespace
func NewPrometheusSink(namespace string) *PrometheusSink {
	s := &PrometheusSink{
		registry: prometheus.NewRegistry(),

		costByType: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_usd_total",
				Help:      "Total recorded spend in USD",
			},
			[]string{"owner_id", "cost_type"},
		),
		costPerUnit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cost_per_unit_usd",
				Help:      "Latest per-unit-of-work spend in USD",
			},
			[]string{"owner_id"},
		),
		thresholdBreach: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "threshold_breach_value",
				Help:      "Observed metric value of the latest detected anomaly",
			},
			[]string{"owner_id", "anomaly_type"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Operation latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "status"}, // status: success|error
		),
		alertDelivery: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alert_deliveries_total",
				Help:      "Alert deliveries per channel",
			},
			[]string{"channel", "status"}, // status: success|failed|skipped
		),
		mitigation: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mitigation_actions_total",
				Help:      "Mitigation actions taken",
			},
			[]string{"action", "status"},
		),
		workerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_executions_total",
				Help:      "Total number of worker executions",
			},
			[]string{"worker", "status"},
		),
		workerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_duration_seconds",
				Help:      "Worker execution duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"worker"},
		),
		workerLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "worker_last_run_timestamp",
				Help:      "Unix timestamp of last worker execution",
			},
			[]string{"worker"},
		),
	}

	s.registry.MustRegister(
		s.costByType,
		s.costPerUnit,
		s.thresholdBreach,
		s.latency,
		s.alertDelivery,
		s.mitigation,
		s.workerRuns,
		s.workerDuration,
		s.workerLastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return s
}

// Record implements Sink
func (s *PrometheusSink) Record(_ context.Context, p Payload) error {
	switch p.Kind {
	case KindCostByType:
		s.costByType.WithLabelValues(label(p.OwnerID), label(p.CostType)).Add(p.Value)
	case KindCostPerUnit:
		s.costPerUnit.WithLabelValues(label(p.OwnerID)).Set(p.Value)
	case KindThresholdBreach:
		s.thresholdBreach.WithLabelValues(label(p.OwnerID), label(p.AnomalyType)).Set(p.Value)
	case KindLatency:
		s.latency.WithLabelValues(label(p.Operation), label(p.Status)).Observe(p.Value)
	case KindAlertDelivery:
		s.alertDelivery.WithLabelValues(label(p.Channel), label(p.Status)).Add(p.Value)
	case KindMitigation:
		s.mitigation.WithLabelValues(label(p.Action), label(p.Status)).Add(p.Value)
	case KindWorkerRun:
		s.workerRuns.WithLabelValues(label(p.Worker), label(p.Status)).Inc()
		s.workerDuration.WithLabelValues(label(p.Worker)).Observe(p.Value)
		s.workerLastRun.WithLabelValues(label(p.Worker)).SetToCurrentTime()
	default:
		return unsupported(p)
	}
	return nil
}

// Register adds an extra collector (e.g. the store queue collector) to the registry
func (s *PrometheusSink) Register(c prometheus.Collector) error {
	return s.registry.Register(c)
}

// Handler returns the /metrics HTTP handler for this registry
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}
