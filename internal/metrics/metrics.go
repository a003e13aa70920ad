package metrics

import (
	"context"
	"fmt"
	"time"

	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

// Kind selects the metric family a payload is routed to
type Kind string

const (
	KindCostByType      Kind = "cost_by_type"      // counter {owner_id, cost_type}, USD
	KindCostPerUnit     Kind = "cost_per_unit"     // gauge {owner_id}, USD
	KindThresholdBreach Kind = "threshold_breach"  // gauge {owner_id, anomaly_type}, observed value
	KindLatency         Kind = "operation_latency" // histogram {operation, status}, seconds
	KindAlertDelivery   Kind = "alert_delivery"    // counter {channel, status}
	KindMitigation      Kind = "mitigation_action" // counter {action, status}
	KindWorkerRun       Kind = "worker_run"        // histogram {worker, status}, seconds
)

// Payload is one observation. Only the labels of its Kind are read.
type Payload struct {
	Kind  Kind
	Value float64

	OwnerID     string
	CostType    string
	AnomalyType string
	Operation   string
	Status      string
	Channel     string
	Action      string
	Worker      string
}

// Sink writes payloads to a telemetry backend
type Sink interface {
	Record(ctx context.Context, p Payload) error
}

// Emitter fans payloads out to sinks. Emit never panics and never returns
// errors: telemetry faults are logged and dropped.
type Emitter struct {
	sinks []Sink
	log   *logger.Logger
}

// NewEmitter creates an emitter over the given sinks
func NewEmitter(log *logger.Logger, sinks ...Sink) *Emitter {
	if log == nil {
		log = logger.Get()
	}
	return &Emitter{
		sinks: sinks,
		log:   log.With("component", "metrics"),
	}
}

// Emit records p on every sink. Safe on a nil emitter.
func (e *Emitter) Emit(ctx context.Context, p Payload) {
	if e == nil {
		return
	}
	for _, sink := range e.sinks {
		e.record(ctx, sink, p)
	}
}

func (e *Emitter) record(ctx context.Context, sink Sink, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warnw("Metrics sink panicked", "kind", p.Kind, "panic", fmt.Sprint(r))
		}
	}()

	if err := sink.Record(ctx, p); err != nil {
		e.log.Warnw("Failed to record metric", "kind", p.Kind, "error", err)
	}
}

func unsupported(p Payload) error {
	return errors.Wrapf(errors.ErrMetrics, "unsupported metric kind %q", p.Kind)
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// CostRecorded counts spend by owner and cost type
func CostRecorded(ownerID, costType string, amountUSD float64) Payload {
	return Payload{Kind: KindCostByType, OwnerID: ownerID, CostType: costType, Value: amountUSD}
}

// CostPerUnit sets the owner's latest per-unit cost
func CostPerUnit(ownerID string, amountUSD float64) Payload {
	return Payload{Kind: KindCostPerUnit, OwnerID: ownerID, Value: amountUSD}
}

// ThresholdBreach reports the observed value of a detected anomaly
func ThresholdBreach(ownerID, anomalyType string, value float64) Payload {
	return Payload{Kind: KindThresholdBreach, OwnerID: ownerID, AnomalyType: anomalyType, Value: value}
}

// OperationLatency observes how long an operation took
func OperationLatency(operation string, d time.Duration, err error) Payload {
	return Payload{Kind: KindLatency, Operation: operation, Status: statusOf(err), Value: d.Seconds()}
}

// AlertDelivery counts one channel delivery outcome (success|failed|skipped)
func AlertDelivery(channel, status string) Payload {
	return Payload{Kind: KindAlertDelivery, Channel: channel, Status: status, Value: 1}
}

// Mitigation outcomes
const (
	MitigationSuccess = "success"
	MitigationFailed  = "failed"
	MitigationSkipped = "skipped" // action disabled by configuration
)

// MitigationAction counts one mitigation outcome (success|failed|skipped)
func MitigationAction(action, status string) Payload {
	return Payload{Kind: KindMitigation, Action: action, Status: status, Value: 1}
}

// WorkerRun observes a worker execution
func WorkerRun(worker string, d time.Duration, err error) Payload {
	return Payload{Kind: KindWorkerRun, Worker: worker, Status: statusOf(err), Value: d.Seconds()}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// NoopSink discards everything
type NoopSink struct{}

func (NoopSink) Record(context.Context, Payload) error {
	return nil
}
