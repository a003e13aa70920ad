package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"costwatch/pkg/errors"
)

// OTelSink records payloads as OpenTelemetry instruments
type OTelSink struct {
	costByType      metric.Float64Counter
	costPerUnit     metric.Float64Gauge
	thresholdBreach metric.Float64Gauge
	latency         metric.Float64Histogram
	alertDelivery   metric.Int64Counter
	mitigation      metric.Int64Counter
	workerDuration  metric.Float64Histogram
}

// NewOTelSink creates all metric instruments on the provider's meter
func NewOTelSink(provider metric.MeterProvider, namespace string) (*OTelSink, error) {
	meter := provider.Meter(namespace)
	s := &OTelSink{}
	var err error

	s.costByType, err = meter.Float64Counter(namespace+".cost",
		metric.WithDescription("Recorded spend"), metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}

	s.costPerUnit, err = meter.Float64Gauge(namespace+".cost_per_unit",
		metric.WithDescription("Latest per-unit-of-work spend"), metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}

	s.thresholdBreach, err = meter.Float64Gauge(namespace+".threshold_breach",
		metric.WithDescription("Observed metric value of the latest detected anomaly"))
	if err != nil {
		return nil, err
	}

	s.latency, err = meter.Float64Histogram(namespace+".operation.duration",
		metric.WithDescription("Operation latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	s.alertDelivery, err = meter.Int64Counter(namespace+".alert.deliveries",
		metric.WithDescription("Alert deliveries per channel"))
	if err != nil {
		return nil, err
	}

	s.mitigation, err = meter.Int64Counter(namespace+".mitigation.actions",
		metric.WithDescription("Mitigation actions taken"))
	if err != nil {
		return nil, err
	}

	s.workerDuration, err = meter.Float64Histogram(namespace+".worker.duration",
		metric.WithDescription("Worker execution duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Record implements Sink
func (s *OTelSink) Record(ctx context.Context, p Payload) error {
	switch p.Kind {
	case KindCostByType:
		s.costByType.Add(ctx, p.Value, metric.WithAttributes(
			attribute.String("owner_id", label(p.OwnerID)),
			attribute.String("cost_type", label(p.CostType)),
		))
	case KindCostPerUnit:
		s.costPerUnit.Record(ctx, p.Value, metric.WithAttributes(
			attribute.String("owner_id", label(p.OwnerID)),
		))
	case KindThresholdBreach:
		s.thresholdBreach.Record(ctx, p.Value, metric.WithAttributes(
			attribute.String("owner_id", label(p.OwnerID)),
			attribute.String("anomaly_type", label(p.AnomalyType)),
		))
	case KindLatency:
		s.latency.Record(ctx, p.Value, metric.WithAttributes(
			attribute.String("operation", label(p.Operation)),
			attribute.String("status", label(p.Status)),
		))
	case KindAlertDelivery:
		s.alertDelivery.Add(ctx, int64(p.Value), metric.WithAttributes(
			attribute.String("channel", label(p.Channel)),
			attribute.String("status", label(p.Status)),
		))
	case KindMitigation:
		s.mitigation.Add(ctx, int64(p.Value), metric.WithAttributes(
			attribute.String("action", label(p.Action)),
			attribute.String("status", label(p.Status)),
		))
	case KindWorkerRun:
		s.workerDuration.Record(ctx, p.Value, metric.WithAttributes(
			attribute.String("worker", label(p.Worker)),
			attribute.String("status", label(p.Status)),
		))
	default:
		return unsupported(p)
	}
	return nil
}

// NewOTLPMeterProvider exports metrics over OTLP/gRPC every interval
func NewOTLPMeterProvider(ctx context.Context, endpoint, serviceName string, interval time.Duration) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create otlp metric exporter")
	}

	if interval <= 0 {
		interval = 15 * time.Second
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	), nil
}
