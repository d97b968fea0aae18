package delivery

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/rbaliyan/sendlater/delivery"

type metrics struct {
	runs         metric.Int64Counter
	delivered    metric.Int64Counter
	failed       metric.Int64Counter
	skipped      metric.Int64Counter
	deadLettered metric.Int64Counter
	duration     metric.Float64Histogram
}

// newMetrics creates the worker instruments.
func newMetrics(mp metric.MeterProvider) *metrics {
	meter := mp.Meter(instrumentationName)

	runs, _ := meter.Int64Counter("sendlater.delivery.runs",
		metric.WithDescription("Delivery worker runs by result"),
		metric.WithUnit("{run}"))
	delivered, _ := meter.Int64Counter("sendlater.delivery.delivered",
		metric.WithDescription("Scheduled messages delivered"),
		metric.WithUnit("{message}"))
	failed, _ := meter.Int64Counter("sendlater.delivery.failed",
		metric.WithDescription("Scheduled message delivery failures by reason"),
		metric.WithUnit("{message}"))
	skipped, _ := meter.Int64Counter("sendlater.delivery.skipped",
		metric.WithDescription("Scheduled messages skipped because another delivery was in flight"),
		metric.WithUnit("{message}"))
	deadLettered, _ := meter.Int64Counter("sendlater.delivery.deadlettered",
		metric.WithDescription("Scheduled messages moved to the dead-letter store"),
		metric.WithUnit("{message}"))
	duration, _ := meter.Float64Histogram("sendlater.delivery.run.duration",
		metric.WithDescription("Duration of a delivery worker run"),
		metric.WithUnit("s"))

	return &metrics{
		runs:         runs,
		delivered:    delivered,
		failed:       failed,
		skipped:      skipped,
		deadLettered: deadLettered,
		duration:     duration,
	}
}

func (m *metrics) recordRun(ctx context.Context, result Result, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("result", result.String()))
	m.runs.Add(ctx, 1, attrs)
	m.duration.Record(ctx, seconds, attrs)
}

func (m *metrics) recordFailure(ctx context.Context, reason string) {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
