package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records job runs and outbound provider calls.
type Metrics struct {
	jobRuns      metric.Int64Counter
	jobDuration  metric.Float64Histogram
	providerCall metric.Float64Histogram
}

// NewMetrics registers instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	jobRuns, err := meter.Int64Counter("acemaven.jobs.runs",
		metric.WithDescription("Scheduled job executions by outcome"))
	if err != nil {
		return nil, err
	}
	jobDuration, err := meter.Float64Histogram("acemaven.jobs.duration",
		metric.WithDescription("Scheduled job duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	providerCall, err := meter.Float64Histogram("acemaven.provider.call.duration",
		metric.WithDescription("Outbound provider call latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{jobRuns: jobRuns, jobDuration: jobDuration, providerCall: providerCall}, nil
}

// RecordJob records a job run.
func (m *Metrics) RecordJob(ctx context.Context, job, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("job", job), attribute.String("outcome", outcome))
	m.jobRuns.Add(ctx, 1, attrs)
	m.jobDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordProviderCall records an outbound call to a payment or tracking provider.
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerCall.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
