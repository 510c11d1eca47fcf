package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	runs          metric.Int64Counter
	stageDuration metric.Float64Histogram
}

func newMetrics(m metric.Meter) *metrics {
	out := &metrics{}
	var err error
	if out.runs, err = m.Int64Counter("blueprint.pipeline.runs",
		metric.WithDescription("Pipeline calls by returned status")); err != nil {
		out.runs, _ = noopmetric.Meter{}.Int64Counter("noop")
	}
	if out.stageDuration, err = m.Float64Histogram("blueprint.pipeline.stage.duration",
		metric.WithDescription("Stage execution time"),
		metric.WithUnit("s")); err != nil {
		out.stageDuration, _ = noopmetric.Meter{}.Float64Histogram("noop")
	}
	return out
}

func (m *metrics) runDone(ctx context.Context, status Status) {
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *metrics) stageDone(ctx context.Context, stage Stage, ok bool, d time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("outcome", outcome),
	))
}
