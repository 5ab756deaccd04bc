package postbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/postbox"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the service.
type otelInstrumentation struct {
	enabled bool

	tracingEnabled bool
	tracer         trace.Tracer

	metricsEnabled bool

	registerLatency metric.Float64Histogram
	registerCount   metric.Int64Counter
	registerErrors  metric.Int64Counter
	storeLatency    metric.Float64Histogram
	storeCount      metric.Int64Counter
	storeErrors     metric.Int64Counter
	getLatency      metric.Float64Histogram
	getCount        metric.Int64Counter
	getErrors       metric.Int64Counter
	listLatency     metric.Float64Histogram
	listCount       metric.Int64Counter
	listErrors      metric.Int64Counter
	updateLatency   metric.Float64Histogram
	updateCount     metric.Int64Counter
	updateErrors    metric.Int64Counter
	deleteLatency   metric.Float64Histogram
	deleteCount     metric.Int64Counter
	deleteErrors    metric.Int64Counter
}

// newOtelInstrumentation creates OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	instruments := []struct {
		latency *metric.Float64Histogram
		count   *metric.Int64Counter
		errs    *metric.Int64Counter
		name    string
		desc    string
	}{
		{&o.registerLatency, &o.registerCount, &o.registerErrors, "register", "registration handshakes"},
		{&o.storeLatency, &o.storeCount, &o.storeErrors, "store", "message create operations"},
		{&o.getLatency, &o.getCount, &o.getErrors, "get", "message get operations"},
		{&o.listLatency, &o.listCount, &o.listErrors, "list", "message list operations"},
		{&o.updateLatency, &o.updateCount, &o.updateErrors, "update", "meta update operations"},
		{&o.deleteLatency, &o.deleteCount, &o.deleteErrors, "delete", "message delete operations"},
	}

	for _, ins := range instruments {
		var err error
		*ins.latency, err = meter.Float64Histogram(
			"postbox."+ins.name+".duration",
			metric.WithDescription("Duration of "+ins.desc),
			metric.WithUnit("s"),
		)
		if err != nil {
			return err
		}
		*ins.count, err = meter.Int64Counter(
			"postbox."+ins.name+".count",
			metric.WithDescription("Number of "+ins.desc),
		)
		if err != nil {
			return err
		}
		*ins.errs, err = meter.Int64Counter(
			"postbox."+ins.name+".errors",
			metric.WithDescription("Number of failed "+ins.desc),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// startSpan starts a span if tracing is enabled. The returned func ends
// the span and records the final error.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func (o *otelInstrumentation) record(ctx context.Context, latency metric.Float64Histogram, count, errs metric.Int64Counter, duration time.Duration, err error, attrs ...attribute.KeyValue) {
	if !o.metricsEnabled {
		return
	}
	set := metric.WithAttributes(attrs...)
	latency.Record(ctx, duration.Seconds(), set)
	count.Add(ctx, 1, set)
	if err != nil {
		errs.Add(ctx, 1, set)
	}
}

func (o *otelInstrumentation) recordRegister(ctx context.Context, duration time.Duration, err error) {
	o.record(ctx, o.registerLatency, o.registerCount, o.registerErrors, duration, err)
}

func (o *otelInstrumentation) recordStore(ctx context.Context, duration time.Duration, authenticated bool, err error) {
	o.record(ctx, o.storeLatency, o.storeCount, o.storeErrors, duration, err,
		attribute.Bool("authenticated", authenticated))
}

func (o *otelInstrumentation) recordGet(ctx context.Context, duration time.Duration, err error) {
	o.record(ctx, o.getLatency, o.getCount, o.getErrors, duration, err)
}

func (o *otelInstrumentation) recordList(ctx context.Context, duration time.Duration, resultCount int, err error) {
	o.record(ctx, o.listLatency, o.listCount, o.listErrors, duration, err,
		attribute.Int("result_count", resultCount))
}

func (o *otelInstrumentation) recordUpdate(ctx context.Context, duration time.Duration, err error) {
	o.record(ctx, o.updateLatency, o.updateCount, o.updateErrors, duration, err)
}

func (o *otelInstrumentation) recordDelete(ctx context.Context, duration time.Duration, err error) {
	o.record(ctx, o.deleteLatency, o.deleteCount, o.deleteErrors, duration, err)
}
