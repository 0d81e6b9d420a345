package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Telemetry is what one boxctl invocation logs, traces and counts with.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry validates cfg and builds the logger, tracer and metrics.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tel := &Telemetry{Config: cfg}
	var err error
	if tel.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if tel.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion); err != nil {
		return nil, err
	}
	if tel.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	return tel, nil
}

// NewNopTelemetry discards logs, exports no spans and keeps no metrics.
func NewNopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	tracer, _ := NewTracer(TracingConfig{}, cfg.ServiceName, cfg.ServiceVersion)
	metrics, _ := NewMetrics(MetricsConfig{})
	return &Telemetry{Logger: NewNopLogger(), Tracer: tracer, Metrics: metrics, Config: cfg}
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryContextKey{}, t))
}

// FromTelemetryContext returns the telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryContextKey{}).(*Telemetry)
	return t
}

// Shutdown writes the metrics textfile and flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Metrics.WriteTextfile(), t.Tracer.Shutdown(ctx))
}

// InstrumentedContext is one running stage: its context, span, logger and
// start time. Call End exactly once.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation opens a stage span and a logger tagged with the stage and
// trace IDs. Without telemetry in ctx it only times the stage.
func StartOperation(ctx context.Context, stage string, attrs ...attribute.KeyValue) *InstrumentedContext {
	ic := &InstrumentedContext{Ctx: ctx, Span: noop.Span{}, Logger: FromContext(ctx), Timer: NewTimer()}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ic
	}

	ic.Ctx, ic.Span = tel.Tracer.StartStageSpan(ctx, stage, attrs...)
	ic.Logger = ic.Logger.WithField("stage", stage)
	if sc := ic.Span.SpanContext(); sc.IsValid() {
		ic.Logger = ic.Logger.WithFields(map[string]interface{}{
			"trace_id": sc.TraceID().String(),
			"span_id":  sc.SpanID().String(),
		})
	}
	ic.Ctx = ic.Logger.WithContext(ic.Ctx)
	return ic
}

// End closes the stage span with the outcome of the stage.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}

// RecordCommand runs fn as one vagrant subcommand inside a span and feeds
// the command metrics. fn reports a non-zero exit through failed; err is
// reserved for the subcommand not running at all.
func RecordCommand(ctx context.Context, subcommand string, args []string, fn func(ctx context.Context) (failed bool, err error)) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		_, err := fn(ctx)
		return err
	}

	ctx, span := tel.Tracer.StartCommandSpan(ctx, subcommand, args)
	defer span.End()

	timer := NewTimer()
	failed, err := fn(ctx)
	tel.Metrics.RecordCommand(subcommand, failed || err != nil, timer.Duration())

	switch {
	case err != nil:
		RecordError(span, err)
	case failed:
		span.SetAttributes(attribute.Bool("vagrant.failed", true))
		RecordError(span, errors.New("vagrant "+subcommand+" exited non-zero"))
	default:
		RecordSuccess(span)
	}
	return err
}
