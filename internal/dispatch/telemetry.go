package dispatch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"
)

const instrumentationName = "github.com/openkcm/inventory-client/internal/dispatch"

type telemetry struct {
	tracer     trace.Tracer
	dispatches metric.Int64Counter
	refreshes  metric.Int64Counter
}

// newTelemetry falls back to the global providers, which are no-ops unless an SDK is installed.
func newTelemetry(meter metric.Meter, tracer trace.Tracer) *telemetry {
	if meter == nil {
		meter = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(otel.Version()))
	}
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}

	t := &telemetry{tracer: tracer}

	var err error
	t.dispatches, err = meter.Int64Counter(
		"dispatch.request_count",
		metric.WithDescription("Outgoing request count by final dispatch state"),
		metric.WithUnit("request"),
	)
	if err != nil {
		slogctx.Warn(context.Background(), "Creating request_count meter failed", "error", err)
	}

	t.refreshes, err = meter.Int64Counter(
		"dispatch.refresh_count",
		metric.WithDescription("Token refresh attempts"),
		metric.WithUnit("refresh"),
	)
	if err != nil {
		slogctx.Warn(context.Background(), "Creating refresh_count meter failed", "error", err)
	}

	return t
}

func (t *telemetry) recordDispatch(ctx context.Context, state State) {
	if t.dispatches == nil {
		return
	}
	t.dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state.String())))
}

func (t *telemetry) recordRefresh(ctx context.Context, ok bool) {
	if t.refreshes == nil {
		return
	}
	t.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", ok)))
}
