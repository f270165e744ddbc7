package deduplication

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Auriora/admin-assistant-sub002/internal/types"
)

// Cluster outcomes reported to the tracer
const (
	OutcomeAuto  = "auto"
	OutcomeModel = "model"
	OutcomeError = "error"
)

// Tracer observes per-cluster processing. StartCluster is called when work
// on a cluster begins; the returned func is called exactly once when it ends.
type Tracer interface {
	StartCluster(ctx context.Context, cluster types.TaskCluster) (end func(outcome string, err error))
}

// NoopTracer records nothing
type NoopTracer struct{}

func (NoopTracer) StartCluster(context.Context, types.TaskCluster) func(string, error) {
	return func(string, error) {}
}

const tracerName = "github.com/Auriora/admin-assistant-sub002/internal/deduplication"

// OTelTracer records one OpenTelemetry span per cluster
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer creates a tracer from tp, or from the global provider when tp is nil
func NewOTelTracer(tp trace.TracerProvider) *OTelTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelTracer{tracer: tp.Tracer(tracerName)}
}

func (t *OTelTracer) StartCluster(ctx context.Context, cluster types.TaskCluster) func(string, error) {
	_, span := t.tracer.Start(ctx, "dedup.cluster", trace.WithAttributes(
		attribute.Int("cluster.id", cluster.ClusterID),
		attribute.Int("cluster.size", cluster.Size()),
	))
	return func(outcome string, err error) {
		span.SetAttributes(attribute.String("cluster.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
