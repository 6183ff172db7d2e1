package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const pipelineScopeName = "github.com/wideorder/widesync/pipeline"

// Pipeline carries the sync pipeline's instruments. All methods are safe
// on a nil receiver so call sites need no enabled-check; NewPipeline
// returns nil when telemetry is off.
type Pipeline struct {
	consumed  metric.Int64Counter
	dropped   metric.Int64Counter
	mutations metric.Int64Counter
	conflicts metric.Int64Counter
}

// NewPipeline creates the pipeline instruments. Returns nil when
// telemetry is disabled.
func NewPipeline() *Pipeline {
	if !Enabled() {
		return nil
	}
	m := Meter(pipelineScopeName)

	consumed, _ := m.Int64Counter("widesync.events.consumed",
		metric.WithDescription("Row events consumed from the replication stream"),
	)
	dropped, _ := m.Int64Counter("widesync.events.dropped",
		metric.WithDescription("Row events dropped after a projection failure"),
	)
	mutations, _ := m.Int64Counter("widesync.store.mutations",
		metric.WithDescription("Document mutations issued to the store"),
	)
	conflicts, _ := m.Int64Counter("widesync.store.conflict_retries",
		metric.WithDescription("Optimistic writes retried after a version conflict"),
	)

	return &Pipeline{
		consumed:  consumed,
		dropped:   dropped,
		mutations: mutations,
		conflicts: conflicts,
	}
}

// ObserveLag registers an observable gauge reporting seconds since the
// last replication event. Registered separately from NewPipeline because
// the tailer that supplies lastEvent is constructed after the store that
// consumes the counters.
func (p *Pipeline) ObserveLag(lastEvent func() time.Time) {
	if p == nil || lastEvent == nil {
		return
	}
	m := Meter(pipelineScopeName)
	_, _ = m.Float64ObservableGauge("widesync.replication.lag_seconds",
		metric.WithDescription("Seconds since the last replication event arrived"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(time.Since(lastEvent()).Seconds())
			return nil
		}),
	)
}

// EventConsumed counts one event delivered by the tailer or backfill.
func (p *Pipeline) EventConsumed(ctx context.Context, table string) {
	if p == nil {
		return
	}
	p.consumed.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
}

// EventDropped counts one event abandoned after a projection failure.
func (p *Pipeline) EventDropped(ctx context.Context, table string) {
	if p == nil {
		return
	}
	p.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
}

// StoreMutation counts one mutation issued to the document store.
func (p *Pipeline) StoreMutation(ctx context.Context, kind string) {
	if p == nil {
		return
	}
	p.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// ConflictRetry counts one optimistic write lost to a version conflict.
func (p *Pipeline) ConflictRetry(ctx context.Context) {
	if p == nil {
		return
	}
	p.conflicts.Add(ctx, 1)
}
