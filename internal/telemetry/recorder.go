// Package telemetry exports measurement results as OpenTelemetry metrics.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/wesleyorama2/kpcbench/internal/logging"
	"github.com/wesleyorama2/kpcbench/internal/session"
)

const meterName = "github.com/wesleyorama2/kpcbench"

// Measurement status attribute values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Recorder records deltas and measurement outcomes. A nil Recorder, or one
// whose instruments failed to register, records nothing.
type Recorder struct {
	eventCount   metric.Int64Histogram
	measurements metric.Int64Counter
}

// NewRecorder registers the instruments on mp, or on the global provider
// when mp is nil.
func NewRecorder(mp metric.MeterProvider) *Recorder {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	r := &Recorder{}

	var err error
	r.eventCount, err = meter.Int64Histogram(
		"kpc.event.count",
		metric.WithDescription("Hardware event count observed in one measurement"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		logging.Logger().Debug("Failed to create event count histogram", zap.Error(err))
		r.eventCount = nil
	}

	r.measurements, err = meter.Int64Counter(
		"kpc.measurements",
		metric.WithDescription("Measurements finished, by status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		logging.Logger().Debug("Failed to create measurements counter", zap.Error(err))
		r.measurements = nil
	}
	return r
}

// Record records one finished measurement. deltas may be empty when err is
// non-nil.
func (r *Recorder) Record(ctx context.Context, deltas []session.Delta, err error) {
	if r == nil {
		return
	}

	status := StatusOK
	if err != nil {
		status = StatusError
	}
	if r.measurements != nil {
		r.measurements.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}

	if r.eventCount == nil {
		return
	}
	for _, d := range deltas {
		count := int64(d.Count)
		if count < 0 {
			continue
		}
		r.eventCount.Record(ctx, count, metric.WithAttributes(
			attribute.String("event.name", d.Name),
			attribute.String("event.key", d.Key),
		))
	}
}
