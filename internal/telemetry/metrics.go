// Package telemetry installs the process-wide OpenTelemetry meter provider
// that the relay and lifecycle counters record into.
package telemetry

import (
	"context"
	"log"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "wakegate"

// Metrics reads back the counters recorded through the global meter.
type Metrics struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

// Sample is one instrument's current value, summed over its attributes.
type Sample struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

var (
	installOnce sync.Once
	installed   *Metrics
)

// Install registers the meter provider on first use. Later calls return the
// same instance: instruments bound to the global meter follow only the first
// provider installed.
func Install() *Metrics {
	installOnce.Do(func() {
		reader := sdkmetric.NewManualReader()
		opts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
		res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(serviceName)))
		if err != nil {
			log.Printf("WARN: telemetry: using default resource: %v", err)
		} else {
			opts = append(opts, sdkmetric.WithResource(res))
		}
		provider := sdkmetric.NewMeterProvider(opts...)
		otel.SetMeterProvider(provider)
		installed = &Metrics{reader: reader, provider: provider}
	})
	return installed
}

// Snapshot collects every integer sum, sorted by instrument name.
func (m *Metrics) Snapshot(ctx context.Context) ([]Sample, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	var out []Sample
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			out = append(out, Sample{Name: md.Name, Value: total})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Value returns one instrument's current value, or 0 before its first use.
func (m *Metrics) Value(ctx context.Context, name string) (int64, error) {
	samples, err := m.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range samples {
		if s.Name == name {
			return s.Value, nil
		}
	}
	return 0, nil
}

// Shutdown flushes and releases the provider. Collection fails afterwards.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
