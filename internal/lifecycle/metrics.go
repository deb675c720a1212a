package lifecycle

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("wakegate/lifecycle")

	wakeAttempts  metric.Int64Counter
	wakeFailures  metric.Int64Counter
	idleShutdowns metric.Int64Counter

	initMetricsOnce sync.Once
)

func ensureMetrics() {
	initMetricsOnce.Do(func() {
		// No-op provider unless one is installed globally.
		if c, err := meter.Int64Counter("wakegate.lifecycle.wake.attempts"); err == nil {
			wakeAttempts = c
		}
		if c, err := meter.Int64Counter("wakegate.lifecycle.wake.failures"); err == nil {
			wakeFailures = c
		}
		if c, err := meter.Int64Counter("wakegate.lifecycle.idle_shutdowns"); err == nil {
			idleShutdowns = c
		}
	})
}

func addWakeAttempt() {
	ensureMetrics()
	if wakeAttempts != nil {
		wakeAttempts.Add(context.Background(), 1)
	}
}

func addWakeFailure() {
	ensureMetrics()
	if wakeFailures != nil {
		wakeFailures.Add(context.Background(), 1)
	}
}

func addIdleShutdown() {
	ensureMetrics()
	if idleShutdowns != nil {
		idleShutdowns.Add(context.Background(), 1)
	}
}
