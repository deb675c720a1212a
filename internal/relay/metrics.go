package relay

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("wakegate/relay")

	sessionsTotal  metric.Int64Counter
	sessionsActive metric.Int64UpDownCounter
	sessionsFailed metric.Int64Counter
	bytesUp        metric.Int64Counter
	bytesDown      metric.Int64Counter

	initMetricsOnce sync.Once
)

func ensureMetrics() {
	initMetricsOnce.Do(func() {
		// No-op provider unless one is installed globally.
		if c, err := meter.Int64Counter("wakegate.relay.sessions.total"); err == nil {
			sessionsTotal = c
		}
		if c, err := meter.Int64UpDownCounter("wakegate.relay.sessions.active"); err == nil {
			sessionsActive = c
		}
		if c, err := meter.Int64Counter("wakegate.relay.sessions.failed"); err == nil {
			sessionsFailed = c
		}
		if c, err := meter.Int64Counter("wakegate.relay.bytes.up"); err == nil {
			bytesUp = c
		}
		if c, err := meter.Int64Counter("wakegate.relay.bytes.down"); err == nil {
			bytesDown = c
		}
	})
}

func addSessionOpened() {
	ensureMetrics()
	if sessionsTotal != nil {
		sessionsTotal.Add(context.Background(), 1)
	}
	if sessionsActive != nil {
		sessionsActive.Add(context.Background(), 1)
	}
}

func addSessionClosed(failed bool) {
	ensureMetrics()
	if sessionsActive != nil {
		sessionsActive.Add(context.Background(), -1)
	}
	if failed && sessionsFailed != nil {
		sessionsFailed.Add(context.Background(), 1)
	}
}

func addBytesUp(n int64) {
	ensureMetrics()
	if bytesUp != nil {
		bytesUp.Add(context.Background(), n)
	}
}

func addBytesDown(n int64) {
	ensureMetrics()
	if bytesDown != nil {
		bytesDown.Add(context.Background(), n)
	}
}
