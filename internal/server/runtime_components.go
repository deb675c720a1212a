package server

import (
	"context"

	"wakegate/internal/events"
	"wakegate/internal/health"
	"wakegate/internal/runtime/supervisor"
)

// newHealthObserver registers a supervisor component that mirrors bus events
// into the health tracker.
func newHealthObserver(bus *events.Bus, tracker *health.Tracker) supervisor.Component {
	observer := &healthObserver{bus: bus, tracker: tracker}
	return supervisor.NewComponent("health-observer", observer.start, observer.stop)
}

type healthObserver struct {
	bus     *events.Bus
	tracker *health.Tracker
	cancel  context.CancelFunc
}

func (o *healthObserver) start(ctx context.Context) error {
	if o.bus == nil || o.tracker == nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	health.Observe(runCtx, o.bus, o.tracker)
	return nil
}

func (o *healthObserver) stop(ctx context.Context) error {
	if o.cancel != nil {
		o.cancel()
	}
	return nil
}
