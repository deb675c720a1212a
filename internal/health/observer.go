package health

import (
	"context"
	"fmt"

	"wakegate/internal/api"
	"wakegate/internal/events"
)

// Observe feeds backend, listener and idle-monitor statuses from bus into t
// until ctx is cancelled or the bus closes.
func Observe(ctx context.Context, bus *events.Bus, t *Tracker) {
	states := bus.Subscribe(events.TopicBackendStateChanged, 16)
	listener := bus.Subscribe(events.TopicListenerHealth, 4)
	idle := bus.Subscribe(events.TopicIdleEvaluated, 4)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-states:
				if !ok {
					return
				}
				if p, ok := evt.Payload.(events.BackendStateChanged); ok {
					t.Set(ComponentBackend, BackendStatus(p))
				}
			case evt, ok := <-listener:
				if !ok {
					return
				}
				if p, ok := evt.Payload.(events.ListenerHealth); ok {
					t.Set(ComponentListener, ListenerStatus(p))
				}
			case evt, ok := <-idle:
				if !ok {
					return
				}
				if p, ok := evt.Payload.(events.IdleEvaluated); ok {
					st := NewStatus(LevelOK, fmt.Sprintf("%s (%s)", p.Action, p.Reason))
					if p.Remaining > 0 {
						st.Details = map[string]interface{}{"remaining": p.Remaining.String()}
					}
					t.Set(ComponentIdle, st)
				}
			}
		}
	}()
}

// BackendStatus maps a lifecycle transition to a health status. An offline
// backend is healthy; a failed start or stop is a warning.
func BackendStatus(p events.BackendStateChanged) Status {
	level := LevelOK
	msg := "backend " + p.To.String()
	if p.To == api.StateStarting {
		level = LevelWarn
	}
	if p.Err != "" {
		level = LevelWarn
		msg = fmt.Sprintf("backend %s: %s", p.To, p.Err)
	}
	st := NewStatus(level, msg)
	if p.Reason != "" {
		st.Details = map[string]interface{}{"reason": p.Reason}
	}
	if !p.Time.IsZero() {
		st.UpdatedAt = p.Time.UTC()
	}
	return st
}

// ListenerStatus maps a listener event to a health status.
func ListenerStatus(p events.ListenerHealth) Status {
	switch {
	case p.Listening:
		return NewStatus(LevelOK, "accepting on "+p.Address)
	case p.Err != "":
		return NewStatus(LevelError, fmt.Sprintf("bind %s failed: %s", p.Address, p.Err))
	default:
		return NewStatus(LevelWarn, "listener stopped")
	}
}
