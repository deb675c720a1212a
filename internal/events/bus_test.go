package events

import (
	"testing"
	"time"

	"wakegate/internal/api"
)

func TestBusDeliversToTopicSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	states := bus.Subscribe(TopicBackendStateChanged, 1)
	sessions := bus.Subscribe(TopicSessionOpened, 1)

	bus.Publish(Event{Topic: TopicBackendStateChanged, Payload: BackendStateChanged{From: api.StateOffline, To: api.StateStarting}})

	select {
	case evt := <-states:
		payload, ok := evt.Payload.(BackendStateChanged)
		if !ok || payload.To != api.StateStarting {
			t.Fatalf("unexpected payload %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for state event")
	}

	select {
	case evt := <-sessions:
		t.Fatalf("unexpected event on session topic: %#v", evt)
	default:
	}
}

func TestBusDropsWhenSaturated(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicIdleEvaluated, 1)
	bus.Publish(Event{Topic: TopicIdleEvaluated, Payload: IdleEvaluated{Action: "still_idle"}})
	bus.Publish(Event{Topic: TopicIdleEvaluated, Payload: IdleEvaluated{Action: "timeout_exceeded"}})
	bus.Close()

	var got []string
	for evt := range ch {
		got = append(got, evt.Payload.(IdleEvaluated).Action)
	}
	if len(got) != 1 || got[0] != "still_idle" {
		t.Fatalf("expected only the first event, got %v", got)
	}
}

func TestBusClosedSubscribeAndNilPublish(t *testing.T) {
	bus := NewBus()
	bus.Close()
	if _, ok := <-bus.Subscribe(TopicSessionClosed, 1); ok {
		t.Fatalf("expected closed channel after bus close")
	}
	var nilBus *Bus
	nilBus.Publish(Event{Topic: TopicSessionClosed})
}
