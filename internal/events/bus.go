package events

import (
	"sync"
	"time"

	"wakegate/internal/api"
)

// Topic enumerates bus channels shared across wakegate subsystems.
type Topic string

const (
	TopicBackendStateChanged Topic = "backend_state_changed"
	TopicSessionOpened       Topic = "session_opened"
	TopicSessionClosed       Topic = "session_closed"
	TopicIdleEvaluated       Topic = "idle_evaluated"
	TopicListenerHealth      Topic = "listener_health"
)

// Event represents a message broadcast on the event bus.
type Event struct {
	Topic   Topic
	Payload any
}

// BackendStateChanged describes a lifecycle transition.
type BackendStateChanged struct {
	From   api.BackendState
	To     api.BackendState
	Reason string
	Err    string
	Time   time.Time
}

// SessionEvent announces a relay session opening or closing.
type SessionEvent struct {
	Session api.SessionInfo
	Active  int
	Err     string
}

// IdleEvaluated carries the result of a periodic activity evaluation.
type IdleEvaluated struct {
	Action    string
	Reason    string
	Remaining time.Duration
}

// ListenerHealth reports whether the client listener is accepting.
type ListenerHealth struct {
	Listening bool
	Address   string
	Err       string
}

// Bus is a simple pub/sub dispatcher for intra-process events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]chan Event
	closed bool
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Event)}
}

// Subscribe registers a buffered channel for a topic.
func (b *Bus) Subscribe(topic Topic, buffer int) <-chan Event {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Publish broadcasts an event to all subscribers. A nil bus drops the event.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[evt.Topic] {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is saturated; listeners should size buffers appropriately.
		}
	}
}

// Close shuts down the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = nil
}
