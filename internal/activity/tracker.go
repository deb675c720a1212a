// Package activity decides whether the backend still has a reason to stay up.
//
// The Tracker combines the live relay session count with the player count the
// backend reports and keeps a single idle timestamp. It never stops anything
// itself; it returns an Evaluation and leaves the transition to the lifecycle
// orchestrator.
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wakegate/internal/api"
)

// SessionCounter reports the number of relay sessions currently in flight.
type SessionCounter interface {
	ActiveCount() int
}

// Probe answers liveness questions about the backend application.
type Probe interface {
	IsReachable(ctx context.Context) bool
	// PlayerCount returns ok=false when the count is unknown.
	PlayerCount(ctx context.Context) (count int, ok bool)
}

// Action is the outcome of a single evaluation.
type Action uint8

const (
	NoAction Action = iota
	StartIdleTimer
	StillIdle
	TimeoutExceeded
)

func (a Action) String() string {
	switch a {
	case NoAction:
		return "no_action"
	case StartIdleTimer:
		return "start_idle_timer"
	case StillIdle:
		return "still_idle"
	case TimeoutExceeded:
		return "timeout_exceeded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Reason explains why an evaluation returned NoAction.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonNotReady
	ReasonSessionsActive
	ReasonUnreachable
	ReasonPlayersOnline
	ReasonPlayerCountUnknown
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonNotReady:
		return "backend not ready"
	case ReasonSessionsActive:
		return "relay sessions active"
	case ReasonUnreachable:
		return "backend unreachable"
	case ReasonPlayersOnline:
		return "players online"
	case ReasonPlayerCountUnknown:
		return "player count unknown"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// Evaluation is returned by Tracker.Evaluate.
type Evaluation struct {
	Action    Action
	Reason    Reason
	Sessions  int
	Players   int
	Remaining time.Duration
}

// Tracker owns the activity window.
type Tracker struct {
	sessions  SessionCounter
	probe     Probe
	threshold time.Duration
	now       func() time.Time

	mu           sync.Mutex
	lastActivity time.Time
	hasActivity  bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker builds a tracker with the given idle threshold.
func NewTracker(sessions SessionCounter, probe Probe, threshold time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		sessions:  sessions,
		probe:     probe,
		threshold: threshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordActivity moves the activity timestamp to now. The timestamp never
// moves backwards.
func (t *Tracker) RecordActivity() {
	now := t.now()
	t.mu.Lock()
	if !t.hasActivity || now.After(t.lastActivity) {
		t.lastActivity = now
	}
	t.hasActivity = true
	t.mu.Unlock()
}

// Reset clears the activity timestamp. Called once the backend is stopped.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.lastActivity = time.Time{}
	t.hasActivity = false
	t.mu.Unlock()
}

// LastActivity returns the activity timestamp, if set.
func (t *Tracker) LastActivity() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity, t.hasActivity
}

// Threshold returns the configured idle threshold.
func (t *Tracker) Threshold() time.Duration { return t.threshold }

// Window returns an observer snapshot of the activity window.
func (t *Tracker) Window() api.IdleWindow {
	last, ok := t.LastActivity()
	w := api.IdleWindow{Threshold: t.threshold}
	if !ok {
		return w
	}
	w.LastActivity = &last
	if remaining := t.threshold - t.now().Sub(last); remaining > 0 {
		w.Remaining = remaining
	}
	return w
}

// Evaluate applies the idle policy for the given backend state. The probe is
// queried without holding the tracker lock.
func (t *Tracker) Evaluate(ctx context.Context, state api.BackendState) Evaluation {
	if state != api.StateReady {
		return Evaluation{Action: NoAction, Reason: ReasonNotReady}
	}

	active := 0
	if t.sessions != nil {
		active = t.sessions.ActiveCount()
	}
	if active > 0 {
		t.RecordActivity()
		return Evaluation{Action: NoAction, Reason: ReasonSessionsActive, Sessions: active}
	}

	if t.probe == nil || !t.probe.IsReachable(ctx) {
		return Evaluation{Action: NoAction, Reason: ReasonUnreachable}
	}

	players, ok := t.probe.PlayerCount(ctx)
	if !ok {
		return Evaluation{Action: NoAction, Reason: ReasonPlayerCountUnknown}
	}
	if players > 0 {
		t.RecordActivity()
		return Evaluation{Action: NoAction, Reason: ReasonPlayersOnline, Players: players}
	}

	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasActivity {
		t.lastActivity = now
		t.hasActivity = true
		return Evaluation{Action: StartIdleTimer, Remaining: t.threshold}
	}
	elapsed := now.Sub(t.lastActivity)
	if elapsed >= t.threshold {
		return Evaluation{Action: TimeoutExceeded}
	}
	return Evaluation{Action: StillIdle, Remaining: t.threshold - elapsed}
}
