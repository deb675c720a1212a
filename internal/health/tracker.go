// Package health keeps the latest status reported by each gateway component.
package health

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Component names reported by the gateway.
const (
	ComponentListener  = "listener"
	ComponentBackend   = "backend"
	ComponentDashboard = "dashboard"
	ComponentIdle      = "idle-monitor"
)

// Level orders severities; a higher value is worse.
type Level int

const (
	LevelOK Level = iota
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelOK:    "ok",
	LevelWarn:  "warn",
	LevelError: "error",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(l))
}

func (l Level) MarshalJSON() ([]byte, error) { return json.Marshal(l.String()) }

// Status is one component's latest report. Since is when the component
// entered its current level and survives reports that keep the level.
type Status struct {
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
	Since     time.Time      `json:"since"`
}

func NewStatus(level Level, message string) Status {
	return Status{Level: level, Message: message}
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	statuses map[string]Status
	now      func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		statuses: make(map[string]Status),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Set records status for name, stamping UpdatedAt and carrying Since forward
// while the level is unchanged.
func (t *Tracker) Set(name string, status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = now
	}
	if prev, ok := t.statuses[name]; ok && prev.Level == status.Level {
		status.Since = prev.Since
	} else {
		status.Since = status.UpdatedAt
	}
	t.statuses[name] = status
}

// Setf records a status with a formatted message.
func (t *Tracker) Setf(name string, level Level, format string, args ...any) {
	t.Set(name, NewStatus(level, fmt.Sprintf(format, args...)))
}

func (t *Tracker) Status(name string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.statuses[name]
	return s, ok
}

// Snapshot copies every status.
func (t *Tracker) Snapshot() map[string]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Status, len(t.statuses))
	for k, v := range t.statuses {
		out[k] = v
	}
	return out
}

// Overall is the worst level reported.
func (t *Tracker) Overall() Level {
	t.mu.RLock()
	defer t.mu.RUnlock()
	worst := LevelOK
	for _, st := range t.statuses {
		worst = max(worst, st.Level)
	}
	return worst
}

// Ready reports whether every required component is OK and, when not, which
// ones are missing or degraded, sorted by name.
func (t *Tracker) Ready(required ...string) (bool, []string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var pending []string
	for _, name := range required {
		if st, ok := t.statuses[name]; !ok || st.Level != LevelOK {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return len(pending) == 0, pending
}
