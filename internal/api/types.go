package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BackendState is the lifecycle phase of the gated backend instance.
type BackendState uint8

const (
	StateOffline BackendState = iota
	StateStarting
	StateReady
	StateStopping
)

var stateToString = map[BackendState]string{
	StateOffline:  "offline",
	StateStarting: "starting",
	StateReady:    "ready",
	StateStopping: "stopping",
}

var stateFromString = map[string]BackendState{
	"offline":  StateOffline,
	"starting": StateStarting,
	"ready":    StateReady,
	"stopping": StateStopping,
}

// String returns the token representation of the state.
func (s BackendState) String() string {
	if v, ok := stateToString[s]; ok {
		return v
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// MarshalJSON encodes the state as its token.
func (s BackendState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses a state token.
func (s *BackendState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := ParseBackendState(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseBackendState converts a token into a BackendState.
func ParseBackendState(raw string) (BackendState, error) {
	if st, ok := stateFromString[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return st, nil
	}
	return StateOffline, fmt.Errorf("unknown backend state %q", raw)
}

// ManualResult is the outcome of an administrative start or stop request.
type ManualResult uint8

const (
	ResultAccepted ManualResult = iota
	ResultAlreadyInState
	ResultFailed
)

func (r ManualResult) String() string {
	switch r {
	case ResultAccepted:
		return "accepted"
	case ResultAlreadyInState:
		return "already_in_state"
	case ResultFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// MarshalJSON encodes the result as its token.
func (r ManualResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// SessionInfo is the observer view of a live relay session.
type SessionInfo struct {
	ID          uint64    `json:"id"`
	ClientAddr  string    `json:"client_addr"`
	BackendAddr string    `json:"backend_addr,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	BytesUp     int64     `json:"bytes_up"`
	BytesDown   int64     `json:"bytes_down"`
}

// IdleWindow is the observer view of the activity tracker.
type IdleWindow struct {
	LastActivity *time.Time    `json:"last_activity,omitempty"`
	Threshold    time.Duration `json:"threshold_ns"`
	Remaining    time.Duration `json:"remaining_ns,omitempty"`
}
