// Package logring keeps the most recent process log lines in memory so the
// dashboard can show them.
package logring

import (
	"bytes"
	"strings"
	"sync"
	"time"
)

const DefaultSize = 100

// Entry types shown by the dashboard.
const (
	TypeInfo    = "info"
	TypeWarning = "warning"
	TypeError   = "error"
)

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
}

// Ring is a bounded, concurrency-safe log buffer. It implements io.Writer so
// it can sit behind log.SetOutput.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	partial []byte
	now     func() time.Time
}

// New returns a ring holding at most size entries.
func New(size int) *Ring {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring{entries: make([]Entry, size), now: time.Now}
}

// Write splits p into lines and stores each non-empty one. A trailing
// fragment without a newline is held until the rest arrives.
func (r *Ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := p
	if len(r.partial) > 0 {
		data = append(r.partial, p...)
		r.partial = nil
	}
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		r.addLocked(string(data[:i]))
		data = data[i+1:]
	}
	if len(data) > 0 {
		r.partial = append([]byte(nil), data...)
	}
	return len(p), nil
}

// Add stores a single message.
func (r *Ring) Add(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(msg)
}

func (r *Ring) addLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	r.entries[r.next] = Entry{Timestamp: r.now().UTC(), Message: line, Type: Classify(line)}
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Entries returns stored lines oldest first. limit <= 0 returns everything;
// otherwise only the newest limit entries.
func (r *Ring) Entries(limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	if r.full {
		out = make([]Entry, 0, len(r.entries))
		out = append(out, r.entries[r.next:]...)
		out = append(out, r.entries[:r.next]...)
	} else {
		out = append([]Entry(nil), r.entries[:r.next]...)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}

// Classify maps a log line to a dashboard type using its level prefix.
// DEBUG and unprefixed lines count as info.
func Classify(line string) string {
	switch {
	case strings.Contains(line, "ERROR:"), strings.Contains(line, "FATAL"), strings.Contains(line, "panic:"):
		return TypeError
	case strings.Contains(line, "WARN:"), strings.Contains(line, "WARNING:"):
		return TypeWarning
	default:
		return TypeInfo
	}
}
