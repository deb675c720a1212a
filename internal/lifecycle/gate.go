package lifecycle

import (
	"context"
	"log"
	"net"
	"time"

	"wakegate/internal/api"
)

// OnConnect is invoked synchronously from the accept loop. It never blocks on
// the instance controller: an Offline backend gets a start sequence launched
// in the background.
func (o *Orchestrator) OnConnect(addr net.Addr) {
	o.mu.Lock()
	state := o.state
	switch state {
	case api.StateOffline:
		log.Printf("INFO: lifecycle: connection from %s while offline, starting backend", addr)
		o.beginStartLocked("client connect")
	case api.StateStarting:
		log.Printf("INFO: lifecycle: connection from %s while backend is starting", addr)
	case api.StateStopping:
		log.Printf("INFO: lifecycle: connection from %s while backend is stopping", addr)
	}
	o.mu.Unlock()

	if state == api.StateReady {
		o.recordActivity()
	}
}

// EnsureReady blocks until the backend is Ready, the shared start attempt
// fails, the timeout elapses or ctx is cancelled. Concurrent callers share a
// single start sequence: a caller that holds an attempt reports that
// attempt's outcome and never launches another.
func (o *Orchestrator) EnsureReady(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = o.startupTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		var (
			attempt  *startAttempt
			stopping <-chan struct{}
		)
		o.mu.Lock()
		switch o.state {
		case api.StateReady:
			o.mu.Unlock()
			return true
		case api.StateOffline:
			attempt = o.beginStartLocked("client waiting")
		case api.StateStarting:
			attempt = o.attempt
		case api.StateStopping:
			stopping = o.stopDone
		}
		o.mu.Unlock()

		if attempt != nil {
			return o.awaitAttempt(ctx, attempt, timer.C, timeout)
		}

		select {
		case <-stopping:
		case <-ticker.C:
		case <-timer.C:
			log.Printf("WARN: lifecycle: backend not ready after %s", timeout)
			return false
		case <-ctx.Done():
			return false
		case <-o.baseCtx.Done():
			return false
		}
	}
}

// awaitAttempt waits for an in-flight start to finish. err is written before
// done is closed, so reading it afterwards needs no lock.
func (o *Orchestrator) awaitAttempt(ctx context.Context, a *startAttempt, expired <-chan time.Time, timeout time.Duration) bool {
	select {
	case <-a.done:
		return a.err == nil
	case <-expired:
		log.Printf("WARN: lifecycle: backend not ready after %s", timeout)
		return false
	case <-ctx.Done():
		return false
	case <-o.baseCtx.Done():
		return false
	}
}
