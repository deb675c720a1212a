// Package lifecycle owns the backend state machine.
//
// The Orchestrator is the only writer of api.BackendState. It issues power-on
// and shutdown requests to the instance controller, gates client sessions
// until the backend is reachable, and turns idle evaluations from the activity
// tracker into shutdowns. All transitions happen under a single mutex that is
// never held across a controller or probe call.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"wakegate/internal/activity"
	"wakegate/internal/api"
	"wakegate/internal/events"
	"wakegate/internal/instance"
)

const (
	defaultStartupTimeout = 8 * time.Minute
	defaultPollInterval   = 5 * time.Second
	defaultCheckInterval  = time.Minute
	shutdownCallTimeout   = 30 * time.Second
)

var (
	// ErrStartupTimeout is reported when the backend does not become ready
	// within the startup budget.
	ErrStartupTimeout = errors.New("lifecycle: backend did not become ready in time")
	// ErrTransitionInProgress rejects a manual request that would overlap a
	// start with a stop.
	ErrTransitionInProgress = errors.New("lifecycle: another transition is in progress")
)

// InstanceController powers the backend instance on and off.
type InstanceController interface {
	IsRunning(ctx context.Context) (bool, error)
	PowerOn(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Probe reports whether the backend application answers.
type Probe interface {
	IsReachable(ctx context.Context) bool
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Controller     InstanceController
	Probe          Probe
	Activity       *activity.Tracker
	Events         *events.Bus
	StartupTimeout time.Duration
	PollInterval   time.Duration
	CheckInterval  time.Duration
}

// startAttempt is shared by every caller waiting on the same start sequence.
// err is written before done is closed.
type startAttempt struct {
	done chan struct{}
	err  error
}

// Orchestrator drives Offline -> Starting -> Ready -> Stopping -> Offline.
type Orchestrator struct {
	ctrl     InstanceController
	probe    Probe
	activity *activity.Tracker
	bus      *events.Bus

	startupTimeout time.Duration
	pollInterval   time.Duration
	checkInterval  time.Duration

	mu              sync.Mutex
	state           api.BackendState
	attempt         *startAttempt // non-nil while a start sequence runs
	stopDone        chan struct{} // non-nil while Stopping
	powerOffPending bool
	lastErr         error
	changedAt       time.Time

	baseCtx    context.Context
	cancelBase context.CancelFunc
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

// New builds an orchestrator in the Offline state. Call StartBackground to
// probe the real initial state and begin periodic evaluation.
func New(opts Options) *Orchestrator {
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultStartupTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = defaultCheckInterval
	}
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		ctrl:           opts.Controller,
		probe:          opts.Probe,
		activity:       opts.Activity,
		bus:            opts.Events,
		startupTimeout: opts.StartupTimeout,
		pollInterval:   opts.PollInterval,
		checkInterval:  opts.CheckInterval,
		state:          api.StateOffline,
		changedAt:      time.Now().UTC(),
		baseCtx:        base,
		cancelBase:     cancel,
	}
}

// State returns the current backend state.
func (o *Orchestrator) State() api.BackendState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot returns the state, when it last changed and the last transition error.
func (o *Orchestrator) Snapshot() (api.BackendState, time.Time, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.changedAt, o.lastErr
}

// Activity exposes the tracker for observers.
func (o *Orchestrator) Activity() *activity.Tracker { return o.activity }

// Initialize derives the initial state from the instance controller.
func (o *Orchestrator) Initialize(ctx context.Context) {
	running, err := o.ctrl.IsRunning(ctx)
	if err != nil {
		log.Printf("WARN: lifecycle: initial instance status unavailable, assuming offline: %v", err)
		return
	}
	if !running {
		log.Printf("INFO: lifecycle: backend instance is currently off")
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != api.StateOffline {
		return
	}
	o.recordActivity()
	o.setStateLocked(api.StateReady, "instance already running", nil)
}

// StartBackground initializes the state and launches the periodic idle check.
func (o *Orchestrator) StartBackground(ctx context.Context) error {
	o.Initialize(ctx)
	loopCtx, cancel := context.WithCancel(o.baseCtx)
	o.mu.Lock()
	o.loopCancel = cancel
	o.mu.Unlock()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(loopCtx)
	}()
	return nil
}

// Close cancels the periodic check and any in-flight start sequence and waits
// for them to return.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.loopCancel != nil {
		o.loopCancel()
	}
	o.mu.Unlock()
	o.cancelBase()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	ticker := time.NewTicker(o.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs one activity evaluation and acts on it.
func (o *Orchestrator) Tick(ctx context.Context) activity.Evaluation {
	ev := o.activity.Evaluate(ctx, o.State())
	o.bus.Publish(events.Event{Topic: events.TopicIdleEvaluated, Payload: events.IdleEvaluated{
		Action:    ev.Action.String(),
		Reason:    ev.Reason.String(),
		Remaining: ev.Remaining,
	}})

	switch ev.Action {
	case activity.StartIdleTimer:
		log.Printf("INFO: lifecycle: no players online, starting inactivity timer (%s)", o.activity.Threshold())
	case activity.StillIdle:
		log.Printf("INFO: lifecycle: no players online, shutdown in %s", ev.Remaining.Round(time.Second))
	case activity.TimeoutExceeded:
		log.Printf("INFO: lifecycle: backend inactive for %s, shutting down", o.activity.Threshold())
		if _, err := o.stopBackend(ctx, "idle timeout"); err != nil {
			log.Printf("ERROR: lifecycle: idle shutdown failed: %v", err)
		} else {
			addIdleShutdown()
		}
	case activity.NoAction:
		switch ev.Reason {
		case activity.ReasonSessionsActive:
			log.Printf("DEBUG: lifecycle: %d active connections, activity time updated", ev.Sessions)
		case activity.ReasonPlayersOnline:
			log.Printf("DEBUG: lifecycle: %d players online, activity time updated", ev.Players)
		case activity.ReasonPlayerCountUnknown:
			log.Printf("WARN: lifecycle: could not get player count")
		case activity.ReasonUnreachable:
			o.reconcile(ctx)
		}
	}
	return ev
}

// reconcile notices an instance that was stopped outside the gateway.
func (o *Orchestrator) reconcile(ctx context.Context) {
	running, err := o.ctrl.IsRunning(ctx)
	if err != nil {
		log.Printf("WARN: lifecycle: backend unreachable and instance status unavailable: %v", err)
		return
	}
	if running {
		log.Printf("DEBUG: lifecycle: backend not responding, instance still running")
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != api.StateReady {
		return
	}
	o.resetActivity()
	o.setStateLocked(api.StateOffline, "instance stopped externally", nil)
}

// beginStartLocked moves Offline -> Starting and launches the start sequence.
// The caller holds o.mu and has checked the state is Offline.
func (o *Orchestrator) beginStartLocked(reason string) *startAttempt {
	a := &startAttempt{done: make(chan struct{})}
	o.attempt = a
	o.setStateLocked(api.StateStarting, reason, nil)
	addWakeAttempt()
	o.wg.Add(1)
	go o.runStart(a)
	return a
}

func (o *Orchestrator) runStart(a *startAttempt) {
	defer o.wg.Done()
	ctx, cancel := context.WithTimeout(o.baseCtx, o.startupTimeout)
	defer cancel()

	err := o.startSequence(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempt = nil
	a.err = err
	if err != nil {
		addWakeFailure()
		o.setStateLocked(api.StateOffline, "start failed", err)
	} else {
		o.recordActivity()
		o.setStateLocked(api.StateReady, "backend reachable", nil)
	}
	close(a.done)
}

func (o *Orchestrator) startSequence(ctx context.Context) error {
	if o.takePowerOffPending() {
		log.Printf("INFO: lifecycle: waiting for previous shutdown to finish before power-on")
		if err := o.waitInstance(ctx, false); err != nil {
			return err
		}
	}

	running, err := o.instanceRunning(ctx)
	if err != nil {
		return err
	}
	if !running {
		log.Printf("INFO: lifecycle: powering on backend instance")
		if err := o.ctrl.PowerOn(ctx); err != nil {
			return fmt.Errorf("power on: %w", err)
		}
		if err := o.waitInstance(ctx, true); err != nil {
			return err
		}
		log.Printf("INFO: lifecycle: instance running, waiting for backend application")
	}

	for {
		if o.probe.IsReachable(ctx) {
			log.Printf("INFO: lifecycle: backend is ready")
			return nil
		}
		if err := o.sleep(ctx); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) takePowerOffPending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	pending := o.powerOffPending
	o.powerOffPending = false
	return pending
}

// instanceRunning retries transient status errors until a definitive answer
// or the context ends. Any other provider error ends the start sequence.
func (o *Orchestrator) instanceRunning(ctx context.Context) (bool, error) {
	for {
		running, err := o.ctrl.IsRunning(ctx)
		if err == nil {
			return running, nil
		}
		if ctx.Err() != nil {
			return false, contextError(ctx)
		}
		if !instance.IsTransient(err) {
			return false, fmt.Errorf("instance status: %w", err)
		}
		log.Printf("WARN: lifecycle: instance status check failed, retrying: %v", err)
		if err := o.sleep(ctx); err != nil {
			return false, err
		}
	}
}

func (o *Orchestrator) waitInstance(ctx context.Context, want bool) error {
	for {
		running, err := o.instanceRunning(ctx)
		if err != nil {
			return err
		}
		if running == want {
			return nil
		}
		if err := o.sleep(ctx); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) sleep(ctx context.Context) error {
	timer := time.NewTimer(o.pollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return contextError(ctx)
	}
}

// contextError reports an expired start budget as ErrStartupTimeout.
func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrStartupTimeout
	}
	return ctx.Err()
}

// stopBackend moves Ready -> Stopping -> Offline. A failed shutdown request
// returns the backend to Ready so the next idle check retries.
func (o *Orchestrator) stopBackend(ctx context.Context, reason string) (api.ManualResult, error) {
	o.mu.Lock()
	switch o.state {
	case api.StateOffline, api.StateStopping:
		o.mu.Unlock()
		return api.ResultAlreadyInState, nil
	case api.StateStarting:
		o.mu.Unlock()
		return api.ResultFailed, ErrTransitionInProgress
	}
	done := make(chan struct{})
	o.stopDone = done
	o.setStateLocked(api.StateStopping, reason, nil)
	o.mu.Unlock()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownCallTimeout)
	err := o.ctrl.Shutdown(callCtx)
	cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopDone = nil
	defer close(done)
	if err != nil {
		err = fmt.Errorf("shutdown: %w", err)
		o.setStateLocked(api.StateReady, "shutdown failed", err)
		return api.ResultFailed, err
	}
	o.powerOffPending = true
	o.resetActivity()
	o.setStateLocked(api.StateOffline, reason, nil)
	return api.ResultAccepted, nil
}

// ManualStart begins a start sequence on behalf of an operator. It does not
// wait for the backend to become ready.
func (o *Orchestrator) ManualStart(ctx context.Context) (api.ManualResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case api.StateReady, api.StateStarting:
		return api.ResultAlreadyInState, nil
	case api.StateStopping:
		return api.ResultFailed, ErrTransitionInProgress
	}
	log.Printf("INFO: lifecycle: manual start requested")
	o.beginStartLocked("manual start")
	return api.ResultAccepted, nil
}

// ManualStop shuts the backend down on behalf of an operator.
func (o *Orchestrator) ManualStop(ctx context.Context) (api.ManualResult, error) {
	if st := o.State(); st == api.StateReady {
		log.Printf("INFO: lifecycle: manual stop requested")
	}
	return o.stopBackend(ctx, "manual stop")
}

func (o *Orchestrator) recordActivity() {
	if o.activity != nil {
		o.activity.RecordActivity()
	}
}

func (o *Orchestrator) resetActivity() {
	if o.activity != nil {
		o.activity.Reset()
	}
}

func (o *Orchestrator) setStateLocked(to api.BackendState, reason string, err error) {
	from := o.state
	o.state = to
	o.lastErr = err
	o.changedAt = time.Now().UTC()

	payload := events.BackendStateChanged{From: from, To: to, Reason: reason, Time: o.changedAt}
	if err != nil {
		payload.Err = err.Error()
		log.Printf("ERROR: lifecycle: %s -> %s (%s): %v", from, to, reason, err)
	} else {
		log.Printf("INFO: lifecycle: %s -> %s (%s)", from, to, reason)
	}
	o.bus.Publish(events.Event{Topic: events.TopicBackendStateChanged, Payload: payload})
}
