// Package supervisor starts gateway components in order and stops them in
// reverse.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// Component represents a unit of work managed by the supervisor.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Supervisor coordinates the lifecycle of registered components. Only
// components whose Start succeeded are stopped.
type Supervisor struct {
	mu         sync.Mutex
	components []Component
	running    []Component
	frozen     bool
}

// New creates an empty supervisor.
func New() *Supervisor {
	return &Supervisor{}
}

// Register adds a component. Registration is only allowed before Start.
func (s *Supervisor) Register(c Component) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		panic("supervisor: cannot register component after start")
	}
	s.components = append(s.components, c)
}

// Names lists registered components in start order.
func (s *Supervisor) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.components))
	for i, c := range s.components {
		names[i] = c.Name()
	}
	return names
}

// Start invokes Start on each component in registration order. On failure the
// components already running are stopped in reverse order and the error names
// the component that failed.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if len(s.running) > 0 {
		s.mu.Unlock()
		return nil
	}
	s.frozen = true
	comps := append([]Component(nil), s.components...)
	s.mu.Unlock()

	var running []Component
	for _, c := range comps {
		began := time.Now()
		if err := c.Start(ctx); err != nil {
			log.Printf("ERROR: supervisor: component %s failed to start: %v", c.Name(), err)
			if rbErr := stopAll(ctx, running); rbErr != nil {
				log.Printf("WARN: supervisor: rollback incomplete: %v", rbErr)
			}
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		log.Printf("INFO: supervisor: started %s in %s", c.Name(), time.Since(began).Round(time.Millisecond))
		running = append(running, c)
	}

	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
	return nil
}

// Stop stops running components in reverse start order and reports every
// failure. It is a no-op when nothing is running.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.running = nil
	s.mu.Unlock()
	return stopAll(ctx, running)
}

func stopAll(ctx context.Context, comps []Component) error {
	var errs []error
	for i := len(comps) - 1; i >= 0; i-- {
		c := comps[i]
		if err := c.Stop(ctx); err != nil {
			log.Printf("WARN: supervisor: component %s failed to stop: %v", c.Name(), err)
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
			continue
		}
		log.Printf("INFO: supervisor: stopped %s", c.Name())
	}
	return errors.Join(errs...)
}

type funcComponent struct {
	name        string
	start, stop func(ctx context.Context) error
}

// NewComponent builds a Component from start and stop callbacks; either may be nil.
func NewComponent(name string, start, stop func(ctx context.Context) error) Component {
	return funcComponent{name: name, start: start, stop: stop}
}

func (c funcComponent) Name() string { return c.name }

func (c funcComponent) Start(ctx context.Context) error {
	if c.start == nil {
		return nil
	}
	return c.start(ctx)
}

func (c funcComponent) Stop(ctx context.Context) error {
	if c.stop == nil {
		return nil
	}
	return c.stop(ctx)
}
