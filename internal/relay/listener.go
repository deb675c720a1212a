package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"wakegate/internal/events"
)

const (
	defaultAcceptWait  = time.Second
	defaultDialTimeout = 10 * time.Second
	defaultBufferSize  = 4096
	defaultRelayPoll   = time.Second
)

// BindError reports that the listen address could not be bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("relay: bind %s: %v", e.Addr, e.Err) }

func (e *BindError) Unwrap() error { return e.Err }

// Gate decides when a freshly accepted client may be relayed.
type Gate interface {
	// OnConnect is called synchronously for every accepted client.
	OnConnect(addr net.Addr)
	// EnsureReady blocks until the backend is ready or timeout elapses.
	EnsureReady(ctx context.Context, timeout time.Duration) bool
}

// Resolver returns the backend host:port to dial for a session.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// StaticResolver always returns the same address.
type StaticResolver string

func (s StaticResolver) Resolve(context.Context) (string, error) { return string(s), nil }

// Config tunes the listener.
type Config struct {
	Address      string
	Backend      Resolver
	AcceptWait   time.Duration
	DialTimeout  time.Duration
	ReadyTimeout time.Duration // <= 0 means the gate's own startup timeout
	BufferSize   int
	RelayPoll    time.Duration
}

func (c *Config) applyDefaults() {
	if c.AcceptWait <= 0 {
		c.AcceptWait = defaultAcceptWait
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.RelayPoll <= 0 {
		c.RelayPoll = defaultRelayPoll
	}
}

// Listener accepts game clients on the public port and relays each one to the
// backend once the gate lets it through.
type Listener struct {
	cfg      Config
	gate     Gate
	registry *Registry
	bus      *events.Bus

	mu         sync.Mutex
	ln         *net.TCPListener
	cancel     context.CancelFunc
	acceptDone chan struct{}
	wg         sync.WaitGroup
}

// NewListener wires a listener. A nil registry gets a fresh one.
func NewListener(cfg Config, gate Gate, registry *Registry, bus *events.Bus) *Listener {
	cfg.applyDefaults()
	if registry == nil {
		registry = NewRegistry()
	}
	return &Listener{cfg: cfg, gate: gate, registry: registry, bus: bus}
}

// Registry exposes the session registry.
func (l *Listener) Registry() *Registry { return l.registry }

// ActiveCount returns the number of sessions in flight.
func (l *Listener) ActiveCount() int { return l.registry.ActiveCount() }

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Start binds the listen address and begins accepting.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return nil
	}
	if l.cfg.Backend == nil {
		return errors.New("relay: backend resolver required")
	}
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Address)
	if err != nil {
		l.publishHealth(false, err)
		return &BindError{Addr: l.cfg.Address, Err: err}
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return &BindError{Addr: l.cfg.Address, Err: fmt.Errorf("unexpected listener type %T", ln)}
	}
	runCtx, cancel := context.WithCancel(context.Background())
	l.ln = tcpLn
	l.cancel = cancel
	l.acceptDone = make(chan struct{})
	log.Printf("INFO: relay: listening on %s", tcpLn.Addr())
	l.publishHealth(true, nil)
	go l.acceptLoop(runCtx, tcpLn, l.acceptDone)
	return nil
}

// Stop closes the listener and every live session, then waits for session
// goroutines to finish or ctx to expire.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	ln := l.ln
	cancel := l.cancel
	acceptDone := l.acceptDone
	l.ln = nil
	l.mu.Unlock()
	if ln == nil {
		return nil
	}

	cancel()
	_ = ln.Close()
	<-acceptDone
	l.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Printf("INFO: relay: listener on %s stopped", ln.Addr())
	l.publishHealth(false, nil)
	return nil
}

func (l *Listener) acceptLoop(ctx context.Context, ln *net.TCPListener, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = ln.SetDeadline(time.Now().Add(l.cfg.AcceptWait))
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			log.Printf("WARN: relay: accept failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		l.accept(ctx, conn)
	}
}

func (l *Listener) accept(ctx context.Context, conn net.Conn) {
	s := newSession(conn)
	active := l.registry.add(s)
	addSessionOpened()
	log.Printf("INFO: relay: session %d connection from %s (active=%d)", s.id, s.clientAddr, active)
	l.bus.Publish(events.Event{Topic: events.TopicSessionOpened, Payload: events.SessionEvent{Session: s.Info(), Active: active}})

	l.gate.OnConnect(conn.RemoteAddr())

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.serve(ctx, s)
	}()
}

func (l *Listener) serve(ctx context.Context, s *Session) {
	var sessionErr error
	defer func() {
		s.Close()
		active, removed := l.registry.remove(s.id)
		if !removed {
			return
		}
		addSessionClosed(sessionErr != nil)
		ev := events.SessionEvent{Session: s.Info(), Active: active}
		if sessionErr != nil {
			ev.Err = sessionErr.Error()
		}
		l.bus.Publish(events.Event{Topic: events.TopicSessionClosed, Payload: ev})
		log.Printf("INFO: relay: session %d from %s closed (up=%d down=%d active=%d)", s.id, s.clientAddr, s.bytesUp.Load(), s.bytesDown.Load(), active)
	}()

	if !l.gate.EnsureReady(ctx, l.cfg.ReadyTimeout) {
		sessionErr = errors.New("backend not ready")
		log.Printf("WARN: relay: session %d: backend not ready, closing client %s", s.id, s.clientAddr)
		return
	}

	addr, err := l.cfg.Backend.Resolve(ctx)
	if err != nil {
		sessionErr = err
		log.Printf("WARN: relay: session %d: resolve backend: %v", s.id, err)
		return
	}
	dialer := net.Dialer{Timeout: l.cfg.DialTimeout}
	backend, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		sessionErr = err
		log.Printf("WARN: relay: session %d: backend connect %s failed: %v", s.id, addr, err)
		return
	}
	if !s.attachBackend(backend, addr) {
		_ = backend.Close()
		return
	}
	log.Printf("INFO: relay: session %d relaying %s <-> %s", s.id, s.clientAddr, addr)

	if err := s.relay(ctx, l.cfg.BufferSize, l.cfg.RelayPoll); err != nil {
		sessionErr = err
		log.Printf("WARN: relay: session %d: %v", s.id, err)
	}
}

func (l *Listener) publishHealth(listening bool, err error) {
	ev := events.ListenerHealth{Listening: listening, Address: l.cfg.Address}
	if err != nil {
		ev.Err = err.Error()
	}
	l.bus.Publish(events.Event{Topic: events.TopicListenerHealth, Payload: ev})
}
