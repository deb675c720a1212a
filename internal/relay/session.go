package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"wakegate/internal/api"
)

// IOError is a socket failure in the middle of a relay.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "relay " + e.Op + ": " + e.Err.Error() }

func (e *IOError) Unwrap() error { return e.Err }

// Session pairs one client connection with one backend connection.
type Session struct {
	id         uint64
	client     net.Conn
	clientAddr string
	startedAt  time.Time

	mu          sync.Mutex
	backend     net.Conn
	backendAddr string
	closed      bool

	bytesUp   atomic.Int64 // client -> backend
	bytesDown atomic.Int64 // backend -> client
}

func newSession(client net.Conn) *Session {
	return &Session{
		client:     client,
		clientAddr: client.RemoteAddr().String(),
		startedAt:  time.Now().UTC(),
	}
}

// ID returns the registry-assigned identifier.
func (s *Session) ID() uint64 { return s.id }

// Info returns an observer view of the session.
func (s *Session) Info() api.SessionInfo {
	s.mu.Lock()
	backendAddr := s.backendAddr
	s.mu.Unlock()
	return api.SessionInfo{
		ID:          s.id,
		ClientAddr:  s.clientAddr,
		BackendAddr: backendAddr,
		StartedAt:   s.startedAt,
		BytesUp:     s.bytesUp.Load(),
		BytesDown:   s.bytesDown.Load(),
	}
}

// attachBackend stores the backend connection. It returns false when the
// session was closed in the meantime; the caller then owns conn.
func (s *Session) attachBackend(conn net.Conn, addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.backend = conn
	s.backendAddr = addr
	return true
}

// Close closes both sockets. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	backend := s.backend
	s.mu.Unlock()

	_ = s.client.Close()
	if backend != nil {
		_ = backend.Close()
	}
}

// relay copies bytes in both directions until one side ends, then closes both
// sockets and waits for the other direction to drain out.
func (s *Session) relay(ctx context.Context, bufSize int, poll time.Duration) error {
	s.mu.Lock()
	backend := s.backend
	s.mu.Unlock()

	errc := make(chan error, 2)
	go func() { errc <- pipe(ctx, backend, s.client, bufSize, poll, &s.bytesUp, addBytesUp) }()
	go func() { errc <- pipe(ctx, s.client, backend, bufSize, poll, &s.bytesDown, addBytesDown) }()

	err := <-errc
	s.Close()
	<-errc
	return err
}

// pipe forwards src to dst unmodified. Reads carry a short deadline so a
// cancelled ctx is noticed within one poll interval. EOF and a locally closed
// socket end the copy without error.
func pipe(ctx context.Context, dst, src net.Conn, bufSize int, poll time.Duration, counter *atomic.Int64, record func(int64)) error {
	buf := make([]byte, bufSize)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = src.SetReadDeadline(time.Now().Add(poll))
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				if errors.Is(werr, net.ErrClosed) {
					return nil
				}
				return &IOError{Op: "write", Err: werr}
			}
			counter.Add(int64(n))
			record(int64(n))
		}
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil
		}
		return &IOError{Op: "read", Err: err}
	}
}
