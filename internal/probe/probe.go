// Package probe asks a Minecraft Java server for its status using the server
// list ping exchange (handshake followed by a status request).
package probe

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"time"
)

const (
	defaultTimeout         = 5 * time.Second
	defaultProtocolVersion = 47

	nextStateStatus = 1
	maxPacketSize   = 1 << 21
)

// ErrMalformedResponse is returned when the server answers with something
// that is not a status packet.
var ErrMalformedResponse = errors.New("probe: malformed status response")

// Resolver returns the host:port to query.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// Config tunes a Prober.
type Config struct {
	Timeout         time.Duration
	ProtocolVersion int
}

// Status is the subset of the status document the gateway uses.
type Status struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players struct {
		Online int `json:"online"`
		Max    int `json:"max"`
	} `json:"players"`
	Description json.RawMessage `json:"description,omitempty"`
}

// Prober queries one backend address per call. It keeps no connection
// between queries.
type Prober struct {
	resolver Resolver
	cfg      Config
}

// New returns a Prober with defaults applied.
func New(resolver Resolver, cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ProtocolVersion <= 0 {
		cfg.ProtocolVersion = defaultProtocolVersion
	}
	return &Prober{resolver: resolver, cfg: cfg}
}

// IsReachable reports whether the server answered a status query.
func (p *Prober) IsReachable(ctx context.Context) bool {
	_, err := p.Status(ctx)
	if err != nil {
		log.Printf("DEBUG: probe: server not responding: %v", err)
		return false
	}
	return true
}

// PlayerCount returns the online player count. The second result is false
// when the count is unknown.
func (p *Prober) PlayerCount(ctx context.Context) (int, bool) {
	st, err := p.Status(ctx)
	if err != nil {
		log.Printf("WARN: probe: failed to get player count: %v", err)
		return 0, false
	}
	log.Printf("DEBUG: probe: current players: %d", st.Players.Online)
	return st.Players.Online, true
}

// Status performs one handshake and status exchange.
func (p *Prober) Status(ctx context.Context) (*Status, error) {
	addr, err := p.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("probe: bad address %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("probe: bad port %q: %w", portStr, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(handshakePacket(p.cfg.ProtocolVersion, host, uint16(port))); err != nil {
		return nil, fmt.Errorf("probe: send handshake: %w", err)
	}
	if _, err := conn.Write(framePacket([]byte{0x00})); err != nil {
		return nil, fmt.Errorf("probe: send status request: %w", err)
	}
	return readStatus(bufio.NewReader(conn))
}

func handshakePacket(protocol int, host string, port uint16) []byte {
	body := []byte{0x00}
	body = binary.AppendUvarint(body, uint64(uint32(protocol)))
	body = appendString(body, host)
	body = binary.BigEndian.AppendUint16(body, port)
	body = binary.AppendUvarint(body, nextStateStatus)
	return framePacket(body)
}

func framePacket(body []byte) []byte {
	out := binary.AppendUvarint(make([]byte, 0, len(body)+5), uint64(len(body)))
	return append(out, body...)
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

func readStatus(r *bufio.Reader) (*Status, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("probe: read length: %w", err)
	}
	if length == 0 || length > maxPacketSize {
		return nil, ErrMalformedResponse
	}
	packet := io.LimitReader(r, int64(length))
	pr := bufio.NewReader(packet)
	id, err := binary.ReadUvarint(pr)
	if err != nil {
		return nil, fmt.Errorf("probe: read packet id: %w", err)
	}
	if id != 0x00 {
		return nil, fmt.Errorf("%w: packet id %#x", ErrMalformedResponse, id)
	}
	n, err := binary.ReadUvarint(pr)
	if err != nil {
		return nil, fmt.Errorf("probe: read payload length: %w", err)
	}
	if n > length {
		return nil, ErrMalformedResponse
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(pr, payload); err != nil {
		return nil, fmt.Errorf("probe: read payload: %w", err)
	}
	var st Status
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &st, nil
}
