// Package resolve turns the configured backend host into a dialable address,
// optionally following a _minecraft._tcp SRV record.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

const (
	srvService      = "_minecraft._tcp."
	resolvConfPath  = "/etc/resolv.conf"
	defaultTimeout  = 3 * time.Second
	defaultMaxCache = 5 * time.Minute
)

// ErrNoRecord means the SRV lookup returned no usable answer.
var ErrNoRecord = errors.New("resolve: no SRV record")

// Config describes the backend address.
type Config struct {
	Host      string
	Port      int
	SRVLookup bool
	// Servers are host:port nameservers. Empty means /etc/resolv.conf.
	Servers  []string
	Timeout  time.Duration
	MaxCache time.Duration
}

// Resolver returns the backend address. SRV answers are cached for their TTL,
// capped at MaxCache. Any lookup failure falls back to Host:Port.
type Resolver struct {
	cfg      Config
	fallback string
	client   *dns.Client
	now      func() time.Time

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
	ttl      time.Duration
}

// New builds a resolver. SRV lookup is disabled for literal IPs and when no
// nameserver can be determined.
func New(cfg Config) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxCache <= 0 {
		cfg.MaxCache = defaultMaxCache
	}
	r := &Resolver{
		cfg:      cfg,
		fallback: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		client:   &dns.Client{Net: "udp", Timeout: cfg.Timeout},
		now:      time.Now,
	}
	if !cfg.SRVLookup {
		return r
	}
	if net.ParseIP(cfg.Host) != nil {
		r.cfg.SRVLookup = false
		return r
	}
	if len(r.cfg.Servers) == 0 {
		conf, err := dns.ClientConfigFromFile(resolvConfPath)
		if err != nil || len(conf.Servers) == 0 {
			log.Printf("WARN: resolve: no nameservers available, SRV lookup disabled: %v", err)
			r.cfg.SRVLookup = false
			return r
		}
		for _, s := range conf.Servers {
			r.cfg.Servers = append(r.cfg.Servers, net.JoinHostPort(s, conf.Port))
		}
	}
	return r
}

// Fallback returns the plain host:port address.
func (r *Resolver) Fallback() string { return r.fallback }

// Resolve returns the address to dial.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if !r.cfg.SRVLookup {
		return r.fallback, nil
	}
	r.mu.Lock()
	if r.cached != "" && r.now().Sub(r.cachedAt) < r.ttl {
		addr := r.cached
		r.mu.Unlock()
		return addr, nil
	}
	r.mu.Unlock()

	addr, ttl, err := r.lookupSRV(ctx)
	if err != nil {
		log.Printf("DEBUG: resolve: SRV lookup for %s failed, using %s: %v", r.cfg.Host, r.fallback, err)
		return r.fallback, nil
	}
	if ttl > r.cfg.MaxCache {
		ttl = r.cfg.MaxCache
	}
	r.mu.Lock()
	r.cached, r.cachedAt, r.ttl = addr, r.now(), ttl
	r.mu.Unlock()
	return addr, nil
}

func (r *Resolver) lookupSRV(ctx context.Context) (string, time.Duration, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(srvService+r.cfg.Host), dns.TypeSRV)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.cfg.Servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("resolve: %s answered %s", server, dns.RcodeToString[resp.Rcode])
			continue
		}
		records := make([]*dns.SRV, 0, len(resp.Answer))
		for _, rr := range resp.Answer {
			if srv, ok := rr.(*dns.SRV); ok && srv.Target != "." {
				records = append(records, srv)
			}
		}
		if len(records) == 0 {
			return "", 0, ErrNoRecord
		}
		best := pickSRV(records)
		target := strings.TrimSuffix(best.Target, ".")
		return net.JoinHostPort(target, strconv.Itoa(int(best.Port))), time.Duration(best.Hdr.Ttl) * time.Second, nil
	}
	if lastErr == nil {
		lastErr = ErrNoRecord
	}
	return "", 0, lastErr
}

// pickSRV returns the lowest priority record, preferring higher weight.
func pickSRV(records []*dns.SRV) *dns.SRV {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})
	return records[0]
}
