package emails

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

// PreflightOptions tune the cheap liveness probes that run before a
// site is handed to a harvester.
type PreflightOptions struct {
	DNSTimeout time.Duration // default 300ms
	TCPTimeout time.Duration // default 500ms
	CacheTTL   time.Duration // default 15m
}

func (o *PreflightOptions) defaults() {
	if o.DNSTimeout <= 0 {
		o.DNSTimeout = 300 * time.Millisecond
	}

	if o.TCPTimeout <= 0 {
		o.TCPTimeout = 500 * time.Millisecond
	}

	if o.CacheTTL <= 0 {
		o.CacheTTL = 15 * time.Minute
	}
}

type preflightEntry struct {
	alive   bool
	expires time.Time
}

// Preflight answers "is this site worth a browser page" with a DNS
// resolve plus a TCP connect, cached per host.
type Preflight struct {
	opts PreflightOptions

	mu    sync.RWMutex
	cache map[string]preflightEntry

	resolver interface {
		LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	}
}

func NewPreflight(opts PreflightOptions) *Preflight {
	opts.defaults()

	return &Preflight{
		opts:     opts,
		cache:    make(map[string]preflightEntry),
		resolver: net.DefaultResolver,
	}
}

// Alive reports whether the site's host resolves and accepts
// connections. Unparseable or schemeless URLs are dead.
func (p *Preflight) Alive(ctx context.Context, siteURL string) bool {
	siteURL = strings.TrimSpace(siteURL)
	if !strings.HasPrefix(siteURL, "http://") && !strings.HasPrefix(siteURL, "https://") {
		return false
	}

	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return false
	}

	host := u.Hostname()

	if alive, ok := p.cached(host); ok {
		return alive
	}

	alive := p.probe(ctx, host)
	p.store(host, alive)

	return alive
}

func (p *Preflight) cached(host string) (alive, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ent, exists := p.cache[host]
	if !exists || time.Now().After(ent.expires) {
		return false, false
	}

	return ent.alive, true
}

func (p *Preflight) store(host string, alive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache[host] = preflightEntry{alive: alive, expires: time.Now().Add(p.opts.CacheTTL)}
}

func (p *Preflight) probe(ctx context.Context, host string) bool {
	dnsCtx, cancel := context.WithTimeout(ctx, p.opts.DNSTimeout)
	defer cancel()

	ips, err := p.resolver.LookupIP(dnsCtx, "ip", host)
	if err != nil || len(ips) == 0 {
		return false
	}

	dialer := &net.Dialer{
		Timeout:   p.opts.TCPTimeout,
		KeepAlive: -1,
	}

	// TLS on 443 first; the handshake doubles as a reachability check.
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, "443"), &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         host,
	})
	if err == nil {
		_ = conn.Close()

		return true
	}

	tcpCtx, cancelTCP := context.WithTimeout(ctx, p.opts.TCPTimeout)
	defer cancelTCP()

	conn2, err := dialer.DialContext(tcpCtx, "tcp", net.JoinHostPort(host, "80"))
	if err == nil {
		_ = conn2.Close()

		return true
	}

	return false
}
