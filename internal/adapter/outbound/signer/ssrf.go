// Package signer is the external storage signer adapter of spec §6:
// it issues signed, time-bounded URLs for underlying media, and
// enforces the SSRF allow-list spec §6 requires of any outbound HTTP
// the core triggers on a caller's behalf.
package signer

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// blockedNetworks are link-local, loopback, RFC1918, multicast, and
// other reserved ranges; generalized from the teacher's forward-proxy
// dial guard (httpgw/ssrf.go) to also cover multicast and broader
// reserved space per spec §6.
var blockedNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // RFC 1918 private
		"172.16.0.0/12",  // RFC 1918 private
		"192.168.0.0/16", // RFC 1918 private
		"169.254.0.0/16", // link-local (cloud metadata endpoints)
		"224.0.0.0/4",    // multicast
		"240.0.0.0/4",    // reserved
		"0.0.0.0/8",      // "this" network
		"::1/128",        // IPv6 loopback
		"fc00::/7",       // IPv6 unique local
		"fe80::/10",      // IPv6 link-local
		"ff00::/8",       // IPv6 multicast
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("signer: invalid CIDR in blockedNetworks: " + cidr)
		}
		blockedNetworks = append(blockedNetworks, network)
	}
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// allowedPorts restricts outbound connections to the fixed set spec §6
// names, plus each protocol's own default.
var allowedPorts = map[string]struct{}{
	"80": {}, "443": {}, "8080": {}, "8443": {},
}

// allowedSchemes admits only http/https, so spec §6's named protocols
// are blocked outright and never reach the dial guard.
var allowedSchemes = map[string]struct{}{
	"http": {}, "https": {},
}

// dnsCacheEntry is a 5-minute-TTL resolution result, re-validated
// against blockedNetworks on every read (spec §6: "resolved IPs are
// re-validated against the block-list" to defeat DNS rebinding).
type dnsCacheEntry struct {
	ips       []net.IP
	expiresAt time.Time
}

const dnsCacheTTL = 5 * time.Minute

// Guard validates outbound URLs against the SSRF allow-list: scheme,
// domain allow-list, port, and resolved-IP block-list, with a
// singleflight-deduplicated DNS cache.
type Guard struct {
	allowedHosts []string // domains/wildcards, e.g. "*.storage.example.com"

	mu       sync.RWMutex
	dnsCache map[string]dnsCacheEntry
	group    singleflight.Group
	resolver func(ctx context.Context, host string) ([]net.IP, error)
	now      func() time.Time
}

// NewGuard constructs a Guard restricted to allowedHosts.
func NewGuard(allowedHosts []string) *Guard {
	return &Guard{
		allowedHosts: allowedHosts,
		dnsCache:     make(map[string]dnsCacheEntry),
		resolver:     defaultResolve,
		now:          time.Now,
	}
}

func defaultResolve(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// Validate checks rawURL against scheme, host allow-list, and port
// rules, then resolves and re-validates its host's IPs against the
// block-list. It does not dial; callers use it as a pre-flight check
// before handing the URL to an HTTP client.
func (g *Guard) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("signer: invalid url: %w", err)
	}

	if _, ok := allowedSchemes[u.Scheme]; !ok {
		return fmt.Errorf("signer: disallowed scheme %q", u.Scheme)
	}

	if !g.hostAllowed(u.Hostname()) {
		return fmt.Errorf("signer: host %q not in allow-list", u.Hostname())
	}

	port := u.Port()
	if port == "" {
		port = defaultPort(u.Scheme)
	}
	if _, ok := allowedPorts[port]; !ok {
		return fmt.Errorf("signer: disallowed port %q", port)
	}

	ips, err := g.resolve(ctx, u.Hostname())
	if err != nil {
		return fmt.Errorf("signer: dns resolution failed: %w", err)
	}
	for _, ip := range ips {
		if isBlockedIP(ip) {
			return fmt.Errorf("signer: resolved IP %s is blocked (ssrf_attempt)", ip)
		}
	}
	if len(ips) == 0 {
		return fmt.Errorf("signer: no IPs resolved for %q", u.Hostname())
	}
	return nil
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

func (g *Guard) hostAllowed(host string) bool {
	for _, pattern := range g.allowedHosts {
		if matchHost(pattern, host) {
			return true
		}
	}
	return false
}

func matchHost(pattern, host string) bool {
	if pattern == host {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[1:] // ".example.com"
		return strings.HasSuffix(host, suffix) && host != suffix[1:]
	}
	return false
}

// resolve re-validates a cached entry's freshness on every call; an
// expired or missing entry triggers a singleflight-coalesced lookup so
// concurrent requests for the same host share one DNS round trip.
func (g *Guard) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ips, ok := g.cached(host); ok {
		return ips, nil
	}

	result, err, _ := g.group.Do(host, func() (any, error) {
		if ips, ok := g.cached(host); ok {
			return ips, nil
		}
		ips, err := g.resolver(ctx, host)
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		g.dnsCache[host] = dnsCacheEntry{ips: ips, expiresAt: g.now().Add(dnsCacheTTL)}
		g.mu.Unlock()
		return ips, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]net.IP), nil
}

func (g *Guard) cached(host string) ([]net.IP, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	entry, ok := g.dnsCache[host]
	if !ok || !g.now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.ips, true
}
