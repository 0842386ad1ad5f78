package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	httperrors "github.com/jw6ventures/formsheets/internal/http/errors"
	"github.com/jw6ventures/formsheets/internal/metrics"
)

const maxTrackedClients = 10000

// IPRateLimiter keeps one token bucket per client address.
type IPRateLimiter struct {
	name           string
	limiters       map[string]*limiterEntry
	mu             sync.Mutex
	rate           rate.Limit
	burst          int
	idle           time.Duration
	trustedProxies []*net.IPNet
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewIPRateLimiter allows r requests per second with bursts of b per client. Entries idle
// for twice the sweep interval are dropped. Forwarding headers are honored only from
// trustedProxies; with none configured every peer is trusted.
func NewIPRateLimiter(name string, r rate.Limit, b int, sweep time.Duration, trustedProxies []string) *IPRateLimiter {
	return &IPRateLimiter{
		name:           name,
		limiters:       make(map[string]*limiterEntry),
		rate:           r,
		burst:          b,
		idle:           sweep,
		trustedProxies: parseProxies(trustedProxies),
	}
}

func parseProxies(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipnet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 128
		if ip.To4() != nil {
			ip = ip.To4()
			bits = 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Run sweeps idle entries until ctx is done.
func (l *IPRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.sweep(now)
		}
	}
}

func (l *IPRateLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-2 * l.idle)
	for ip, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func (l *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	entry, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= maxTrackedClients {
			l.evictOldest()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastAccess = now
	return entry.limiter
}

func (l *IPRateLimiter) evictOldest() {
	var oldestIP string
	var oldest time.Time
	for ip, entry := range l.limiters {
		if oldestIP == "" || entry.lastAccess.Before(oldest) {
			oldestIP = ip
			oldest = entry.lastAccess
		}
	}
	if oldestIP != "" {
		delete(l.limiters, oldestIP)
	}
}

// Middleware rejects over-limit clients with a JSON 429.
func (l *IPRateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.limiterFor(l.clientIP(r)).Allow() {
				metrics.RateLimited(l.name)
				w.Header().Set("Retry-After", "1")
				httperrors.WriteJSON(w, http.StatusTooManyRequests, httperrors.Body{
					Code:      "rate_limited",
					Message:   "too many requests, slow down",
					Retryable: true,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *IPRateLimiter) clientIP(r *http.Request) string {
	remote := parseIP(r.RemoteAddr)
	if remote == nil {
		return r.RemoteAddr
	}
	if len(l.trustedProxies) > 0 && !l.trusted(remote) {
		return remote.String()
	}

	// Leftmost X-Forwarded-For entry is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(r.Header.Get("X-Real-IP")); ip != nil {
		return ip.String()
	}
	return remote.String()
}

func (l *IPRateLimiter) trusted(ip net.IP) bool {
	for _, ipnet := range l.trustedProxies {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func parseIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
