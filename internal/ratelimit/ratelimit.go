// Package ratelimit provides per-client-IP token bucket rate limiting
// middleware for the probe scripts.
package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dskow/cgi-probe/internal/apierror"
	"github.com/dskow/cgi-probe/internal/config"
	"github.com/dskow/cgi-probe/internal/metrics"
	"github.com/dskow/cgi-probe/internal/routing"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter tracks per-client rate limiters and performs periodic cleanup
// of stale entries. Only requests below routing.ScriptPrefix are limited;
// the landing page, health and metrics endpoints are never throttled.
type Limiter struct {
	mu           sync.RWMutex
	clients      map[string]*client
	enabled      bool
	rate         rate.Limit
	burst        int
	trustedCIDRs []*net.IPNet
	logger       *slog.Logger
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// New creates a Limiter with the given settings. It starts a background
// goroutine that cleans up stale client entries every minute.
// trustedProxies holds IPs or CIDRs whose X-Forwarded-For headers are
// trusted.
func New(cfg config.RateLimitConfig, trustedProxies []string, logger *slog.Logger) *Limiter {
	l := &Limiter{
		clients:      make(map[string]*client),
		enabled:      cfg.IsEnabled(),
		rate:         rate.Limit(cfg.RequestsPerSecond),
		burst:        cfg.BurstSize,
		trustedCIDRs: parseCIDRs(trustedProxies, logger),
		logger:       logger,
		stopCh:       make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func parseCIDRs(cidrs []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range cidrs {
		if !strings.Contains(cidr, "/") {
			if ip := net.ParseIP(cidr); ip != nil {
				bits := 8 * len(ip.To16())
				if ip.To4() != nil {
					ip, bits = ip.To4(), 32
				}
				nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
				continue
			}
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			logger.Warn("invalid trusted proxy, skipping", "cidr", cidr, "error", err)
			continue
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// Stop terminates the background cleanup goroutine.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// UpdateConfig hot-reloads the rate limit settings. Existing per-client
// limiters are cleared so new limits take effect immediately.
func (l *Limiter) UpdateConfig(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.enabled = cfg.IsEnabled()
	l.rate = rate.Limit(cfg.RequestsPerSecond)
	l.burst = cfg.BurstSize
	l.clients = make(map[string]*client)
}

// Middleware returns an HTTP middleware that enforces rate limits.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !routing.MatchesPrefix(r.URL.Path, routing.ScriptPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			ip := l.ClientIP(r)
			limiter, limit := l.getLimiter(ip)
			if limiter != nil && !limiter.Allow() {
				l.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
				metrics.RateLimitHits.Inc()
				w.Header().Set("Retry-After", retryAfter(limit))
				apierror.WriteJSON(w, r, http.StatusTooManyRequests, apierror.RateLimitExceeded, "rate limit exceeded, retry later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter rounds the refill interval up to whole seconds, minimum 1.
func retryAfter(limit rate.Limit) string {
	if limit <= 0 {
		return "1"
	}
	secs := int(1/float64(limit) + 0.999)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ClientIP extracts the real client IP. X-Forwarded-For is only trusted when
// the direct peer (RemoteAddr) is in the trusted proxies list.
func (l *Limiter) ClientIP(r *http.Request) string {
	peerIP := extractIP(r.RemoteAddr)

	if len(l.trustedCIDRs) > 0 && l.isTrusted(peerIP) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Walk right-to-left, return first non-trusted IP
			parts := strings.Split(xff, ",")
			for i := len(parts) - 1; i >= 0; i-- {
				ip := strings.TrimSpace(parts[i])
				if ip != "" && !l.isTrusted(ip) {
					return ip
				}
			}
		}
	}

	return peerIP
}

func (l *Limiter) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range l.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// getLimiter returns or creates the limiter for ip, or nil when limiting
// is disabled. rate.Limiter is goroutine-safe so Allow() is called outside
// our lock.
func (l *Limiter) getLimiter(ip string) (*rate.Limiter, rate.Limit) {
	l.mu.RLock()
	if !l.enabled {
		l.mu.RUnlock()
		return nil, 0
	}
	limit := l.rate
	if c, exists := l.clients[ip]; exists {
		// Refreshing lastSeen once per minute is enough to stay clear of
		// the three minute eviction.
		if time.Since(c.lastSeen) > 1*time.Minute {
			l.mu.RUnlock()
			l.mu.Lock()
			c.lastSeen = time.Now()
			l.mu.Unlock()
		} else {
			l.mu.RUnlock()
		}
		return c.limiter, limit
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock.
	if c, exists := l.clients[ip]; exists {
		c.lastSeen = time.Now()
		return c.limiter, l.rate
	}

	limiter := rate.NewLimiter(l.rate, l.burst)
	l.clients[ip] = &client{limiter: limiter, lastSeen: time.Now()}
	return limiter, l.rate
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictIdle(3 * time.Minute)
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) evictIdle(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, c := range l.clients {
		if time.Since(c.lastSeen) > idle {
			delete(l.clients, ip)
			n++
		}
	}
	return n
}

// ClientEntry is the state of one client bucket.
type ClientEntry struct {
	IP       string    `json:"ip"`
	Tokens   float64   `json:"tokens"`
	LastSeen time.Time `json:"last_seen"`
}

// Snapshot returns the tracked clients sorted by IP.
func (l *Limiter) Snapshot() []ClientEntry {
	l.mu.RLock()
	entries := make([]ClientEntry, 0, len(l.clients))
	for ip, c := range l.clients {
		entries = append(entries, ClientEntry{IP: ip, Tokens: c.limiter.Tokens(), LastSeen: c.lastSeen})
	}
	l.mu.RUnlock()

	slices.SortFunc(entries, func(a, b ClientEntry) int { return strings.Compare(a.IP, b.IP) })
	return entries
}
