package api

import (
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-IP request throttling
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration // idle entries older than 2x this are dropped
}

// DefaultRateLimitConfig returns production-safe defaults
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 30, // input submissions arrive at tick cadence
	Burst:             60,
	CleanupInterval:   5 * time.Minute,
}

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter throttles HTTP requests per client IP using a token
// bucket per address. This is transport-level backpressure only;
// per-actor input rate limiting happens inside the match validator.
type IPRateLimiter struct {
	mu       sync.Mutex
	entries  map[string]*ipEntry
	config   RateLimitConfig
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter creates a limiter and starts its eviction loop
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{
		entries:  make(map[string]*ipEntry),
		config:   cfg,
		stopChan: make(chan struct{}),
	}
	go rl.evictLoop()
	return rl
}

// Stop terminates the eviction loop
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
}

// Allow reports whether a request from ip fits its token bucket
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	entry, ok := rl.entries[ip]
	if !ok {
		entry = &ipEntry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst),
		}
		rl.entries[ip] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

func (rl *IPRateLimiter) evictLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

// evictIdle drops entries for addresses that went quiet, so a churn
// of one-shot clients cannot grow the map without bound
func (rl *IPRateLimiter) evictIdle() {
	cutoff := time.Now().Add(-2 * rl.config.CleanupInterval)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, entry := range rl.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.entries, ip)
		}
	}
}

// Middleware rejects over-limit requests with 429 before they reach
// the router
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClientIP extracts the client IP from an HTTP request, honoring
// proxy headers. X-Forwarded-For is trusted as-is, so the server must
// sit behind a proxy that rewrites it.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First hop is the original client
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// WebSocketRateLimiter caps concurrent spectator connections per IP
type WebSocketRateLimiter struct {
	mu       sync.Mutex
	counts   map[string]int
	maxPerIP int
}

// NewWebSocketRateLimiter creates a WebSocket connection limiter
func NewWebSocketRateLimiter(maxPerIP int) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{
		counts:   make(map[string]int),
		maxPerIP: maxPerIP,
	}
}

// Allow claims a connection slot for ip; the caller must pair a
// successful claim with Release
func (wrl *WebSocketRateLimiter) Allow(ip string) bool {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()

	if wrl.counts[ip] >= wrl.maxPerIP {
		return false
	}
	wrl.counts[ip]++
	return true
}

// Release returns a connection slot for ip
func (wrl *WebSocketRateLimiter) Release(ip string) {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()

	if wrl.counts[ip] <= 1 {
		delete(wrl.counts, ip)
		return
	}
	wrl.counts[ip]--
}

// GetConnectionCount returns the open connection count for ip
func (wrl *WebSocketRateLimiter) GetConnectionCount(ip string) int {
	wrl.mu.Lock()
	defer wrl.mu.Unlock()
	return wrl.counts[ip]
}

// allowedOrigins holds the extra origins permitted for CORS and
// WebSocket upgrades, beyond localhost. Populated from the
// ALLOWED_ORIGINS env var (comma-separated) at startup.
var allowedOrigins = loadAllowedOrigins()

func loadAllowedOrigins() []string {
	raw := os.Getenv("ALLOWED_ORIGINS")
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// IsAllowedOrigin checks if an origin may open spectator connections
func IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}

	// Localhost on any port is always fine for development
	if strings.HasPrefix(origin, "http://localhost") || strings.HasPrefix(origin, "http://127.0.0.1") {
		return true
	}

	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	return false
}
