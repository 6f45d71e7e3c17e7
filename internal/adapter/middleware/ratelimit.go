package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/brightloom/waypoint/internal/util"
)

// RateLimiter enforces a global and a per-client-IP token bucket. A zero
// perIPRequestsPerSecond disables per-IP limiting; a zero
// globalRequestsPerSecond disables the global limiter. Stale per-IP buckets
// are swept periodically so long-lived processes don't leak memory.
type RateLimiter struct {
	global *rate.Limiter

	mu                sync.Mutex
	perIP             map[string]*ipBucket
	perIPRate         float64
	burst             int
	trustProxyHeaders bool
	trustedCIDRs      []*net.IPNet

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type ipBucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter builds a limiter. Pass 0 for either rate to disable that
// tier.
func NewRateLimiter(globalRequestsPerSecond, perIPRequestsPerSecond float64, burst int, trustProxyHeaders bool, trustedCIDRs []*net.IPNet) *RateLimiter {
	rl := &RateLimiter{
		perIP:             make(map[string]*ipBucket),
		perIPRate:         perIPRequestsPerSecond,
		burst:             burst,
		trustProxyHeaders: trustProxyHeaders,
		trustedCIDRs:      trustedCIDRs,
		cleanupTicker:     time.NewTicker(5 * time.Minute),
		stopCleanup:       make(chan struct{}),
	}
	if globalRequestsPerSecond > 0 {
		rl.global = rate.NewLimiter(rate.Limit(globalRequestsPerSecond), burst)
	}
	go rl.cleanupRoutine()
	return rl
}

// Handler returns a request-phase middleware handler enforcing the limits.
// It writes a 429 response and halts the chain when a bucket is exhausted.
func (rl *RateLimiter) Handler() func(http.ResponseWriter, *http.Request) bool {
	return func(w http.ResponseWriter, r *http.Request) bool {
		if rl.global != nil && !rl.global.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return false
		}
		if rl.perIPRate <= 0 {
			return true
		}
		ip := util.GetClientIP(r, rl.trustProxyHeaders, rl.trustedCIDRs)
		if !rl.allowIP(ip) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return false
		}
		return true
	}
}

func (rl *RateLimiter) allowIP(ip string) bool {
	rl.mu.Lock()
	b, ok := rl.perIP[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(rate.Limit(rl.perIPRate), rl.burst)}
		rl.perIP[ip] = b
	}
	b.lastAccess = time.Now()
	limiter := b.limiter
	rl.mu.Unlock()

	return limiter.Allow()
}

func (rl *RateLimiter) cleanupRoutine() {
	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-rl.cleanupTicker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimiter) evictStale() {
	cutoff := time.Now().Add(-10 * time.Minute)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.perIP {
		if b.lastAccess.Before(cutoff) {
			delete(rl.perIP, ip)
		}
	}
}

// Stop halts the background cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCleanup)
	})
}
