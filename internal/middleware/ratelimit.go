package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/liuwenjie/lumina/backend/pkg/utils"
)

// RateLimitConfig describes a per-source-address token bucket, expressed
// as a request budget over a window (e.g. 100 requests / 15 minutes).
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// DefaultRateLimitConfig matches the public proxy deployment.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests: 100,
		Window:   15 * time.Minute,
		Burst:    20,
	}
}

// visitor pairs a bucket with its last activity so idle entries can be
// evicted.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit creates a per-IP limiting middleware. Rejections carry a
// structured {error} body.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	limit := rate.Every(cfg.Window / time.Duration(cfg.Requests))

	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)

	// Sweep buckets idle for two full windows; the map stays bounded by
	// the number of recently active sources.
	go func() {
		ticker := time.NewTicker(cfg.Window)
		defer ticker.Stop()
		for range ticker.C {
			cutoff := time.Now().Add(-2 * cfg.Window)
			mu.Lock()
			for ip, v := range visitors {
				if v.lastSeen.Before(cutoff) {
					delete(visitors, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			mu.Lock()
			v, ok := visitors[ip]
			if !ok {
				v = &visitor{limiter: rate.NewLimiter(limit, cfg.Burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			allowed := v.limiter.Allow()
			mu.Unlock()

			if !allowed {
				utils.RespondError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP keys the bucket by source address only. RemoteAddr is ip:port
// on a direct connection; forwarded addresses substituted by chi's RealIP
// carry no port and pass through SplitHostPort's error path unchanged.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
