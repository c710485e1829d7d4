package rpc

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"homeescrow/observability"
)

const visitorTTL = 5 * time.Minute

// RateLimitConfig bounds requests per client address. A zero rate disables
// limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	cfg        RateLimitConfig
	trustProxy bool
	log        *slog.Logger

	mu       sync.Mutex
	visitors map[string]*visitor
	clockNow func() time.Time
}

// NewRateLimiter returns a limiter for cfg.
func NewRateLimiter(cfg RateLimitConfig, trustProxy bool, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RateLimiter{
		cfg:        cfg,
		trustProxy: trustProxy,
		log:        log,
		visitors:   make(map[string]*visitor),
		clockNow:   time.Now,
	}
}

// Middleware rejects requests over the client's budget with a JSON-RPC
// error.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.cfg.RequestsPerSecond <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		source := clientSource(r, l.trustProxy)
		if !l.allow(source) {
			observability.RPC().RecordThrottle("rate_limit")
			l.log.Warn("rpc request throttled", slog.String("reason", "rate_limit"))
			w.Header().Set("Content-Type", "application/json")
			writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(source string) bool {
	if source == "" {
		source = "unknown"
	}
	now := l.clockNow()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(l.visitors, id)
		}
	}
	v, ok := l.visitors[source]
	if !ok {
		burst := l.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), burst)}
		l.visitors[source] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}
